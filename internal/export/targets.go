package export

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/MrWong99/pokercoach/internal/analytics"
)

// ErrNotConfigured is returned by [Targets] when no destination is set.
var ErrNotConfigured = errors.New("export: not configured")

type targets struct {
	reporter   Reporter
	calibrator Calibrator
}

// Targets is a [Reporter] and [Calibrator] whose destinations can be
// replaced while in use, for instance after a configuration reload.
//
// The zero value has neither destination. Targets is safe for concurrent use.
type Targets struct {
	cur atomic.Pointer[targets]
}

var (
	_ Reporter   = (*Targets)(nil)
	_ Calibrator = (*Targets)(nil)
)

// Set replaces both destinations. A nil value unsets it.
func (t *Targets) Set(r Reporter, c Calibrator) {
	t.cur.Store(&targets{reporter: r, calibrator: c})
}

// Configured reports which destinations are set.
func (t *Targets) Configured() (report, calibrate bool) {
	cur := t.cur.Load()
	if cur == nil {
		return false, false
	}
	return cur.reporter != nil, cur.calibrator != nil
}

// Report implements [Reporter].
func (t *Targets) Report(ctx context.Context, in analytics.ReportInput) (Report, error) {
	cur := t.cur.Load()
	if cur == nil || cur.reporter == nil {
		return nil, ErrNotConfigured
	}
	return cur.reporter.Report(ctx, in)
}

// Calibrate implements [Calibrator].
func (t *Targets) Calibrate(ctx context.Context, in analytics.CalibrationInput) error {
	cur := t.cur.Load()
	if cur == nil || cur.calibrator == nil {
		return ErrNotConfigured
	}
	return cur.calibrator.Calibrate(ctx, in)
}
