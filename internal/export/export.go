// Package export delivers analytics aggregates to the two external
// collaborators of the coach: the decision-transfer reporter and the
// opponent calibration endpoint of the table service.
//
// Both clients accept only the narrow input types from the analytics package,
// so no per-move detail can be sent.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/pokercoach/internal/analytics"
)

const defaultTimeout = 10 * time.Second

// Report is the reporter's response. Its structure belongs to the reporter
// and is passed through untouched.
type Report = json.RawMessage

// Reporter turns aggregates into a decision-transfer report.
type Reporter interface {
	Report(ctx context.Context, in analytics.ReportInput) (Report, error)
}

// Calibrator configures opponent aggression from the hero's aggression index.
type Calibrator interface {
	Calibrate(ctx context.Context, in analytics.CalibrationInput) error
}

// Option configures the HTTP clients in this package.
type Option func(*client)

// WithHTTPClient replaces the default HTTP client (10 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) { cl.http = c }
}

type client struct {
	url  string
	http *http.Client
}

func newClient(url string, opts []Option) (client, error) {
	if url == "" {
		return client{}, errors.New("export: url must not be empty")
	}
	c := client{url: url, http: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(&c)
	}
	return c, nil
}

// post sends v as JSON and returns the response body for 2xx answers.
func (c client) post(ctx context.Context, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return data, nil
}

// HTTPReporter posts [analytics.ReportInput] to a reporting service.
type HTTPReporter struct{ c client }

var _ Reporter = (*HTTPReporter)(nil)

// NewHTTPReporter returns a reporter posting to url.
func NewHTTPReporter(url string, opts ...Option) (*HTTPReporter, error) {
	c, err := newClient(url, opts)
	if err != nil {
		return nil, err
	}
	return &HTTPReporter{c: c}, nil
}

// Report implements [Reporter].
func (r *HTTPReporter) Report(ctx context.Context, in analytics.ReportInput) (Report, error) {
	data, err := r.c.post(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("export: report: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("export: report: response is not JSON")
	}
	return Report(data), nil
}

// HTTPCalibrator posts [analytics.CalibrationInput] to the table service.
type HTTPCalibrator struct{ c client }

var _ Calibrator = (*HTTPCalibrator)(nil)

// NewHTTPCalibrator returns a calibrator posting to url.
func NewHTTPCalibrator(url string, opts ...Option) (*HTTPCalibrator, error) {
	c, err := newClient(url, opts)
	if err != nil {
		return nil, err
	}
	return &HTTPCalibrator{c: c}, nil
}

// Calibrate implements [Calibrator].
func (c *HTTPCalibrator) Calibrate(ctx context.Context, in analytics.CalibrationInput) error {
	if _, err := c.c.post(ctx, in); err != nil {
		return fmt.Errorf("export: calibrate: %w", err)
	}
	return nil
}
