package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pinger is a dependency that can be probed directly, such as a move-log
// database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Poller returns a checker for a background poller. It fails while the most
// recent poll failed or when no poll has succeeded within maxAge. A zero
// maxAge disables the age check.
func Poller(name string, status func() (lastSuccess time.Time, lastErr error), maxAge time.Duration) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		last, err := status()
		if err != nil {
			return err
		}
		if last.IsZero() {
			return errors.New("no successful poll yet")
		}
		if maxAge > 0 {
			if age := time.Since(last); age > maxAge {
				return fmt.Errorf("last successful poll %s ago", age.Round(time.Second))
			}
		}
		return nil
	}}
}

// Healthy returns a checker that fails when healthy reports false, for
// example when every transcriber circuit breaker is open.
func Healthy(name string, healthy func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !healthy() {
			return errors.New("unhealthy")
		}
		return nil
	}}
}
