package risk

import (
	"log/slog"
	"time"

	"github.com/ggonzalez94/solagent/internal/logging"
)

type options struct {
	now   func() time.Time
	store StateStore
	log   *slog.Logger
	audit *slog.Logger
}

// Option configures a Breaker or Manager.
type Option func(*options)

// WithClock injects the time source used for UTC-day windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStateStore persists breaker state across processes.
func WithStateStore(store StateStore) Option {
	return func(o *options) { o.store = store }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithAuditLogger overrides where vetoes, trips and resets are recorded.
func WithAuditLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.audit = log
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Named("risk")
	}
	if o.audit == nil {
		o.audit = logging.Audit()
	}
	return o
}
