package protocol

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jllopis/hive/pkg/errors"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the per-server circuit breaker guarding tool
// calls. Zero values select the defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures before the
	// circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
	// Interval clears failure counts while closed.
	Interval time.Duration
}

func newBreaker(server string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[*Response] {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultBreakerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "tools:" + server,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: breakerSuccess,
	})
}

// breakerSuccess counts only transport failures against the server.
// Timeouts, cancellations and auth problems say nothing about its health.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return true
	}
	if errors.IsCode(err, errors.CodeUnauthorized) {
		return true
	}
	return !errors.IsCode(err, errors.CodeTransport)
}
