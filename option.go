package agent

import (
	"time"

	"github.com/vitwit/x402-agent/authz"
	"github.com/vitwit/x402-agent/logger"
	"github.com/vitwit/x402-agent/metrics"
	"github.com/vitwit/x402-agent/pending"
	"github.com/vitwit/x402-agent/wallet"
)

type Option func(*Agent)

func WithLogger(l logger.Logger) Option {
	return func(a *Agent) {
		a.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(a *Agent) {
		a.metrics = r
	}
}

// WithTimeout overrides the per-dispatch timeout.
func WithTimeout(t time.Duration) Option {
	return func(a *Agent) {
		a.timeout = t
	}
}

// WithClock injects the time source used for TTLs, lock expiry, and policy
// resets. Tests use this for determinism.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
		a.pending = pending.NewStoreWithClock(now)
		a.wallet = wallet.NewManagerWithClock(now)
		a.builder = authz.NewBuilderWithSources(authz.NowFunc(now), authz.DefaultNonce)
	}
}
