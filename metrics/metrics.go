// Package metrics records agent event counters and operation latencies.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter names emitted by the agent.
const (
	CounterChallengeParsed   = "challenge_parsed"
	CounterChallengeRejected = "challenge_rejected"
	CounterAutoApproved      = "auto_approved"
	CounterDeferred          = "deferred"
	CounterDenied            = "denied"
	CounterSigned            = "authorization_signed"
	CounterSettled           = "settlement_success"
	CounterSettlementFailed  = "settlement_failed"
)
