// Package types defines the shared outcome, status and callback types.
package types

import (
	"context"
	"time"
)

// Kind classifies how a portal call ended.
type Kind int

const (
	KindNone                   Kind = iota // success
	KindNetworkUnreachable                 // transport-level connect failure
	KindTimeout                            // no response within the bound
	KindProtocolError                      // body matched no known marker
	KindAuthenticationRejected             // server reported an account problem
	KindUnknown                            // anything else
)

// String returns the metric/log label of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindTimeout:
		return "timeout"
	case KindProtocolError:
		return "protocol_error"
	case KindAuthenticationRejected:
		return "authentication_rejected"
	default:
		return "unknown"
	}
}

// LoginOutcome is the result of every login/logout call.
// It is always populated, even when the call failed internally.
type LoginOutcome struct {
	Success bool
	Message string
	Kind    Kind
}

// Trigger names the watchdog source that requested a relogin.
type Trigger string

const (
	TriggerConnectivity Trigger = "connectivity"
	TriggerHeartbeat    Trigger = "heartbeat"
)

// Status is one watchdog status notification.
type Status struct {
	Time    time.Time
	Trigger Trigger // empty for breaker notifications
	Message string
	Fault   bool // true when produced from a recovered fault
}

// ReloginFunc performs one authentication attempt on behalf of the watchdog.
// The implementation must report the outcome back via ResetFailures or RecordFailure.
type ReloginFunc func(ctx context.Context, trigger Trigger) error

// StatusFunc receives watchdog status notifications.
type StatusFunc func(Status)
