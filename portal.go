// Package portal is the Go client for eportal captive-portal authentication.
//
// The module is split into two independent halves that only meet in the
// owner's glue code (see cmd/campusnet):
//  1. Client (this package) - stateless login/logout protocol client. Every
//     call returns a types.LoginOutcome; errors never escape.
//  2. watchdog.Watchdog - failure counter with a 3-strike circuit breaker,
//     a 5 minute reachability heartbeat and a 3 second debounced reaction to
//     connectivity changes. It asks the owner to relogin and is told the
//     result through ResetFailures / RecordFailure.
//
// Response parsing lives in package response, the operator suffix table in
// package operator.
package portal
