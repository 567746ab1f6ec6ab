// Package governance wraps collaborator calls with runtime safety controls:
// per-call timeouts, transport retries with backoff, per-target circuit
// breakers, and per-target rate limits.
//
// Every failure leaving a CallPolicy is classified into the domain taxonomy
// (TimeoutError or TransportError) so callers can recover it into a
// placeholder result without inspecting transport details.
package governance
