// Package dedupe provides a TTL cache for remembering recently settled keys.
//
// The correlation bridge records finished request ids (with the reason they
// finished) so that a reply arriving after its timeout is recognised as late
// rather than unknown, and records connection handles that have already
// disconnected so that a registration dispatched after the disconnect does
// not install a dead mapping.
package dedupe
