// Package audit relays security events to sinks asynchronously.
//
// The engine decides which events to emit; this package only buffers and
// delivers them.
package audit
