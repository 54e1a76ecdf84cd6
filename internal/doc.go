// Package internal holds helpers private to posauth: random reset codes,
// constant-time comparison and client address extraction.
//
// Sub-packages: audit (async event dispatch), rate (request throttle),
// logging (zap setup), errutil (structured error logging), config (process
// configuration), httpapi (JSON boundary).
package internal
