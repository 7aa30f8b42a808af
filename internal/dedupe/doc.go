// Package dedupe remembers recently used idempotency keys so a retried
// message submission within a configurable window resolves to the message
// the first attempt created.
package dedupe
