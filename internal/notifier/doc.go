// Package notifier delivers reminder content to a user's address.
//
// Delivery is synchronous: one Deliver call is one attempt with one outcome.
// The Service adds a token-bucket rate limit, a per-send timeout, a short
// in-memory history and bus events around a Transport (SMTP or log-only).
// It never retries; the scheduler retries implicitly on its next tick.
package notifier
