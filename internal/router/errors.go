package router

import "errors"

// ErrDeliveryFailed wraps a store append failure. Retryable by the
// client; the router itself never retries, to avoid silent duplicate
// writes.
var ErrDeliveryFailed = errors.New("message could not be persisted")
