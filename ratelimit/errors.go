package ratelimit

import "errors"

// ErrMaxWaitExceeded is returned by Acquire when the computed wait would
// exceed Options.MaxWaitPerAcquire. The dispatch engine treats it as a
// terminal failure for the item: it is not retried, and the engine's
// IsRetryable predicate is not consulted for it.
var ErrMaxWaitExceeded = errors.New("ratelimit: max wait per acquire exceeded")
