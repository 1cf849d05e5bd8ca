package dispatcher

import "errors"

// ErrTimeout is delivered to a ReplyCallback when the response deadline
// elapses with no correlated reply/result.
var ErrTimeout = errors.New("dispatcher: outstanding request timed out")

// ErrCancelled is delivered to every outstanding ReplyCallback when the
// owning Session aborts.
var ErrCancelled = errors.New("dispatcher: outstanding request cancelled")
