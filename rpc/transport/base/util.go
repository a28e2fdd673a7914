package base

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

var (
	errNotConnected = errors.New("connection is closed")
	errTimeout      = errors.New("request timed out")
)

// retryableError marks failures that happened before a request reached the
// server, so sending it again can not apply it twice.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func isRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// backoff sleeps for the given attempt with exponential growth and +-10% jitter.
func backoff(attempt int) {
	backoffMs := 50 << attempt
	jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
	time.Sleep(time.Duration(jitter) * time.Millisecond)
}

// replyError converts an error reply received during the handshake.
func replyError(cmd string, msg string) error {
	return fmt.Errorf("%s failed: %s", cmd, msg)
}
