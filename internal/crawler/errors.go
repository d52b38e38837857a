package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds surfaced by the engine.
var (
	ErrTransport              = errors.New("transport error")
	ErrTimeout                = errors.New("fetch timed out")
	ErrRedirectChainExhausted = errors.New("redirect chain exhausted")
	ErrHandlerSetup           = errors.New("item handler setup")
	ErrContentTypeRejected    = errors.New("content type rejected")
)

// FetchError is returned once every attempt for a URL has failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d tries: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyAttemptError tags a raw attempt error as a timeout or transport failure.
func classifyAttemptError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
