package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Message is one turn of a chat exchange. Role is "system", "user", or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a chat response plus whatever usage accounting the provider
// reports. Token counts are zero when the provider omits them.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider abstracts the model backend. Both calls block until the provider
// answers or ctx is done.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (Completion, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// StatusError is an HTTP-level provider failure. It keeps the status code so
// the retry layer can tell throttling and server faults from hard errors.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a failed call is worth repeating: throttling,
// server-side faults, and network timeouts. Anything else (bad request,
// auth failure, malformed response) fails fast.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
