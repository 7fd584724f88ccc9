package swarm

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// NewCorrelationID generates an opaque correlation id. Assigned once at the
// point a request enters the system and threaded unchanged through every hop.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a context carrying the given correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the correlation id carried by ctx, or "".
func CorrelationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
