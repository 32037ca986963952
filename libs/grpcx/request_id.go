package grpcx

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDMetadataKey carries the request id over gRPC metadata.
// Lowercase, as gRPC metadata keys must be.
const RequestIDMetadataKey = "x-request-id"

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func NewRequestID() string {
	return uuid.NewString()
}
