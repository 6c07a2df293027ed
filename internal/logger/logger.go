// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// orgIDKey is the context key for the tenant scoping an operation.
type orgIDKey struct{}

// New creates a new structured JSON logger.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// WithOrgID returns a new context tagged with the tenant.
func WithOrgID(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

// OrgIDFromContext extracts the tenant from the context.
func OrgIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(orgIDKey{}).(uuid.UUID)
	return v, ok
}

// FromContext returns a logger with context fields (org ID, etc.) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if orgID, ok := OrgIDFromContext(ctx); ok {
		return base.With("org_id", orgID.String())
	}
	return base
}
