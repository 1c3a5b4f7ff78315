package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/reportql/internal/fieldloader"
	"github.com/rpattn/reportql/internal/repository"
)

type ctxKey string

const (
	fieldLoaderKey ctxKey = "fieldLoader"
	requestIDKey   ctxKey = "requestID"
)

// DataLoaderMiddleware attaches a request-scoped field metadata loader to the
// request context.
func DataLoaderMiddleware(repo repository.FieldMetaRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := fieldloader.NewFieldLoader(repo)
			ctx := WithFieldLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithFieldLoader stores loader in ctx.
func WithFieldLoader(ctx context.Context, loader *fieldloader.FieldLoader) context.Context {
	return context.WithValue(ctx, fieldLoaderKey, loader)
}

// FieldLoaderFromContext retrieves the field loader from context
func FieldLoaderFromContext(ctx context.Context) *fieldloader.FieldLoader {
	if l, ok := ctx.Value(fieldLoaderKey).(*fieldloader.FieldLoader); ok {
		return l
	}
	return nil
}
