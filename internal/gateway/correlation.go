// ABOUTME: Correlation id assignment and propagation for every request
// ABOUTME: Honors a client-sent X-Correlation-Id header, otherwise mints one

package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// correlationHeader carries the correlation id on requests and responses.
// Correlation ids never appear in response bodies.
const correlationHeader = "X-Correlation-Id"

// maxCorrelationIDLength bounds client-supplied ids so they stay usable as
// log fields.
const maxCorrelationIDLength = 128

type correlationContextKey struct{}

// withCorrelation assigns each request a correlation id and reflects it on
// the response. A client-sent id is honored so retries correlate across
// attempts; anything oversized is replaced.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" || len(id) > maxCorrelationIDLength {
			id = uuid.NewString()
		}

		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationContextKey{}, id)))
	})
}

// correlationID returns the request's correlation id, or "" outside a
// request context.
func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationContextKey{}).(string)
	return id
}
