package middleware

import (
	"net/http"

	"github.com/crmtools/dedup-planner/pkg/requestid"
)

// RequestID takes the request id from the X-Request-Id header, or mints
// one, injects it into the request context and echoes it back in the
// response so clients can correlate.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestid.HeaderName)
		if reqID == "" {
			reqID = requestid.Generate()
		}

		ctx := requestid.ToContext(r.Context(), reqID)
		w.Header().Set(requestid.HeaderName, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
