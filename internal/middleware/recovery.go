package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"pantry-api/pkg/apierror"
	"pantry-api/pkg/response"
)

// Recovery turns a handler panic into a 500 envelope and logs the stack with
// the request ID so the two can be matched.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Printf("[Recovery] panic req=%s %s %s: %v\n%s",
				GetRequestID(r.Context()), r.Method, r.URL.Path, rec, debug.Stack())
			response.Error(w, apierror.InternalError(""))
		}()
		next.ServeHTTP(w, r)
	})
}
