package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS permits cross-origin calls from allowedOrigins ("*" for any origin)
// with any method and header.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIDHeader, "Retry-After"},
		MaxAge:         86400,
	})
}
