package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows any origin. Browsers reach the API directly and credentials
// travel in headers, not cookies.
func CORS(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(next)
}
