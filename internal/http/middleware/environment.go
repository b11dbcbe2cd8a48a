// Package middleware holds gateway middleware that is not provided by chi
package middleware

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/hlog"
)

// CodeForbiddenInProduction is the envelope error code for gated requests
const CodeForbiddenInProduction = "FORBIDDEN_IN_PRODUCTION"

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RequireNonProduction refuses the request with 403 when the gateway runs in
// production. The wrapped handler is never reached, so nothing is touched.
func RequireNonProduction(isProduction bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !isProduction {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hlog.FromRequest(r).Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("destructive request refused in production")

			var body errorBody
			body.Error.Code = CodeForbiddenInProduction
			body.Error.Message = "this operation is disabled in production"

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(body)
		})
	}
}
