package middleware

import (
	"crypto/subtle"
	"net/http"

	"collab-jobs/api/rest/respond"
	"collab-jobs/core/apperror"
	"collab-jobs/core/audit"
)

// HeaderWebhookSecret carries the shared secret on adapter callbacks
const HeaderWebhookSecret = "X-Webhook-Secret"

// RequireSecret rejects callbacks whose secret header does not match. An empty
// secret disables the check.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(HeaderWebhookSecret)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					respond.Error(w, apperror.New(http.StatusUnauthorized, apperror.CodeUnauthorized, "invalid webhook secret"))
					return
				}
			}
			ctx := audit.WithActor(r.Context(), audit.Actor{Kind: "webhook"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
