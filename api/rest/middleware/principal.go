package middleware

import (
	"context"
	"net/http"
	"strings"

	"collab-jobs/api/rest/respond"
	"collab-jobs/core/apperror"
	"collab-jobs/core/audit"
)

// Headers set by the upstream authentication proxy
const (
	HeaderOrgID        = "X-Org-Id"
	HeaderSubjectID    = "X-Subject-Id"
	HeaderRole         = "X-Role"
	HeaderAPIKeyID     = "X-Api-Key-Id"
	HeaderAPIKeyScopes = "X-Api-Key-Scopes"
)

// Principal is the authenticated caller of a request
type Principal struct {
	OrgID     string
	SubjectID string
	Role      string
	APIKeyID  string
	Scopes    []string
}

// Actor converts the principal into an audit actor
func (p Principal) Actor() audit.Actor {
	if p.APIKeyID != "" {
		return audit.Actor{OrgID: p.OrgID, KeyID: p.APIKeyID, Kind: "api_key"}
	}
	return audit.Actor{OrgID: p.OrgID, SubjectID: p.SubjectID, Kind: "user"}
}

type principalKey struct{}

// PrincipalFrom returns the principal stored by Authenticate
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithPrincipal stores p in ctx along with its audit actor
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return audit.WithActor(ctx, p.Actor())
}

// Authenticate reads the principal headers and rejects requests without an org
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := Principal{
			OrgID:     strings.TrimSpace(r.Header.Get(HeaderOrgID)),
			SubjectID: strings.TrimSpace(r.Header.Get(HeaderSubjectID)),
			Role:      strings.TrimSpace(r.Header.Get(HeaderRole)),
			APIKeyID:  strings.TrimSpace(r.Header.Get(HeaderAPIKeyID)),
		}
		if p.OrgID == "" {
			respond.Error(w, apperror.New(http.StatusUnauthorized, apperror.CodeUnauthorized, "missing principal"))
			return
		}
		for _, scope := range strings.Split(r.Header.Get(HeaderAPIKeyScopes), ",") {
			if scope = strings.TrimSpace(scope); scope != "" {
				p.Scopes = append(p.Scopes, scope)
			}
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
