package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/aegis-platform/aegis/internal/shared"
)

// PrincipalResolver extracts the acting principal from a request, typically
// from a session or a verified token.
type PrincipalResolver func(r *http.Request) (int64, error)

// RequireAny guards a handler chain: the request proceeds when the principal
// holds at least one of the named permissions.
func (s *Service) RequireAny(resolve PrincipalResolver, names ...string) func(http.Handler) http.Handler {
	return s.requirePermissions(resolve, names, s.CheckAny)
}

// RequireAll guards a handler chain: the request proceeds only when the
// principal holds every named permission.
func (s *Service) RequireAll(resolve PrincipalResolver, names ...string) func(http.Handler) http.Handler {
	return s.requirePermissions(resolve, names, s.CheckAll)
}

func (s *Service) requirePermissions(
	resolve PrincipalResolver,
	names []string,
	check func(ctx context.Context, principalID int64, names []string, opts CheckOptions) (bool, error),
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, err := resolve(r)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			allowed, err := check(r.Context(), principalID, names, CheckOptions{})
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
