/*
middleware.go - Authentication middleware and caller context

PURPOSE:
  Turns a bearer token into an explicit claims.Caller value carried in the
  request context. Handlers never read ambient session state; they pull the
  caller out of the context and pass it into the authorization policy.

The role embedded in the token is ignored for authorization decisions: the
user is re-read from the store on every request so role changes and deleted
accounts take effect immediately.

SEE ALSO:
  - claims/authz.go: The policy the extracted caller feeds into
  - auth/jwt.go: Token validation
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/expense-engine/claims"
)

type ctxKey int

const callerKey ctxKey = iota

// callerInfo is the authenticated identity plus the backing user record.
type callerInfo struct {
	Caller claims.Caller
	User   claims.User
}

// callerFrom extracts the authenticated caller from the request context.
func callerFrom(ctx context.Context) (callerInfo, bool) {
	info, ok := ctx.Value(callerKey).(callerInfo)
	return info, ok
}

// Authenticate validates the bearer token and loads the caller's user
// record into the request context. 401 on anything invalid.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			writeError(w, http.StatusUnauthorized, "Authorization token required", nil)
			return
		}

		tokenClaims, err := h.JWT.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		user, err := h.Store.GetUser(r.Context(), tokenClaims.UserID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unknown user", nil)
			return
		}

		info := callerInfo{
			Caller: claims.Caller{UserID: user.ID, Role: user.Role},
			User:   user,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, info)))
	})
}

// RequireFreshPassword blocks users flagged MustChangePassword from
// everything except the change-password endpoint.
func RequireFreshPassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := callerFrom(r.Context())
		if ok && info.User.MustChangePassword {
			writeError(w, http.StatusForbidden, "Password change required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
