/*
authz.go - Capability checks for callers

PURPOSE:
  A single authorization policy evaluated once before dispatch, expressed
  as a capability check over {caller, action, target owner}. Handlers call
  Authorize and never scatter role checks of their own.

POLICY SUMMARY:
  admin:     manage users, delete claims, view everything
  teamlead:  review and settle for themselves and their direct subordinates,
             view the same set, submit their own claims, view reports
  member:    submit and view their own claims

  Settlement in particular requires RoleTeamLead over self-or-subordinate;
  the settlement engine itself trusts that this check already ran.

SEE ALSO:
  - settlement.go: Trusts the caller was authorized
  - api/handlers.go: Evaluates Authorize before dispatch
*/
package claims

// Action is a capability a caller may or may not hold over a target user.
type Action string

const (
	ActionSubmitClaim Action = "submit_claim"
	ActionViewClaims  Action = "view_claims"
	ActionReviewClaim Action = "review_claim"
	ActionSettle      Action = "settle"
	ActionDeleteClaim Action = "delete_claim"
	ActionManageUsers Action = "manage_users"
	ActionViewReports Action = "view_reports"
)

// Caller is the authenticated identity performing an action. It is built by
// the request layer from the verified session and passed in explicitly;
// there is no ambient "current user" state anywhere in the engine.
type Caller struct {
	UserID string
	Role   Role
}

// Authorize decides whether caller may perform action against target.
// Returns nil when allowed, ErrForbidden otherwise.
func Authorize(caller Caller, action Action, target User) error {
	if caller.Role == RoleAdmin {
		if action == ActionReviewClaim || action == ActionSettle {
			// Money decisions stay with team leads even for admins.
			return ErrForbidden
		}
		return nil
	}

	switch action {
	case ActionSubmitClaim:
		if caller.UserID == target.ID {
			return nil
		}
	case ActionViewClaims:
		if caller.UserID == target.ID || leads(caller, target) {
			return nil
		}
	case ActionReviewClaim, ActionSettle:
		if caller.Role == RoleTeamLead && (caller.UserID == target.ID || leads(caller, target)) {
			return nil
		}
	case ActionViewReports:
		if caller.Role == RoleTeamLead {
			return nil
		}
	}
	return ErrForbidden
}

// leads reports whether caller is target's direct team lead.
func leads(caller Caller, target User) bool {
	return caller.Role == RoleTeamLead &&
		target.LeaderID != nil && *target.LeaderID == caller.UserID
}
