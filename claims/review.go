/*
review.go - Reviewer approve/reject workflow

PURPOSE:
  A team lead's decision over a pending claim. External to the settlement
  engine, but it owns the status transition rules: only Pending claims can
  be approved or rejected, and nothing here ever touches Remaining.

SEE ALSO:
  - types.go: Status.CanTransitionTo
  - settlement.go: The only code path that sets StatusPaid
*/
package claims

import "context"

// ApproveClaim transitions a pending claim to Approved, making it eligible
// for settlement. Returns InvalidTransitionError for any other state.
func ApproveClaim(ctx context.Context, s Store, id int64) (Claim, error) {
	return review(ctx, s, id, StatusApproved)
}

// RejectClaim transitions a pending claim to Rejected (terminal).
func RejectClaim(ctx context.Context, s Store, id int64) (Claim, error) {
	return review(ctx, s, id, StatusRejected)
}

func review(ctx context.Context, s Store, id int64, decision Status) (Claim, error) {
	claim, err := s.GetClaim(ctx, id)
	if err != nil {
		return Claim{}, err
	}

	if !claim.Status.CanTransitionTo(decision) {
		return Claim{}, &InvalidTransitionError{ClaimID: id, From: claim.Status, To: decision}
	}

	claim.Status = decision
	if err := s.UpdateClaim(ctx, &claim); err != nil {
		return Claim{}, err
	}
	return claim, nil
}
