/*
settlement.go - FIFO payment settlement engine

PURPOSE:
  Applies a single lump payment atomically against one user's outstanding
  approved claims, oldest first. This is the one piece of real logic in the
  system; everything around it is CRUD.

ALGORITHM:
  1. Load the owner's approved claims ascending by ID (oldest first)
  2. Walk the list, draining the payment:
     - payment covers the claim's remaining balance: claim fully settled,
       remaining = 0, status -> Paid
     - payment is smaller: claim partially settled, remaining reduced,
       status stays Approved, payment exhausted
  3. Stop as soon as the payment is exhausted; later claims are untouched
  4. Surplus beyond all outstanding balances is not carried forward; it is
     reported on the result and logged so callers can react

GUARANTEES:
  - Total remaining decrease == min(payment, total outstanding)
  - At most one claim ends partially settled per call
  - A claim becomes Paid iff its remaining reaches exactly zero
  - Zero or negative payments never mutate state
  - The whole pass runs in one per-owner transaction: a mid-loop store
    failure rolls everything back, never leaving a partial application

AUTHORIZATION:
  The engine itself is policy-free. Callers must verify the caller is a
  team lead over the target owner first (see authz.go).

SEE ALSO:
  - store.go: WithOwnerTx contract the engine relies on
  - authz.go: The capability check callers run before Settle
*/
package claims

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine settles payments against a claim store.
type Engine struct {
	store TxStore
	log   *slog.Logger
}

// NewEngine creates a settlement engine over the given store.
// A nil logger falls back to slog.Default().
func NewEngine(store TxStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, log: log}
}

// Settle applies payment against ownerID's approved claims, oldest first.
//
// A payment <= 0 is a no-op returning a zero result and no error; this is a
// guard against malformed input, not a failure. Positive payments are NOT
// idempotent: each call models one real money transfer, so callers must
// submit a payment exactly once.
//
// On any store failure the transaction rolls back entirely and a zero
// result is returned with the error.
func (e *Engine) Settle(ctx context.Context, ownerID string, payment decimal.Decimal) (SettlementResult, error) {
	result := SettlementResult{
		TotalApplied: decimal.Zero,
		Discarded:    decimal.Zero,
	}

	if !payment.IsPositive() {
		return result, nil
	}

	err := e.store.WithOwnerTx(ctx, ownerID, func(s Store) error {
		if _, err := s.GetUser(ctx, ownerID); err != nil {
			return err
		}

		approved, err := s.ClaimsByOwnerAndStatus(ctx, ownerID, StatusApproved)
		if err != nil {
			return fmt.Errorf("load approved claims: %w", err)
		}

		remaining := payment
		for i := range approved {
			if !remaining.IsPositive() {
				break
			}
			claim := approved[i]

			if remaining.GreaterThanOrEqual(claim.Remaining) {
				// Payment covers the whole claim.
				remaining = remaining.Sub(claim.Remaining)
				result.TotalApplied = result.TotalApplied.Add(claim.Remaining)
				claim.Remaining = decimal.Zero
				claim.Status = StatusPaid
				result.FullyPaid = append(result.FullyPaid, claim.ID)
			} else {
				// Payment covers part of the claim and is exhausted.
				claim.Remaining = claim.Remaining.Sub(remaining)
				result.TotalApplied = result.TotalApplied.Add(remaining)
				remaining = decimal.Zero
				id := claim.ID
				result.PartiallyPaid = &id
			}

			if err := s.UpdateClaim(ctx, &claim); err != nil {
				return fmt.Errorf("persist claim %d: %w", claim.ID, err)
			}
		}

		result.Discarded = remaining
		return nil
	})
	if err != nil {
		return SettlementResult{TotalApplied: decimal.Zero, Discarded: decimal.Zero}, err
	}

	if result.Discarded.IsPositive() {
		// Surplus beyond total outstanding debt is dropped, not refunded.
		// Surface it loudly; see SettlementResult.Discarded.
		e.log.Warn("settlement surplus discarded",
			"owner_id", ownerID,
			"payment", payment.String(),
			"applied", result.TotalApplied.String(),
			"discarded", result.Discarded.String(),
		)
	}

	e.log.Info("settlement applied",
		"owner_id", ownerID,
		"payment", payment.String(),
		"applied", result.TotalApplied.String(),
		"fully_paid", len(result.FullyPaid),
		"partial", result.PartiallyPaid != nil,
	)

	return result, nil
}
