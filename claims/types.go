/*
Package claims provides the core expense reimbursement engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking employee
  expense claims and settling them against incoming payments. The claim store
  holds durable claim state; the settlement engine allocates a lump payment
  across a user's approved claims, oldest first.

KEY CONCEPTS IN THIS FILE (types.go):
  - Claim: A submitted expense with an original amount and a remaining balance
  - Status: The claim lifecycle (Pending -> Approved/Rejected, Approved -> Paid)
  - User: An account with a role and an optional leader (two-level hierarchy)
  - SettlementResult: What a settlement pass touched and how much it applied

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for money, never float64
  2. Monotonic IDs: Claim IDs increase in creation order and double as the
     FIFO ordering key for settlement
  3. Status discipline: Transitions are validated; Rejected and Paid are
     terminal
  4. Optimistic versioning: Every claim carries a version for conflict
     detection on write-back

USAGE:
  claim := claims.NewClaim("user-1", decimal.NewFromInt(100))
  engine := claims.NewEngine(store, logger)
  result, err := engine.Settle(ctx, "user-1", decimal.NewFromInt(120))

SEE ALSO:
  - settlement.go: The FIFO allocation algorithm
  - store.go: Persistence interfaces
  - review.go: Approve/reject workflow
  - authz.go: Capability checks for callers
*/
package claims

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Claim lifecycle
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaid     Status = "paid"
)

// CanTransitionTo reports whether the status transition is valid.
// Pending may become Approved or Rejected (reviewer decision).
// Approved may become Paid (settlement engine only, when remaining hits zero).
// Rejected and Paid are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusPaid
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusPaid
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// =============================================================================
// ROLE - Two-level organizational hierarchy
// =============================================================================

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleTeamLead Role = "teamlead"
	RoleMember   Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeamLead, RoleMember:
		return true
	}
	return false
}

// =============================================================================
// CLAIM - One submitted expense
// =============================================================================

// Claim is a single expense reimbursement claim.
//
// ID is assigned by the store, monotonically increasing in creation order.
// Ascending ID is the canonical "oldest first" order for settlement.
//
// Invariant: 0 <= Remaining <= Amount. Remaining is initialized to Amount at
// creation and only ever decreases (the settlement engine is the sole writer).
type Claim struct {
	ID        int64
	OwnerID   string
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Status    Status

	// Descriptive payload, opaque to the settlement logic.
	Date       string
	Category   string
	Region     string
	Comment    string
	ReceiptRef string

	// Version increments on every write. Used for optimistic conflict
	// detection between the settlement read and write-back.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewClaim builds a pending claim with Remaining initialized to Amount.
// The ID is assigned by the store on create.
func NewClaim(ownerID string, amount decimal.Decimal) Claim {
	return Claim{
		OwnerID:   ownerID,
		Amount:    amount,
		Remaining: amount,
		Status:    StatusPending,
	}
}

// Outstanding reports whether the claim is approved with a balance left.
func (c Claim) Outstanding() bool {
	return c.Status == StatusApproved && c.Remaining.IsPositive()
}

// =============================================================================
// USER - Account with role and optional leader
// =============================================================================

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role

	// LeaderID links a member or team lead to their team lead.
	// Nil for admins and for leads without a leader of their own.
	LeaderID *string

	// CardNumber is where reimbursements are sent. Opaque payload.
	CardNumber string

	// MustChangePassword forces a password change on next login.
	// Set for newly created users and after an admin reset.
	MustChangePassword bool

	CreatedAt time.Time
}

// =============================================================================
// SETTLEMENT RESULT - Outcome of one settlement pass
// =============================================================================

// SettlementResult describes the effect of a single Settle call.
//
// TotalApplied equals min(payment, total outstanding) for the owner.
// Discarded is the payment surplus beyond all outstanding balances; the
// engine does not carry it forward, so callers that care must inspect it.
type SettlementResult struct {
	FullyPaid     []int64
	PartiallyPaid *int64
	TotalApplied  decimal.Decimal
	Discarded     decimal.Decimal
}

// Touched reports how many claims were mutated by the pass.
func (r SettlementResult) Touched() int {
	n := len(r.FullyPaid)
	if r.PartiallyPaid != nil {
		n++
	}
	return n
}
