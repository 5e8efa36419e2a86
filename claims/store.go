/*
store.go - Persistence interfaces for claims and users

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  ClaimStore: Claim CRUD plus the ordered-filtered query the settlement
              engine scans
  UserStore:  User CRUD and subordinate lookups
  Store:      Both of the above
  TxStore:    Per-owner transactional execution for atomic settlement

ORDERING CONTRACT:
  ClaimsByOwnerAndStatus returns claims ascending by ID. IDs are assigned
  monotonically at creation, so ascending ID is a stable, total
  oldest-first order (no ties).

PER-OWNER SERIALIZATION:
  WithOwnerTx serializes read-modify-write cycles per owner: two concurrent
  settlements for the same owner never interleave, while settlements for
  different owners proceed independently. If fn returns an error the whole
  transaction rolls back; partial application is never persisted.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - claims/store: In-memory for testing

SEE ALSO:
  - settlement.go: The engine driving WithOwnerTx
*/
package claims

import "context"

// =============================================================================
// CLAIM STORE
// =============================================================================

// ClaimStore handles persistence of claims.
type ClaimStore interface {
	// CreateClaim persists a new claim and assigns its ID.
	// Returns ErrUserNotFound if the owner does not exist.
	CreateClaim(ctx context.Context, c *Claim) error

	// GetClaim returns a claim by ID, or ErrClaimNotFound.
	GetClaim(ctx context.Context, id int64) (Claim, error)

	// ListClaimsByOwner returns all claims for an owner, newest first.
	ListClaimsByOwner(ctx context.Context, ownerID string) ([]Claim, error)

	// ClaimsByOwnerAndStatus returns the owner's claims with the given status,
	// ascending by ID. Returns an empty slice (not an error) when none match.
	ClaimsByOwnerAndStatus(ctx context.Context, ownerID string, status Status) ([]Claim, error)

	// ListClaimsByStatus returns claims with the given status for any of the
	// listed owners, ascending by ID. Used for review queues.
	ListClaimsByStatus(ctx context.Context, ownerIDs []string, status Status) ([]Claim, error)

	// UpdateClaim persists mutated Remaining and Status for an existing claim.
	// The claim's Version must match the stored version; on mismatch the
	// stored row is untouched and ErrConcurrentModification is returned.
	// Returns ErrClaimNotFound if the claim no longer exists.
	// On success the claim's Version is incremented in place.
	UpdateClaim(ctx context.Context, c *Claim) error

	// DeleteClaim removes a claim. Administrative side-channel; the
	// settlement engine never deletes.
	DeleteClaim(ctx context.Context, id int64) error
}

// =============================================================================
// USER STORE
// =============================================================================

// UserStore handles persistence of user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// UpdateUser persists all mutable user fields. ErrClaimNotFound is never
	// returned here; a missing user yields ErrUserNotFound.
	UpdateUser(ctx context.Context, u *User) error

	// ListSubordinates returns users whose LeaderID equals leaderID.
	ListSubordinates(ctx context.Context, leaderID string) ([]User, error)
}

// =============================================================================
// COMBINED + TRANSACTIONAL STORE
// =============================================================================

// Store combines claim and user persistence.
type Store interface {
	ClaimStore
	UserStore
}

// TxStore adds per-owner transactional execution.
type TxStore interface {
	Store

	// WithOwnerTx executes fn within a transaction serialized on ownerID.
	// If fn returns an error the transaction is rolled back; otherwise it
	// commits. Calls for distinct owners do not block each other.
	WithOwnerTx(ctx context.Context, ownerID string, fn func(Store) error) error
}
