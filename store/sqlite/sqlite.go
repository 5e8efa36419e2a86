/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements claims.Store and claims.TxStore using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:  Accounts with role and leader reference (two-level hierarchy)
  claims: Expense claims; INTEGER PRIMARY KEY gives monotonically increasing
          IDs, which double as the FIFO ordering key for settlement

REFERENTIAL INTEGRITY:
  claims.owner_id is a foreign key on users.id and foreign keys are enabled
  on open, so a claim can never reference a missing owner.

OPTIMISTIC VERSIONING:
  Every claim row carries a version column. UpdateClaim only writes when the
  caller's version matches; a mismatch means someone changed the row between
  read and write-back and surfaces as ErrConcurrentModification.

PER-OWNER SERIALIZATION:
  WithOwnerTx takes a process-local lock keyed by owner before opening the
  database transaction, so two settlements for the same owner never
  interleave their read-modify-write cycles while settlements for different
  owners proceed independently. The database transaction then makes the
  whole pass atomic: all claim updates commit together or not at all.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/expenses.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := claims.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - claims/store.go: Interface definitions
  - claims/settlement.go: The engine driving WithOwnerTx
  - claims/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/expense-engine/claims"
)

// Store implements claims.TxStore using SQLite.
type Store struct {
	db *sql.DB

	lockMu     sync.Mutex
	ownerLocks map[string]*sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between the settlement
	// write transaction and concurrent readers, and keeps :memory:
	// databases from silently becoming one-db-per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, ownerLocks: make(map[string]*sync.Mutex)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL COLLATE NOCASE UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		leader_id TEXT REFERENCES users(id),
		card_number TEXT,
		must_change_password BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_leader ON users(leader_id);

	-- Claims. INTEGER PRIMARY KEY AUTOINCREMENT assigns IDs monotonically
	-- in creation order, which is exactly the FIFO settlement order.
	CREATE TABLE IF NOT EXISTS claims (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		remaining TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		date TEXT,
		category TEXT,
		region TEXT,
		comment TEXT,
		receipt_ref TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: the settlement engine's ordered scan of approved claims.
	CREATE INDEX IF NOT EXISTS idx_claims_owner_status
		ON claims(owner_id, status, id ASC);
	CREATE INDEX IF NOT EXISTS idx_claims_status
		ON claims(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier abstracts *sql.DB and *sql.Tx so the same row logic serves both.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CLAIM STORE (claims.ClaimStore interface)
// =============================================================================

const claimColumns = `id, owner_id, amount, remaining, status, date, category,
	region, comment, receipt_ref, version, created_at, updated_at`

func (s *Store) CreateClaim(ctx context.Context, c *claims.Claim) error {
	return createClaim(ctx, s.db, c)
}

func createClaim(ctx context.Context, q querier, c *claims.Claim) error {
	now := time.Now().UTC()

	res, err := q.ExecContext(ctx, `
		INSERT INTO claims (owner_id, amount, remaining, status, date, category,
			region, comment, receipt_ref, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		c.OwnerID,
		c.Amount.String(),
		c.Remaining.String(),
		c.Status,
		c.Date, c.Category, c.Region, c.Comment, c.ReceiptRef,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return claims.ErrUserNotFound
		}
		return fmt.Errorf("failed to create claim: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read claim id: %w", err)
	}
	c.ID = id
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (s *Store) GetClaim(ctx context.Context, id int64) (claims.Claim, error) {
	return getClaim(ctx, s.db, id)
}

func getClaim(ctx context.Context, q querier, id int64) (claims.Claim, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)

	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return claims.Claim{}, claims.ErrClaimNotFound
	}
	return c, err
}

func (s *Store) ListClaimsByOwner(ctx context.Context, ownerID string) ([]claims.Claim, error) {
	return queryClaims(ctx, s.db,
		`SELECT `+claimColumns+` FROM claims WHERE owner_id = ? ORDER BY id DESC`,
		ownerID)
}

func (s *Store) ClaimsByOwnerAndStatus(ctx context.Context, ownerID string, status claims.Status) ([]claims.Claim, error) {
	return claimsByOwnerAndStatus(ctx, s.db, ownerID, status)
}

func claimsByOwnerAndStatus(ctx context.Context, q querier, ownerID string, status claims.Status) ([]claims.Claim, error) {
	return queryClaims(ctx, q,
		`SELECT `+claimColumns+` FROM claims WHERE owner_id = ? AND status = ? ORDER BY id ASC`,
		ownerID, status)
}

func (s *Store) ListClaimsByStatus(ctx context.Context, ownerIDs []string, status claims.Status) ([]claims.Claim, error) {
	return listClaimsByStatus(ctx, s.db, ownerIDs, status)
}

func listClaimsByStatus(ctx context.Context, q querier, ownerIDs []string, status claims.Status) ([]claims.Claim, error) {
	if len(ownerIDs) == 0 {
		return []claims.Claim{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ownerIDs)), ",")
	args := make([]any, 0, len(ownerIDs)+1)
	for _, id := range ownerIDs {
		args = append(args, id)
	}
	args = append(args, status)

	return queryClaims(ctx, q,
		`SELECT `+claimColumns+` FROM claims
		 WHERE owner_id IN (`+placeholders+`) AND status = ?
		 ORDER BY id ASC`, args...)
}

func (s *Store) UpdateClaim(ctx context.Context, c *claims.Claim) error {
	return updateClaim(ctx, s.db, c)
}

func updateClaim(ctx context.Context, q querier, c *claims.Claim) error {
	now := time.Now().UTC()

	res, err := q.ExecContext(ctx, `
		UPDATE claims
		SET remaining = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.Remaining.String(), c.Status, now.Format(time.RFC3339),
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or someone else wrote it first.
		if _, err := getClaim(ctx, q, c.ID); errors.Is(err, claims.ErrClaimNotFound) {
			return claims.ErrClaimNotFound
		}
		return claims.ErrConcurrentModification
	}

	c.Version++
	c.UpdatedAt = now
	return nil
}

func (s *Store) DeleteClaim(ctx context.Context, id int64) error {
	return deleteClaim(ctx, s.db, id)
}

func deleteClaim(ctx context.Context, q querier, id int64) error {
	res, err := q.ExecContext(ctx, "DELETE FROM claims WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return claims.ErrClaimNotFound
	}
	return nil
}

func queryClaims(ctx context.Context, q querier, query string, args ...any) ([]claims.Claim, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	out := []claims.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (claims.Claim, error) {
	var (
		c                    claims.Claim
		amount, remaining    string
		date, category       sql.NullString
		region, comment      sql.NullString
		receiptRef           sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&c.ID, &c.OwnerID, &amount, &remaining, &c.Status,
		&date, &category, &region, &comment, &receiptRef,
		&c.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return c, err
	}

	c.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return c, fmt.Errorf("failed to parse claim amount: %w", err)
	}
	c.Remaining, err = decimal.NewFromString(remaining)
	if err != nil {
		return c, fmt.Errorf("failed to parse claim remaining: %w", err)
	}

	c.Date = date.String
	c.Category = category.String
	c.Region = region.String
	c.Comment = comment.String
	c.ReceiptRef = receiptRef.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return c, nil
}

// =============================================================================
// USER STORE (claims.UserStore interface)
// =============================================================================

const userColumns = `id, username, password_hash, role, leader_id, card_number,
	must_change_password, created_at`

func (s *Store) CreateUser(ctx context.Context, u *claims.User) error {
	return createUser(ctx, s.db, u)
}

func createUser(ctx context.Context, q querier, u *claims.User) error {
	now := time.Now().UTC()

	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, leader_id,
			card_number, must_change_password, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.Role, u.LeaderID,
		u.CardNumber, u.MustChangePassword, now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return claims.ErrDuplicateUsername
		}
		if isForeignKeyError(err) {
			return claims.ErrUserNotFound
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	u.CreatedAt = now
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (claims.User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q querier, id string) (claims.User, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (claims.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]claims.User, error) {
	return queryUsers(ctx, s.db,
		`SELECT `+userColumns+` FROM users ORDER BY username ASC`)
}

func (s *Store) UpdateUser(ctx context.Context, u *claims.User) error {
	return updateUser(ctx, s.db, u)
}

func updateUser(ctx context.Context, q querier, u *claims.User) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users
		SET username = ?, password_hash = ?, role = ?, leader_id = ?,
			card_number = ?, must_change_password = ?
		WHERE id = ?`,
		u.Username, u.PasswordHash, u.Role, u.LeaderID,
		u.CardNumber, u.MustChangePassword, u.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return claims.ErrDuplicateUsername
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return claims.ErrUserNotFound
	}
	return nil
}

func (s *Store) ListSubordinates(ctx context.Context, leaderID string) ([]claims.User, error) {
	return queryUsers(ctx, s.db,
		`SELECT `+userColumns+` FROM users WHERE leader_id = ? ORDER BY username ASC`,
		leaderID)
}

func queryUsers(ctx context.Context, q querier, query string, args ...any) ([]claims.User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	out := []claims.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row rowScanner) (claims.User, error) {
	var (
		u         claims.User
		leaderID  sql.NullString
		card      sql.NullString
		createdAt string
	)

	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role,
		&leaderID, &card, &u.MustChangePassword, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, claims.ErrUserNotFound
	}
	if err != nil {
		return u, fmt.Errorf("failed to scan user: %w", err)
	}

	if leaderID.Valid {
		u.LeaderID = &leaderID.String
	}
	u.CardNumber = card.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return u, nil
}

// =============================================================================
// TRANSACTIONAL STORE (claims.TxStore interface)
// =============================================================================

// WithOwnerTx executes fn within a database transaction, serialized per owner.
func (s *Store) WithOwnerTx(ctx context.Context, ownerID string, fn func(claims.Store) error) error {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) ownerLock(ownerID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.ownerLocks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		s.ownerLocks[ownerID] = lock
	}
	return lock
}

// txStore routes store calls through an open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateClaim(ctx context.Context, c *claims.Claim) error {
	return createClaim(ctx, ts.tx, c)
}

func (ts *txStore) GetClaim(ctx context.Context, id int64) (claims.Claim, error) {
	return getClaim(ctx, ts.tx, id)
}

func (ts *txStore) ListClaimsByOwner(ctx context.Context, ownerID string) ([]claims.Claim, error) {
	return queryClaims(ctx, ts.tx,
		`SELECT `+claimColumns+` FROM claims WHERE owner_id = ? ORDER BY id DESC`,
		ownerID)
}

func (ts *txStore) ClaimsByOwnerAndStatus(ctx context.Context, ownerID string, status claims.Status) ([]claims.Claim, error) {
	return claimsByOwnerAndStatus(ctx, ts.tx, ownerID, status)
}

func (ts *txStore) ListClaimsByStatus(ctx context.Context, ownerIDs []string, status claims.Status) ([]claims.Claim, error) {
	return listClaimsByStatus(ctx, ts.tx, ownerIDs, status)
}

func (ts *txStore) UpdateClaim(ctx context.Context, c *claims.Claim) error {
	return updateClaim(ctx, ts.tx, c)
}

func (ts *txStore) DeleteClaim(ctx context.Context, id int64) error {
	return deleteClaim(ctx, ts.tx, id)
}

func (ts *txStore) CreateUser(ctx context.Context, u *claims.User) error {
	return createUser(ctx, ts.tx, u)
}

func (ts *txStore) GetUser(ctx context.Context, id string) (claims.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) GetUserByUsername(ctx context.Context, username string) (claims.User, error) {
	row := ts.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]claims.User, error) {
	return queryUsers(ctx, ts.tx,
		`SELECT `+userColumns+` FROM users ORDER BY username ASC`)
}

func (ts *txStore) UpdateUser(ctx context.Context, u *claims.User) error {
	return updateUser(ctx, ts.tx, u)
}

func (ts *txStore) ListSubordinates(ctx context.Context, leaderID string) ([]claims.User, error) {
	return queryUsers(ctx, ts.tx,
		`SELECT `+userColumns+` FROM users WHERE leader_id = ? ORDER BY username ASC`,
		leaderID)
}

// =============================================================================
// REPORTING PROJECTION
// =============================================================================

// SummaryRow is one aggregate bucket of the claims report.
type SummaryRow struct {
	Key            string
	Count          int
	TotalAmount    decimal.Decimal
	TotalRemaining decimal.Decimal
}

// ErrBadGroupBy is returned for an unsupported report grouping.
var ErrBadGroupBy = errors.New("unsupported group_by")

// SummarizeClaims aggregates claims grouped by "region", "status" or "owner".
// Pure read-side projection; imposes no invariants on the claim store.
func (s *Store) SummarizeClaims(ctx context.Context, groupBy string) ([]SummaryRow, error) {
	var column string
	switch groupBy {
	case "region":
		column = "COALESCE(region, '')"
	case "status":
		column = "status"
	case "owner":
		column = "owner_id"
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadGroupBy, groupBy)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+column+` AS bucket,
		       COUNT(*),
		       TOTAL(amount),
		       TOTAL(remaining)
		FROM claims
		GROUP BY bucket
		ORDER BY bucket ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize claims: %w", err)
	}
	defer rows.Close()

	out := []SummaryRow{}
	for rows.Next() {
		var (
			r                 SummaryRow
			amount, remaining float64
		)
		if err := rows.Scan(&r.Key, &r.Count, &amount, &remaining); err != nil {
			return nil, err
		}
		r.TotalAmount = decimal.NewFromFloat(amount)
		r.TotalRemaining = decimal.NewFromFloat(remaining)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"claims", "users"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
