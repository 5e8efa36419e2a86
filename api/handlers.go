/*
handlers.go - HTTP API handlers for the expense reimbursement system

PURPOSE:
  Exposes the claims engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/login                  Authenticate, returns JWT
    POST   /api/auth/change-password        Change own password

  Users (admin unless noted):
    GET    /api/users                       List all users
    POST   /api/users                       Create user (temp password)
    GET    /api/users/{id}                  Get user (self/lead/admin)
    PUT    /api/users/{id}                  Edit user
    POST   /api/users/{id}/reset-password   Reset to temp password
    GET    /api/users/{id}/claims           Claim history (self/lead/admin)
    POST   /api/users/{id}/settle           FIFO settlement (teamlead)

  Claims:
    POST   /api/claims                      Submit own claim
    GET    /api/claims/pending              Review queue (teamlead)
    GET    /api/claims/{id}                 Get claim
    POST   /api/claims/{id}/approve         Approve (teamlead of owner)
    POST   /api/claims/{id}/reject          Reject (teamlead of owner)
    DELETE /api/claims/{id}                 Delete (admin side-channel)

  Reports:
    GET    /api/reports/summary             Aggregates by region/status/owner

REQUEST FLOW:
  1. Authenticate middleware builds the claims.Caller from the bearer token
  2. Handler loads the target user and runs claims.Authorize - the single
     policy check, evaluated once before any domain call
  3. Domain logic runs (engine, review, store)
  4. Serialize response / map domain error to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid credentials or token
  - 403: Caller lacks the capability
  - 404: Resource not found
  - 409: Conflict (concurrent modification, duplicate username, bad transition)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Caller extraction
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/expense-engine/auth"
	"github.com/warp/expense-engine/claims"
	"github.com/warp/expense-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *claims.Engine
	JWT    *auth.JWTManager
	Log    *slog.Logger
}

// NewHandler creates a new handler with the given store and JWT manager.
func NewHandler(store *sqlite.Store, jwtManager *auth.JWTManager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Store:  store,
		Engine: claims.NewEngine(store, log),
		JWT:    jwtManager,
		Log:    log,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login authenticates a username/password pair and issues a JWT.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		// Same response as a bad password; don't leak which usernames exist.
		writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
		return
	}

	token, err := h.JWT.Generate(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:              token,
		MustChangePassword: user.MustChangePassword,
		User:               toUserDTO(user),
	})
}

// ChangePassword sets a new password for the caller and clears the
// must-change flag.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	info, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "Password too weak", err)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password", err)
		return
	}

	user := info.User
	user.PasswordHash = hash
	user.MustChangePassword = false
	if err := h.Store.UpdateUser(r.Context(), &user); err != nil {
		h.writeDomainError(w, "Failed to update password", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users. Admin only.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionManageUsers, claims.User{}); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list users", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

// CreateUser creates a new account with a generated temporary password.
// Admin only.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionManageUsers, claims.User{}); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	role := claims.Role(req.Role)
	if req.Username == "" || !role.Valid() {
		writeError(w, http.StatusBadRequest, "Username and a valid role are required", nil)
		return
	}
	if req.LeaderID != nil {
		leader, err := h.Store.GetUser(r.Context(), *req.LeaderID)
		if err != nil {
			h.writeDomainError(w, "Leader not found", err)
			return
		}
		if leader.Role != claims.RoleTeamLead {
			writeError(w, http.StatusBadRequest, "Leader must be a team lead", nil)
			return
		}
	}

	tempPassword := auth.TempPassword()
	hash, err := auth.HashPassword(tempPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password", err)
		return
	}

	user := claims.User{
		ID:                 uuid.NewString(),
		Username:           req.Username,
		PasswordHash:       hash,
		Role:               role,
		LeaderID:           req.LeaderID,
		CardNumber:         req.CardNumber,
		MustChangePassword: true,
	}
	if err := h.Store.CreateUser(r.Context(), &user); err != nil {
		h.writeDomainError(w, "Failed to create user", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateUserResponse{
		User:         toUserDTO(user),
		TempPassword: tempPassword,
	})
}

// GetUser returns a single user. Self, own lead, or admin.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())

	target, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "User not found", err)
		return
	}
	if err := claims.Authorize(info.Caller, claims.ActionViewClaims, target); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserDTO(target))
}

// UpdateUser edits username, role, leader and card number. Admin only.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionManageUsers, claims.User{}); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	target, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "User not found", err)
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	role := claims.Role(req.Role)
	if req.Username == "" || !role.Valid() {
		writeError(w, http.StatusBadRequest, "Username and a valid role are required", nil)
		return
	}

	target.Username = req.Username
	target.Role = role
	target.LeaderID = req.LeaderID
	target.CardNumber = req.CardNumber
	if err := h.Store.UpdateUser(r.Context(), &target); err != nil {
		h.writeDomainError(w, "Failed to update user", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserDTO(target))
}

// ResetPassword sets a fresh temporary password and forces a change on next
// login. Admin only.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionManageUsers, claims.User{}); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	target, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "User not found", err)
		return
	}

	tempPassword := auth.TempPassword()
	hash, err := auth.HashPassword(tempPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password", err)
		return
	}

	target.PasswordHash = hash
	target.MustChangePassword = true
	if err := h.Store.UpdateUser(r.Context(), &target); err != nil {
		h.writeDomainError(w, "Failed to reset password", err)
		return
	}

	writeJSON(w, http.StatusOK, ResetPasswordResponse{TempPassword: tempPassword})
}

// UserClaims returns the claim history for a user, newest first.
func (h *Handler) UserClaims(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())

	target, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "User not found", err)
		return
	}
	if err := claims.Authorize(info.Caller, claims.ActionViewClaims, target); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	history, err := h.Store.ListClaimsByOwner(r.Context(), target.ID)
	if err != nil {
		h.writeDomainError(w, "Failed to list claims", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(history))
}

// =============================================================================
// SETTLEMENT HANDLER
// =============================================================================

// Settle applies a payment against the target user's approved claims,
// oldest first. Team lead over self-or-subordinate only.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())

	target, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "User not found", err)
		return
	}
	if err := claims.Authorize(info.Caller, claims.ActionSettle, target); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Payment amount must not be negative", claims.ErrInvalidAmount)
		return
	}

	result, err := h.Engine.Settle(r.Context(), target.ID, req.Amount)
	if err != nil {
		h.writeDomainError(w, "Settlement failed", err)
		return
	}

	metricSettlements.Inc()
	metricSettlementApplied.Add(result.TotalApplied.InexactFloat64())
	metricSettlementDiscarded.Add(result.Discarded.InexactFloat64())

	writeJSON(w, http.StatusOK, toSettlementDTO(result))
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// CreateClaim submits a new claim owned by the caller.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionSubmitClaim, info.User); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	var req CreateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Claim amount must not be negative", claims.ErrInvalidAmount)
		return
	}

	claim := claims.NewClaim(info.User.ID, req.Amount)
	claim.Date = req.Date
	claim.Category = req.Category
	claim.Region = req.Region
	claim.Comment = req.Comment
	claim.ReceiptRef = req.ReceiptRef

	if err := h.Store.CreateClaim(r.Context(), &claim); err != nil {
		h.writeDomainError(w, "Failed to create claim", err)
		return
	}

	metricClaimsCreated.Inc()
	writeJSON(w, http.StatusCreated, toClaimDTO(claim))
}

// GetClaim returns a single claim if the caller may view its owner's claims.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())

	claim, owner, err := h.loadClaimWithOwner(r)
	if err != nil {
		h.writeDomainError(w, "Claim not found", err)
		return
	}
	if err := claims.Authorize(info.Caller, claims.ActionViewClaims, owner); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	writeJSON(w, http.StatusOK, toClaimDTO(claim))
}

// PendingClaims returns the review queue: pending claims of the caller and
// their direct subordinates. Team lead only.
func (h *Handler) PendingClaims(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionReviewClaim, info.User); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	subs, err := h.Store.ListSubordinates(r.Context(), info.User.ID)
	if err != nil {
		h.writeDomainError(w, "Failed to list subordinates", err)
		return
	}

	ownerIDs := make([]string, 0, len(subs)+1)
	ownerIDs = append(ownerIDs, info.User.ID)
	for _, sub := range subs {
		ownerIDs = append(ownerIDs, sub.ID)
	}

	pending, err := h.Store.ListClaimsByStatus(r.Context(), ownerIDs, claims.StatusPending)
	if err != nil {
		h.writeDomainError(w, "Failed to list pending claims", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(pending))
}

// ApproveClaim marks a pending claim approved, making it eligible for
// settlement.
func (h *Handler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	h.reviewClaim(w, r, claims.ApproveClaim, "approved")
}

// RejectClaim marks a pending claim rejected.
func (h *Handler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	h.reviewClaim(w, r, claims.RejectClaim, "rejected")
}

func (h *Handler) reviewClaim(w http.ResponseWriter, r *http.Request,
	decide func(ctx context.Context, s claims.Store, id int64) (claims.Claim, error), decision string) {

	info, _ := callerFrom(r.Context())

	claim, owner, err := h.loadClaimWithOwner(r)
	if err != nil {
		h.writeDomainError(w, "Claim not found", err)
		return
	}
	if err := claims.Authorize(info.Caller, claims.ActionReviewClaim, owner); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	updated, err := decide(r.Context(), h.Store, claim.ID)
	if err != nil {
		h.writeDomainError(w, "Review failed", err)
		return
	}

	metricClaimsReviewed.WithLabelValues(decision).Inc()
	writeJSON(w, http.StatusOK, toClaimDTO(updated))
}

// DeleteClaim removes a claim entirely. Admin side-channel; never part of
// settlement.
func (h *Handler) DeleteClaim(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionDeleteClaim, claims.User{}); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid claim id", err)
		return
	}

	if err := h.Store.DeleteClaim(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete claim", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadClaimWithOwner(r *http.Request) (claims.Claim, claims.User, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return claims.Claim{}, claims.User{}, claims.ErrClaimNotFound
	}

	claim, err := h.Store.GetClaim(r.Context(), id)
	if err != nil {
		return claims.Claim{}, claims.User{}, err
	}
	owner, err := h.Store.GetUser(r.Context(), claim.OwnerID)
	if err != nil {
		return claims.Claim{}, claims.User{}, err
	}
	return claim, owner, nil
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ReportSummary returns claim aggregates grouped by region, status or owner.
// Read-side projection over the claim store; team lead or admin.
func (h *Handler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	info, _ := callerFrom(r.Context())
	if err := claims.Authorize(info.Caller, claims.ActionViewReports, claims.User{}); err != nil {
		h.writeDomainError(w, "Not allowed", err)
		return
	}

	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		groupBy = "region"
	}

	rows, err := h.Store.SummarizeClaims(r.Context(), groupBy)
	if err != nil {
		if errors.Is(err, sqlite.ErrBadGroupBy) {
			writeError(w, http.StatusBadRequest, "Unsupported group_by", err)
			return
		}
		h.writeDomainError(w, "Failed to build report", err)
		return
	}

	dtos := make([]SummaryRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = SummaryRowDTO{
			Key:            row.Key,
			Count:          row.Count,
			TotalAmount:    row.TotalAmount,
			TotalRemaining: row.TotalRemaining,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case claims.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, claims.ErrForbidden):
		status = http.StatusForbidden
	case claims.IsConflict(err):
		status = http.StatusConflict
	case claims.IsClientError(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", "error", err)
	}
	writeError(w, status, message, err)
}
