/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal, serialized as JSON strings (e.g. "120.50").
  shopspring/decimal accepts both quoted strings and bare numbers on input.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/expense-engine/claims"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token              string  `json:"token"`
	MustChangePassword bool    `json:"must_change_password"`
	User               UserDTO `json:"user"`
}

type ChangePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID                 string  `json:"id"`
	Username           string  `json:"username"`
	Role               string  `json:"role"`
	LeaderID           *string `json:"leader_id,omitempty"`
	CardNumber         string  `json:"card_number,omitempty"`
	MustChangePassword bool    `json:"must_change_password"`
	CreatedAt          string  `json:"created_at,omitempty"`
}

type CreateUserRequest struct {
	Username   string  `json:"username"`
	Role       string  `json:"role"`
	CardNumber string  `json:"card_number"`
	LeaderID   *string `json:"leader_id"`
}

// CreateUserResponse carries the generated temporary password exactly once;
// it is never retrievable again.
type CreateUserResponse struct {
	User         UserDTO `json:"user"`
	TempPassword string  `json:"temp_password"`
}

type UpdateUserRequest struct {
	Username   string  `json:"username"`
	Role       string  `json:"role"`
	CardNumber string  `json:"card_number"`
	LeaderID   *string `json:"leader_id"`
}

type ResetPasswordResponse struct {
	TempPassword string `json:"temp_password"`
}

// =============================================================================
// CLAIMS
// =============================================================================

type ClaimDTO struct {
	ID         int64           `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Amount     decimal.Decimal `json:"amount"`
	Remaining  decimal.Decimal `json:"remaining"`
	Status     string          `json:"status"`
	Date       string          `json:"date,omitempty"`
	Category   string          `json:"category,omitempty"`
	Region     string          `json:"region,omitempty"`
	Comment    string          `json:"comment,omitempty"`
	ReceiptRef string          `json:"receipt_ref,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

type CreateClaimRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
	Category   string          `json:"category"`
	Region     string          `json:"region"`
	Comment    string          `json:"comment"`
	ReceiptRef string          `json:"receipt_ref"`
}

// =============================================================================
// SETTLEMENT
// =============================================================================

type SettleRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type SettlementResultDTO struct {
	FullyPaid     []int64         `json:"fully_paid"`
	PartiallyPaid *int64          `json:"partially_paid"`
	TotalApplied  decimal.Decimal `json:"total_applied"`
	Discarded     decimal.Decimal `json:"discarded"`
	ClaimsTouched int             `json:"claims_touched"`
}

// =============================================================================
// REPORTS
// =============================================================================

type SummaryRowDTO struct {
	Key            string          `json:"key"`
	Count          int             `json:"count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toUserDTO(u claims.User) UserDTO {
	return UserDTO{
		ID:                 u.ID,
		Username:           u.Username,
		Role:               string(u.Role),
		LeaderID:           u.LeaderID,
		CardNumber:         u.CardNumber,
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt.Format(time.RFC3339),
	}
}

func toUserDTOs(users []claims.User) []UserDTO {
	out := make([]UserDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	return out
}

func toClaimDTO(c claims.Claim) ClaimDTO {
	return ClaimDTO{
		ID:         c.ID,
		OwnerID:    c.OwnerID,
		Amount:     c.Amount,
		Remaining:  c.Remaining,
		Status:     string(c.Status),
		Date:       c.Date,
		Category:   c.Category,
		Region:     c.Region,
		Comment:    c.Comment,
		ReceiptRef: c.ReceiptRef,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
}

func toClaimDTOs(cs []claims.Claim) []ClaimDTO {
	out := make([]ClaimDTO, len(cs))
	for i, c := range cs {
		out[i] = toClaimDTO(c)
	}
	return out
}

func toSettlementDTO(r claims.SettlementResult) SettlementResultDTO {
	fully := r.FullyPaid
	if fully == nil {
		fully = []int64{}
	}
	return SettlementResultDTO{
		FullyPaid:     fully,
		PartiallyPaid: r.PartiallyPaid,
		TotalApplied:  r.TotalApplied,
		Discarded:     r.Discarded,
		ClaimsTouched: r.Touched(),
	}
}
