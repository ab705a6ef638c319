package models

import "time"

// Withdrawal states. A withdrawal leaves "pending" exactly once:
// to "completed" when the final approval stage succeeds, or to
// "failed" when an admin rejects it (the held amount is refunded).
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusFailed    = "failed"
)

// Stage states
const (
	StageStatusPending    = "pending"
	StageStatusInProgress = "in_progress"
	StageStatusCompleted  = "completed"
)

// Withdrawal is a pending funds release attached to one account.
// The debit is taken when the withdrawal is created; approval stages
// gate the release, and rejection refunds the held amount.
type Withdrawal struct {
	ID           int               `json:"id" db:"id"`
	WithdrawalID string            `json:"withdrawalId" db:"withdrawal_id"`
	UserID       int               `json:"userId" db:"user_id"`
	AccountID    int               `json:"accountId" db:"account_id"`
	Amount       int64             `json:"amount" db:"amount"`
	Currency     string            `json:"currency" db:"currency"`
	Status       string            `json:"status" db:"status"`
	Description  string            `json:"description,omitempty" db:"description"`
	Stages       []WithdrawalStage `json:"stages,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time         `json:"updatedAt" db:"updated_at"`
}

// WithdrawalStage is one completed step of the approval workflow.
// Rows are appended in catalogue order; position is the 1-based index
// of the stage in the catalogue.
type WithdrawalStage struct {
	ID           int        `json:"id" db:"id"`
	WithdrawalID string     `json:"withdrawalId" db:"withdrawal_id"`
	Name         string     `json:"name" db:"name"`
	Position     int        `json:"position" db:"position"`
	Status       string     `json:"status" db:"status"`
	Notes        string     `json:"notes,omitempty" db:"notes"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}
