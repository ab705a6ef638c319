package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Transaction kinds. Kind determines the sign of the balance delta:
// deposits and refunds credit the account, withdrawals and transfers debit it.
const (
	TxKindDeposit    = "deposit"
	TxKindWithdrawal = "withdrawal"
	TxKindTransfer   = "transfer"
	TxKindRefund     = "refund"
)

// Account is a single sub-account owned by exactly one user.
// Balance is held in minor units and must never go negative.
type Account struct {
	ID            int       `json:"id" db:"id"`
	UserID        int       `json:"userId" db:"user_id"`
	AccountNumber string    `json:"accountNumber" db:"account_number"`
	AccountType   string    `json:"accountType" db:"account_type"`
	Balance       int64     `json:"balance" db:"balance"`
	Currency      string    `json:"currency" db:"currency"`
	Version       int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// Transaction is one immutable entry in an account's ledger.
type Transaction struct {
	ID            int       `json:"id" db:"id"`
	TransactionID string    `json:"transactionId" db:"transaction_id"`
	AccountID     int       `json:"accountId" db:"account_id"`
	Kind          string    `json:"kind" db:"kind"`
	Amount        int64     `json:"amount" db:"amount"` // always positive, in minor units
	Currency      string    `json:"currency" db:"currency"`
	Description   string    `json:"description" db:"description"`
	Metadata      Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// IsCredit reports whether the transaction increases the account balance.
func (t *Transaction) IsCredit() bool {
	return t.Kind == TxKindDeposit || t.Kind == TxKindRefund
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
