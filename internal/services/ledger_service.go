package services

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/centralcitybank/backend/internal/config"
	"github.com/centralcitybank/backend/internal/models"
)

// Domain rule violations surfaced by ledger operations.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// LedgerService owns account issuance and all balance mutations.
// Every mutation is a single database transaction: the target account row
// is locked FOR UPDATE and the balance update carries an optimistic version
// check, so two concurrent withdrawals can never both pass a stale balance
// check.
type LedgerService struct {
	db  *sql.DB
	cfg *config.WorkflowConfig
}

func NewLedgerService(db *sql.DB, cfg *config.WorkflowConfig) *LedgerService {
	return &LedgerService{db: db, cfg: cfg}
}

// CreateAccount issues a new account with a unique 10-digit number.
// Numbers are drawn uniformly at random and rejected on collision against
// the UNIQUE index; draws are bounded so a saturated number space surfaces
// as an error instead of an unbounded retry loop.
func (s *LedgerService) CreateAccount(userID int, accountType, currency string) (*models.Account, error) {
	for attempt := 0; attempt < s.cfg.MaxNumberDraws; attempt++ {
		number := s.generateAccountNumber()

		var account models.Account
		err := s.db.QueryRow(`
			INSERT INTO accounts (user_id, account_number, account_type, balance, currency, version, created_at, updated_at)
			VALUES ($1, $2, $3, 0, $4, 1, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			userID, number, accountType, currency).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, fmt.Errorf("failed to create account: %w", err)
		}

		account.UserID = userID
		account.AccountNumber = number
		account.AccountType = accountType
		account.Currency = currency
		account.Version = 1
		return &account, nil
	}

	return nil, fmt.Errorf("account number space exhausted after %d draws", s.cfg.MaxNumberDraws)
}

// Deposit atomically credits an account and appends the credit transaction.
func (s *LedgerService) Deposit(accountNumber string, amount int64, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountNumber)
	if err != nil {
		return nil, err
	}

	entry, err := s.appendTransaction(tx, account.ID, models.TxKindDeposit, amount, account.Currency, description)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance+amount, account.Version); err != nil {
		return nil, err
	}

	if err := s.recomputeUserBalance(tx, account.UserID); err != nil {
		return nil, err
	}

	return entry, tx.Commit()
}

// Withdraw atomically debits an account, appends the debit transaction and
// opens a pending withdrawal gated by the approval workflow. The balance
// check and the debit happen under the same row lock.
func (s *LedgerService) Withdraw(accountNumber string, amount int64, description string) (*models.Transaction, *models.Withdrawal, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountNumber)
	if err != nil {
		return nil, nil, err
	}

	if account.Balance < amount {
		return nil, nil, ErrInsufficientFunds
	}

	entry, err := s.appendTransaction(tx, account.ID, models.TxKindWithdrawal, amount, account.Currency, description)
	if err != nil {
		return nil, nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return nil, nil, err
	}

	if err := s.recomputeUserBalance(tx, account.UserID); err != nil {
		return nil, nil, err
	}

	withdrawal := &models.Withdrawal{
		WithdrawalID: uuid.New().String(),
		UserID:       account.UserID,
		AccountID:    account.ID,
		Amount:       amount,
		Currency:     account.Currency,
		Status:       models.WithdrawalStatusPending,
		Description:  description,
	}
	err = tx.QueryRow(`
		INSERT INTO withdrawals (withdrawal_id, user_id, account_id, amount, currency, status, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		withdrawal.WithdrawalID, withdrawal.UserID, withdrawal.AccountID, withdrawal.Amount,
		withdrawal.Currency, withdrawal.Status, withdrawal.Description).
		Scan(&withdrawal.ID, &withdrawal.CreatedAt, &withdrawal.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	return entry, withdrawal, tx.Commit()
}

// Debit removes funds from an account without opening a withdrawal. Used by
// outbound transfers where settlement is immediate.
func (s *LedgerService) Debit(accountNumber string, kind string, amount int64, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountNumber)
	if err != nil {
		return nil, err
	}

	if account.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	entry, err := s.appendTransaction(tx, account.ID, kind, amount, account.Currency, description)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return nil, err
	}

	if err := s.recomputeUserBalance(tx, account.UserID); err != nil {
		return nil, err
	}

	return entry, tx.Commit()
}

// Transfer debits the sender for an outbound transfer and records the
// counterparty details on the transaction entry.
func (s *LedgerService) Transfer(accountNumber string, amount int64, description string, metadata models.Metadata) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountNumber)
	if err != nil {
		return nil, err
	}

	if account.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	entry, err := s.appendTransactionWithMetadata(tx, account.ID, models.TxKindTransfer, amount, account.Currency, description, metadata)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return nil, err
	}

	if err := s.recomputeUserBalance(tx, account.UserID); err != nil {
		return nil, err
	}

	return entry, tx.Commit()
}

// RefundTx credits a held amount back inside the caller's transaction.
// The withdrawal workflow uses this when an admin rejects a pending
// withdrawal, so the status flip and the refund commit together.
func (s *LedgerService) RefundTx(tx *sql.Tx, accountID int, amount int64, description string) (*models.Transaction, error) {
	account, err := s.lockAccountByID(tx, accountID)
	if err != nil {
		return nil, err
	}

	entry, err := s.appendTransaction(tx, account.ID, models.TxKindRefund, amount, account.Currency, description)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance+amount, account.Version); err != nil {
		return nil, err
	}

	if err := s.recomputeUserBalance(tx, account.UserID); err != nil {
		return nil, err
	}

	return entry, nil
}

// GetAccountByNumber returns the account without locking it.
func (s *LedgerService) GetAccountByNumber(accountNumber string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRow(`
		SELECT id, user_id, account_number, account_type, balance, currency, version, created_at, updated_at
		FROM accounts
		WHERE account_number = $1`, accountNumber).
		Scan(&account.ID, &account.UserID, &account.AccountNumber, &account.AccountType,
			&account.Balance, &account.Currency, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// RecentTransactions merges the transaction logs of all accounts owned by
// the user, most recent first. Read-only projection.
func (s *LedgerService) RecentTransactions(userID, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.transaction_id, t.account_id, t.kind, t.amount, t.currency, t.description, t.created_at
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE a.user_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.TransactionID, &t.AccountID, &t.Kind, &t.Amount,
			&t.Currency, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountNumber string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, user_id, account_number, balance, currency, version
		FROM accounts
		WHERE account_number = $1
		FOR UPDATE`, accountNumber).
		Scan(&account.ID, &account.UserID, &account.AccountNumber, &account.Balance, &account.Currency, &account.Version)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) lockAccountByID(tx *sql.Tx, accountID int) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, user_id, account_number, balance, currency, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).
		Scan(&account.ID, &account.UserID, &account.AccountNumber, &account.Balance, &account.Currency, &account.Version)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) appendTransaction(tx *sql.Tx, accountID int, kind string, amount int64, currency, description string) (*models.Transaction, error) {
	return s.appendTransactionWithMetadata(tx, accountID, kind, amount, currency, description, nil)
}

func (s *LedgerService) appendTransactionWithMetadata(tx *sql.Tx, accountID int, kind string, amount int64, currency, description string, metadata models.Metadata) (*models.Transaction, error) {
	entry := &models.Transaction{
		TransactionID: uuid.New().String(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	}

	err := tx.QueryRow(`
		INSERT INTO transactions (transaction_id, account_id, kind, amount, currency, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.TransactionID, entry.AccountID, entry.Kind, entry.Amount, entry.Currency, entry.Description, entry.Metadata, entry.CreatedAt).
		Scan(&entry.ID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID int, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}

	return nil
}

// The denormalized user total must be recomputed from the account rows,
// never incrementally patched, or it drifts.
func (s *LedgerService) recomputeUserBalance(tx *sql.Tx, userID int) error {
	_, err := tx.Exec(`
		UPDATE users
		SET balance = COALESCE((SELECT SUM(balance) FROM accounts WHERE user_id = $1), 0)
		WHERE id = $1`, userID)
	return err
}

func (s *LedgerService) generateAccountNumber() string {
	const digits = "0123456789"
	b := make([]byte, s.cfg.AccountNumberLen)
	b[0] = digits[1+rand.Intn(9)] // no leading zero
	for i := 1; i < len(b); i++ {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
