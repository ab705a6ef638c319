package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/centralcitybank/backend/internal/models"
)

// StageCatalogue is the canonical, ordered approval sequence every
// withdrawal must pass before funds release. Stage N can only complete
// after stage N-1; completing final_approval completes the withdrawal.
var StageCatalogue = []string{
	"account_activation",
	"identity_verification",
	"security_question",
	"tax_clearance",
	"payment_processing",
	"document_upload",
	"final_approval",
}

var (
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrWithdrawalClosed   = errors.New("withdrawal is not pending")
	ErrUnknownStage       = errors.New("unknown stage")
	ErrStageOrder         = errors.New("previous stage not completed")
	ErrStageRepeated      = errors.New("stage already completed")
	ErrInvalidPin         = errors.New("invalid pin")
)

// WithdrawalService drives the multi-stage approval workflow as an explicit
// state machine. Stage advances re-read the withdrawal row FOR UPDATE so
// racing calls serialize and the precondition check is authoritative.
type WithdrawalService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService) *WithdrawalService {
	return &WithdrawalService{db: db, ledger: ledger}
}

func stagePosition(name string) int {
	for i, s := range StageCatalogue {
		if s == name {
			return i + 1
		}
	}
	return 0
}

// Get returns a withdrawal with its completed stages in catalogue order.
func (s *WithdrawalService) Get(withdrawalID string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := s.db.QueryRow(`
		SELECT id, withdrawal_id, user_id, account_id, amount, currency, status, description, created_at, updated_at
		FROM withdrawals
		WHERE withdrawal_id = $1`, withdrawalID).
		Scan(&w.ID, &w.WithdrawalID, &w.UserID, &w.AccountID, &w.Amount, &w.Currency,
			&w.Status, &w.Description, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}

	stages, err := s.loadStages(withdrawalID)
	if err != nil {
		return nil, err
	}
	w.Stages = stages
	return &w, nil
}

// AdvanceStage completes the named stage for the withdrawal. The advance is
// rejected when the withdrawal is terminal, the stage is not in the
// catalogue, its predecessor has not completed, or it already completed.
func (s *WithdrawalService) AdvanceStage(withdrawalID, stageName, notes string) (*models.Withdrawal, error) {
	position := stagePosition(stageName)
	if position == 0 {
		return nil, ErrUnknownStage
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`
		SELECT status FROM withdrawals WHERE withdrawal_id = $1 FOR UPDATE`, withdrawalID).
		Scan(&status)
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}

	if status != models.WithdrawalStatusPending {
		return nil, ErrWithdrawalClosed
	}

	var maxCompleted int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(position), 0)
		FROM withdrawal_stages
		WHERE withdrawal_id = $1 AND status = $2`, withdrawalID, models.StageStatusCompleted).
		Scan(&maxCompleted)
	if err != nil {
		return nil, err
	}

	if position <= maxCompleted {
		return nil, ErrStageRepeated
	}
	if position != maxCompleted+1 {
		return nil, ErrStageOrder
	}

	now := time.Now()
	_, err = tx.Exec(`
		INSERT INTO withdrawal_stages (withdrawal_id, name, position, status, notes, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		withdrawalID, stageName, position, models.StageStatusCompleted, notes, now)
	if err != nil {
		return nil, err
	}

	if position == len(StageCatalogue) {
		if _, err := tx.Exec(`
			UPDATE withdrawals SET status = $1, updated_at = $2 WHERE withdrawal_id = $3`,
			models.WithdrawalStatusCompleted, now, withdrawalID); err != nil {
			return nil, err
		}
		log.Printf("[WORKFLOW] Withdrawal %s completed", withdrawalID)
	} else {
		if _, err := tx.Exec(`
			UPDATE withdrawals SET updated_at = $1 WHERE withdrawal_id = $2`, now, withdrawalID); err != nil {
			return nil, err
		}
		log.Printf("[WORKFLOW] Withdrawal %s advanced to %s (%d/%d)", withdrawalID, stageName, position, len(StageCatalogue))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.Get(withdrawalID)
}

// Reject fails a pending withdrawal and credits the held amount back.
// Status flip and refund commit in the same transaction.
func (s *WithdrawalService) Reject(withdrawalID, reason string) (*models.Withdrawal, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var w models.Withdrawal
	err = tx.QueryRow(`
		SELECT id, withdrawal_id, user_id, account_id, amount, currency, status
		FROM withdrawals
		WHERE withdrawal_id = $1
		FOR UPDATE`, withdrawalID).
		Scan(&w.ID, &w.WithdrawalID, &w.UserID, &w.AccountID, &w.Amount, &w.Currency, &w.Status)
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}

	if w.Status != models.WithdrawalStatusPending {
		return nil, ErrWithdrawalClosed
	}

	if _, err := tx.Exec(`
		UPDATE withdrawals SET status = $1, updated_at = $2 WHERE withdrawal_id = $3`,
		models.WithdrawalStatusFailed, time.Now(), withdrawalID); err != nil {
		return nil, err
	}

	description := fmt.Sprintf("refund for rejected withdrawal %s: %s", withdrawalID, reason)
	if _, err := s.ledger.RefundTx(tx, w.AccountID, w.Amount, description); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[WORKFLOW] Withdrawal %s rejected and refunded", withdrawalID)
	return s.Get(withdrawalID)
}

// VerifyOwnerPin authenticates a stage advance: the caller must present the
// account PIN of the withdrawal's owner.
func (s *WithdrawalService) VerifyOwnerPin(withdrawalID, pin string) error {
	var hashedPin string
	err := s.db.QueryRow(`
		SELECT u.account_pin
		FROM users u
		JOIN withdrawals w ON w.user_id = u.id
		WHERE w.withdrawal_id = $1`, withdrawalID).Scan(&hashedPin)
	if err == sql.ErrNoRows {
		return ErrWithdrawalNotFound
	}
	if err != nil {
		return err
	}

	if !VerifySecret(pin, hashedPin) {
		return ErrInvalidPin
	}
	return nil
}

func (s *WithdrawalService) loadStages(withdrawalID string) ([]models.WithdrawalStage, error) {
	rows, err := s.db.Query(`
		SELECT id, withdrawal_id, name, position, status, notes, completed_at
		FROM withdrawal_stages
		WHERE withdrawal_id = $1
		ORDER BY position`, withdrawalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := []models.WithdrawalStage{}
	for rows.Next() {
		var st models.WithdrawalStage
		if err := rows.Scan(&st.ID, &st.WithdrawalID, &st.Name, &st.Position, &st.Status,
			&st.Notes, &st.CompletedAt); err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}
