package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/centralcitybank/backend/internal/models"
)

func expectWithdrawalFetch(mock sqlmock.Sqlmock, withdrawalID, status string) {
	mock.ExpectQuery("SELECT id, withdrawal_id, user_id, account_id, amount, currency, status, description, created_at, updated_at FROM withdrawals WHERE withdrawal_id = \\$1").
		WithArgs(withdrawalID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "withdrawal_id", "user_id", "account_id", "amount", "currency", "status", "description", "created_at", "updated_at"}).
			AddRow(11, withdrawalID, 3, 7, int64(1000), "USD", status, "rent", time.Now(), time.Now()))

	mock.ExpectQuery("SELECT id, withdrawal_id, name, position, status, notes, completed_at FROM withdrawal_stages").
		WithArgs(withdrawalID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "withdrawal_id", "name", "position", "status", "notes", "completed_at"}))
}

func TestWithdrawalService_AdvanceStage(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, NewLedgerService(db, testWorkflowConfig()))
	withdrawalID := "a2c7f9f0-0000-0000-0000-000000000001"

	t.Run("unknown stage", func(t *testing.T) {
		_, err := service.AdvanceStage(withdrawalID, "bribe_the_manager", "")
		assert.ErrorIs(t, err, ErrUnknownStage)
	})

	t.Run("first stage completes in order", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.WithdrawalStatusPending))
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(position\\), 0\\)").
			WithArgs(withdrawalID, models.StageStatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
		mock.ExpectExec("INSERT INTO withdrawal_stages").
			WithArgs(withdrawalID, "account_activation", 1, models.StageStatusCompleted, "opened", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE withdrawals SET updated_at").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		expectWithdrawalFetch(mock, withdrawalID, models.WithdrawalStatusPending)

		w, err := service.AdvanceStage(withdrawalID, "account_activation", "opened")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalStatusPending, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skipping ahead is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.WithdrawalStatusPending))
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(position\\), 0\\)").
			WithArgs(withdrawalID, models.StageStatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
		mock.ExpectRollback()

		_, err := service.AdvanceStage(withdrawalID, "tax_clearance", "")
		assert.ErrorIs(t, err, ErrStageOrder)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeating a completed stage is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.WithdrawalStatusPending))
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(position\\), 0\\)").
			WithArgs(withdrawalID, models.StageStatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))
		mock.ExpectRollback()

		_, err := service.AdvanceStage(withdrawalID, "security_question", "")
		assert.ErrorIs(t, err, ErrStageRepeated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("final stage completes the withdrawal", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.WithdrawalStatusPending))
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(position\\), 0\\)").
			WithArgs(withdrawalID, models.StageStatusCompleted).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(6))
		mock.ExpectExec("INSERT INTO withdrawal_stages").
			WithArgs(withdrawalID, "final_approval", 7, models.StageStatusCompleted, "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(7, 1))
		mock.ExpectExec("UPDATE withdrawals SET status = \\$1, updated_at = \\$2 WHERE withdrawal_id = \\$3").
			WithArgs(models.WithdrawalStatusCompleted, sqlmock.AnyArg(), withdrawalID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		expectWithdrawalFetch(mock, withdrawalID, models.WithdrawalStatusCompleted)

		w, err := service.AdvanceStage(withdrawalID, "final_approval", "")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalStatusCompleted, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed withdrawal cannot advance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.WithdrawalStatusCompleted))
		mock.ExpectRollback()

		_, err := service.AdvanceStage(withdrawalID, "account_activation", "")
		assert.ErrorIs(t, err, ErrWithdrawalClosed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing withdrawal", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs("no-such-id").
			WillReturnRows(sqlmock.NewRows([]string{"status"}))
		mock.ExpectRollback()

		_, err := service.AdvanceStage("no-such-id", "account_activation", "")
		assert.ErrorIs(t, err, ErrWithdrawalNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_Reject(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, NewLedgerService(db, testWorkflowConfig()))
	withdrawalID := "a2c7f9f0-0000-0000-0000-000000000002"

	t.Run("rejection refunds the held amount", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, withdrawal_id, user_id, account_id, amount, currency, status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "withdrawal_id", "user_id", "account_id", "amount", "currency", "status"}).
				AddRow(11, withdrawalID, 3, 7, int64(1000), "USD", models.WithdrawalStatusPending))

		mock.ExpectExec("UPDATE withdrawals SET status = \\$1, updated_at = \\$2 WHERE withdrawal_id = \\$3").
			WithArgs(models.WithdrawalStatusFailed, sqlmock.AnyArg(), withdrawalID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Refund inside the same transaction.
		mock.ExpectQuery("SELECT id, user_id, account_number, balance, currency, version FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance", "currency", "version"}).
				AddRow(7, 3, "1234567890", int64(4000), "USD", 3))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 7, models.TxKindRefund, int64(1000), "USD", sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(46))
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs(int64(5000), sqlmock.AnyArg(), 7, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE users SET balance").
			WithArgs(3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		expectWithdrawalFetch(mock, withdrawalID, models.WithdrawalStatusFailed)

		w, err := service.Reject(withdrawalID, "suspicious activity")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalStatusFailed, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already closed", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, withdrawal_id, user_id, account_id, amount, currency, status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "withdrawal_id", "user_id", "account_id", "amount", "currency", "status"}).
				AddRow(11, withdrawalID, 3, 7, int64(1000), "USD", models.WithdrawalStatusFailed))
		mock.ExpectRollback()

		_, err := service.Reject(withdrawalID, "again")
		assert.ErrorIs(t, err, ErrWithdrawalClosed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_VerifyOwnerPin(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)

	service := NewWithdrawalService(db, NewLedgerService(db, testWorkflowConfig()))
	withdrawalID := "a2c7f9f0-0000-0000-0000-000000000003"

	hashedPin, err := HashSecret("4321")
	assert.NoError(t, err)

	t.Run("correct pin", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.account_pin FROM users u JOIN withdrawals w ON w.user_id = u.id WHERE w.withdrawal_id = \\$1").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"account_pin"}).AddRow(hashedPin))

		assert.NoError(t, service.VerifyOwnerPin(withdrawalID, "4321"))
	})

	t.Run("wrong pin", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.account_pin FROM users u JOIN withdrawals w ON w.user_id = u.id WHERE w.withdrawal_id = \\$1").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"account_pin"}).AddRow(hashedPin))

		assert.ErrorIs(t, service.VerifyOwnerPin(withdrawalID, "1111"), ErrInvalidPin)
	})

	t.Run("unknown withdrawal", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.account_pin FROM users u JOIN withdrawals w ON w.user_id = u.id WHERE w.withdrawal_id = \\$1").
			WithArgs("no-such-id").
			WillReturnRows(sqlmock.NewRows([]string{"account_pin"}))

		assert.ErrorIs(t, service.VerifyOwnerPin("no-such-id", "4321"), ErrWithdrawalNotFound)
	})
}

func TestStageCatalogueOrdering(t *testing.T) {
	assert.Len(t, StageCatalogue, 7)
	assert.Equal(t, "account_activation", StageCatalogue[0])
	assert.Equal(t, "final_approval", StageCatalogue[len(StageCatalogue)-1])

	for i, name := range StageCatalogue {
		assert.Equal(t, i+1, stagePosition(name))
	}
	assert.Equal(t, 0, stagePosition("not_a_stage"))
}
