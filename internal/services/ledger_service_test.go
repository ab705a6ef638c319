package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/centralcitybank/backend/internal/config"
	"github.com/centralcitybank/backend/internal/models"
)

func testWorkflowConfig() *config.WorkflowConfig {
	return &config.WorkflowConfig{
		OTPLength:        6,
		OTPTimeout:       5 * time.Minute,
		TokenExpiry:      time.Hour,
		ResetTokenExpiry: 15 * time.Minute,
		AccountNumberLen: 10,
		MaxNumberDraws:   25,
	}
}

func TestLedgerService_Deposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testWorkflowConfig())

	t.Run("successful deposit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, account_number, balance, currency, version FROM accounts WHERE account_number = \\$1 FOR UPDATE").
			WithArgs("1234567890").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance", "currency", "version"}).
				AddRow(7, 3, "1234567890", int64(5000), "USD", 1))

		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 7, models.TxKindDeposit, int64(2500), "USD", "salary", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(7500), sqlmock.AnyArg(), 7, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET balance").
			WithArgs(3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		entry, err := service.Deposit("1234567890", 2500, "salary")
		assert.NoError(t, err)
		assert.Equal(t, models.TxKindDeposit, entry.Kind)
		assert.Equal(t, int64(2500), entry.Amount)
		assert.NotEmpty(t, entry.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := service.Deposit("1234567890", 0, "nothing")
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = service.Deposit("1234567890", -100, "negative")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, user_id, account_number, balance, currency, version FROM accounts WHERE account_number = \\$1 FOR UPDATE").
			WithArgs("0000000000").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance", "currency", "version"}))
		mock.ExpectRollback()

		_, err := service.Deposit("0000000000", 100, "ghost")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Withdraw(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testWorkflowConfig())

	t.Run("successful withdrawal opens pending workflow", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, account_number, balance, currency, version FROM accounts WHERE account_number = \\$1 FOR UPDATE").
			WithArgs("1234567890").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance", "currency", "version"}).
				AddRow(7, 3, "1234567890", int64(5000), "USD", 2))

		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), 7, models.TxKindWithdrawal, int64(1000), "USD", "rent", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(43))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(4000), sqlmock.AnyArg(), 7, 2).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET balance").
			WithArgs(3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("INSERT INTO withdrawals").
			WithArgs(sqlmock.AnyArg(), 3, 7, int64(1000), "USD", models.WithdrawalStatusPending, "rent").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(11, time.Now(), time.Now()))

		mock.ExpectCommit()

		entry, withdrawal, err := service.Withdraw("1234567890", 1000, "rent")
		assert.NoError(t, err)
		assert.Equal(t, models.TxKindWithdrawal, entry.Kind)
		assert.Equal(t, models.WithdrawalStatusPending, withdrawal.Status)
		assert.NotEmpty(t, withdrawal.WithdrawalID)
		assert.Equal(t, int64(1000), withdrawal.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds leaves balance untouched", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, account_number, balance, currency, version FROM accounts WHERE account_number = \\$1 FOR UPDATE").
			WithArgs("1234567890").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance", "currency", "version"}).
				AddRow(7, 3, "1234567890", int64(500), "USD", 2))

		mock.ExpectRollback()

		_, _, err := service.Withdraw("1234567890", 1000, "rent")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent mutation loses optimistic lock", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, account_number, balance, currency, version FROM accounts WHERE account_number = \\$1 FOR UPDATE").
			WithArgs("1234567890").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance", "currency", "version"}).
				AddRow(7, 3, "1234567890", int64(5000), "USD", 2))

		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(44))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(4000), sqlmock.AnyArg(), 7, 2).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectRollback()

		_, _, err := service.Withdraw("1234567890", 1000, "rent")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testWorkflowConfig())

	t.Run("retries on account number collision", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO accounts").
			WillReturnError(&pq.Error{Code: "23505"})

		mock.ExpectQuery("INSERT INTO accounts").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(9, time.Now(), time.Now()))

		account, err := service.CreateAccount(3, "savings", "USD")
		assert.NoError(t, err)
		assert.Equal(t, 9, account.ID)
		assert.Len(t, account.AccountNumber, 10)
		assert.Equal(t, int64(0), account.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up when the number space is exhausted", func(t *testing.T) {
		cfg := testWorkflowConfig()
		cfg.MaxNumberDraws = 3
		small := NewLedgerService(db, cfg)

		for i := 0; i < 3; i++ {
			mock.ExpectQuery("INSERT INTO accounts").
				WillReturnError(&pq.Error{Code: "23505"})
		}

		_, err := small.CreateAccount(3, "savings", "USD")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "exhausted after 3 draws")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_generateAccountNumber(t *testing.T) {
	service := NewLedgerService(nil, testWorkflowConfig())

	for i := 0; i < 50; i++ {
		number := service.generateAccountNumber()
		assert.Len(t, number, 10)
		assert.NotEqual(t, byte('0'), number[0])
		for _, c := range number {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}

func TestLedgerService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, testWorkflowConfig())

	t.Run("records counterparty metadata", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, account_number, balance, currency, version FROM accounts WHERE account_number = \\$1 FOR UPDATE").
			WithArgs("1234567890").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "balance", "currency", "version"}).
				AddRow(7, 3, "1234567890", int64(9000), "USD", 1))

		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(45))

		mock.ExpectExec("UPDATE accounts SET balance").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET balance").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		entry, err := service.Transfer("1234567890", 4000, "tuition", models.Metadata{"recipientSwift": "DEUTDEFF"})
		assert.NoError(t, err)
		assert.Equal(t, models.TxKindTransfer, entry.Kind)
		assert.Equal(t, "DEUTDEFF", entry.Metadata["recipientSwift"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
