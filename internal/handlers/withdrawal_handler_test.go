package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/centralcitybank/backend/internal/config"
	"github.com/centralcitybank/backend/internal/models"
	"github.com/centralcitybank/backend/internal/services"
)

func newTestHandler(t *testing.T) (*WithdrawalHandler, sqlmock.Sqlmock) {
	t.Helper()
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.WorkflowConfig{AccountNumberLen: 10, MaxNumberDraws: 25}
	ledger := services.NewLedgerService(db, cfg)
	return NewWithdrawalHandler(services.NewWithdrawalService(db, ledger)), mock
}

func testRouter(h *WithdrawalHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/withdrawals/{id}", h.GetWithdrawal)
	r.Post("/withdrawals/{id}/stages/{name}", h.AdvanceStage)
	r.Put("/admin/withdrawals/{id}/reject", h.RejectWithdrawal)
	return r
}

func TestWithdrawalHandler_GetWithdrawal(t *testing.T) {
	h, mock := newTestHandler(t)
	router := testRouter(h)
	withdrawalID := "b5e01930-0000-0000-0000-000000000001"

	t.Run("found with stage history", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, withdrawal_id, user_id, account_id, amount, currency, status, description, created_at, updated_at FROM withdrawals WHERE withdrawal_id = \\$1").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "withdrawal_id", "user_id", "account_id", "amount", "currency", "status", "description", "created_at", "updated_at"}).
				AddRow(11, withdrawalID, 3, 7, int64(1000), "USD", models.WithdrawalStatusPending, "rent", time.Now(), time.Now()))
		mock.ExpectQuery("SELECT id, withdrawal_id, name, position, status, notes, completed_at FROM withdrawal_stages").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "withdrawal_id", "name", "position", "status", "notes", "completed_at"}).
				AddRow(1, withdrawalID, "account_activation", 1, models.StageStatusCompleted, "", time.Now()))

		r := httptest.NewRequest("GET", "/withdrawals/"+withdrawalID, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var withdrawal models.Withdrawal
		json.Unmarshal(w.Body.Bytes(), &withdrawal)
		assert.Equal(t, withdrawalID, withdrawal.WithdrawalID)
		assert.Len(t, withdrawal.Stages, 1)
		assert.Equal(t, "account_activation", withdrawal.Stages[0].Name)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, withdrawal_id, user_id, account_id, amount, currency, status, description, created_at, updated_at FROM withdrawals WHERE withdrawal_id = \\$1").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		r := httptest.NewRequest("GET", "/withdrawals/missing", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWithdrawalHandler_AdvanceStage(t *testing.T) {
	h, mock := newTestHandler(t)
	router := testRouter(h)
	withdrawalID := "b5e01930-0000-0000-0000-000000000002"

	hashedPin, err := services.HashSecret("4321")
	assert.NoError(t, err)

	expectPinLookup := func() {
		mock.ExpectQuery("SELECT u.account_pin FROM users u JOIN withdrawals w ON w.user_id = u.id WHERE w.withdrawal_id = \\$1").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"account_pin"}).AddRow(hashedPin))
	}

	stageBody := func(pin string) *bytes.Buffer {
		body, _ := json.Marshal(map[string]string{"pin": pin, "notes": "checked"})
		return bytes.NewBuffer(body)
	}

	t.Run("out of order advance is a 400", func(t *testing.T) {
		expectPinLookup()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.WithdrawalStatusPending))
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(position\\), 0\\)").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
		mock.ExpectRollback()

		r := httptest.NewRequest("POST", "/withdrawals/"+withdrawalID+"/stages/tax_clearance", stageBody("4321"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Previous stage not completed")
	})

	t.Run("unknown stage is a 404", func(t *testing.T) {
		expectPinLookup()

		r := httptest.NewRequest("POST", "/withdrawals/"+withdrawalID+"/stages/made_up_stage", stageBody("4321"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Unknown stage")
	})

	t.Run("wrong pin never reaches the workflow", func(t *testing.T) {
		expectPinLookup()

		r := httptest.NewRequest("POST", "/withdrawals/"+withdrawalID+"/stages/account_activation", stageBody("0000"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid PIN")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing pin fails validation", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"notes": "no pin"})
		r := httptest.NewRequest("POST", "/withdrawals/"+withdrawalID+"/stages/account_activation", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWithdrawalHandler_RejectWithdrawal(t *testing.T) {
	h, mock := newTestHandler(t)
	router := testRouter(h)
	withdrawalID := "b5e01930-0000-0000-0000-000000000003"

	t.Run("reason is required", func(t *testing.T) {
		r := httptest.NewRequest("PUT", "/admin/withdrawals/"+withdrawalID+"/reject", bytes.NewBufferString("{}"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("closed withdrawal is a 400", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, withdrawal_id, user_id, account_id, amount, currency, status FROM withdrawals WHERE withdrawal_id = \\$1 FOR UPDATE").
			WithArgs(withdrawalID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "withdrawal_id", "user_id", "account_id", "amount", "currency", "status"}).
				AddRow(11, withdrawalID, 3, 7, int64(1000), "USD", models.WithdrawalStatusCompleted))
		mock.ExpectRollback()

		body, _ := json.Marshal(map[string]string{"reason": "fraud review"})
		r := httptest.NewRequest("PUT", "/admin/withdrawals/"+withdrawalID+"/reject", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "not pending")
	})
}
