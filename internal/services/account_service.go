package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/centralcitybank/backend/internal/middleware"
)

// AccountService exposes ledger mutations and read projections over HTTP.
// PIN checks happen here at the boundary; the ledger itself only moves money.
type AccountService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

type DepositRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required,len=10,numeric"`
	Pin           string `json:"pin" validate:"required,len=4,numeric"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Description   string `json:"description" validate:"max=200"`
}

type WithdrawRequest struct {
	Email         string `json:"email" validate:"required,email"`
	AccountNumber string `json:"accountNumber" validate:"omitempty,len=10,numeric"`
	Pin           string `json:"pin" validate:"required,len=4,numeric"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Description   string `json:"description" validate:"max=200"`
}

func NewAccountService(db *sql.DB, ledger *LedgerService) *AccountService {
	return &AccountService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// Deposit credits an account
// @Summary Deposit funds
// @Description Credit an account; the transaction appends to the ledger atomically
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Deposit request"
// @Success 200 {object} map[string]interface{} "Updated account"
// @Failure 400 {string} string "Invalid PIN or amount"
// @Failure 404 {string} string "Account not found"
// @Router /deposit [post]
func (s *AccountService) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if _, err := s.ledger.GetAccountByNumber(req.AccountNumber); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	if !s.verifyAccountPin(req.AccountNumber, req.Pin) {
		SendErrorResponse(w, "Invalid PIN", http.StatusBadRequest, nil)
		return
	}

	entry, err := s.ledger.Deposit(req.AccountNumber, req.Amount, req.Description)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	account, err := s.ledger.GetAccountByNumber(req.AccountNumber)
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[LEDGER] Deposit of %d to account %s (tx %s)", req.Amount, req.AccountNumber, entry.TransactionID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "Deposit successful",
		"account":     account,
		"transaction": entry,
	})
}

// Withdraw debits an account and opens a pending withdrawal
// @Summary Withdraw funds
// @Description Debit an account atomically and open a withdrawal pending approval stages
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body WithdrawRequest true "Withdraw request"
// @Success 200 {object} map[string]interface{} "Transaction and pending withdrawal"
// @Failure 400 {string} string "Insufficient funds or invalid PIN"
// @Failure 404 {string} string "Account not found"
// @Router /withdraw [post]
func (s *AccountService) Withdraw(w http.ResponseWriter, r *http.Request) {
	callerID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok || callerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	email := strings.ToLower(req.Email)

	accountNumber := req.AccountNumber
	if accountNumber == "" {
		// No explicit account: fall back to the contact's first account.
		err := s.db.QueryRow(`
			SELECT a.account_number
			FROM accounts a
			JOIN users u ON a.user_id = u.id
			WHERE u.email = $1
			ORDER BY a.id
			LIMIT 1`, email).Scan(&accountNumber)
		if err != nil {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
	}

	// The debited account must belong to both the contact and the bearer.
	var ownerID int
	var ownerEmail string
	err := s.db.QueryRow(`
		SELECT a.user_id, u.email
		FROM accounts a
		JOIN users u ON a.user_id = u.id
		WHERE a.account_number = $1`, accountNumber).Scan(&ownerID, &ownerEmail)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if ownerEmail != email || strconv.Itoa(ownerID) != callerID {
		log.Printf("[LEDGER] Withdrawal on account %s blocked for user %s", accountNumber, callerID)
		SendErrorResponse(w, "Account does not belong to this user", http.StatusForbidden, nil)
		return
	}

	if !s.verifyUserPin(email, req.Pin) {
		SendErrorResponse(w, "Invalid PIN", http.StatusBadRequest, nil)
		return
	}

	entry, withdrawal, err := s.ledger.Withdraw(accountNumber, req.Amount, req.Description)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	log.Printf("[LEDGER] Withdrawal of %d from account %s opened as %s", req.Amount, accountNumber, withdrawal.WithdrawalID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "Withdrawal initiated",
		"transaction": entry,
		"withdrawal":  withdrawal,
	})
}

// BalanceEnquiry retrieves an account's balance
// @Summary Get account balance
// @Tags accounts
// @Produce json
// @Param accountNumber path string true "Account number"
// @Success 200 {object} map[string]interface{} "Balance"
// @Failure 404 {object} map[string]string "Account not found"
// @Router /accounts/{accountNumber}/balance [get]
func (s *AccountService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")

	account, err := s.ledger.GetAccountByNumber(accountNumber)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accountNumber":    account.AccountNumber,
		"availableBalance": account.Balance,
		"currency":         account.Currency,
	})
}

// RecentTransactions merges all owned accounts' logs, newest first
// @Summary Get recent transactions
// @Tags accounts
// @Produce json
// @Param id path int true "User ID"
// @Param limit query int false "Max entries (default 10)"
// @Success 200 {array} models.Transaction "Ordered list"
// @Failure 404 {object} map[string]string "User not found"
// @Router /users/{id}/transactions/recent [get]
func (s *AccountService) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	requestedID := chi.URLParam(r, "id")

	userID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if userID != requestedID {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	id, err := strconv.Atoi(requestedID)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var exists bool
	if err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists); err != nil || !exists {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l >= 1 {
			if l > 100 {
				l = 100
			}
			limit = l
		}
	}

	transactions, err := s.ledger.RecentTransactions(id, limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch recent transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

func (s *AccountService) verifyAccountPin(accountNumber, pin string) bool {
	var hashedPin string
	err := s.db.QueryRow(`
		SELECT u.account_pin
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE a.account_number = $1`, accountNumber).Scan(&hashedPin)
	if err != nil {
		return false
	}
	return VerifySecret(pin, hashedPin)
}

func (s *AccountService) verifyUserPin(email, pin string) bool {
	var hashedPin string
	err := s.db.QueryRow("SELECT account_pin FROM users WHERE email = $1", email).Scan(&hashedPin)
	if err != nil {
		return false
	}
	return VerifySecret(pin, hashedPin)
}

func (s *AccountService) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrInvalidAmount):
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
	default:
		log.Printf("[LEDGER] Operation failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}
