package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"

	"github.com/centralcitybank/backend/internal/config"
	"github.com/centralcitybank/backend/internal/models"
)

// OTPService gates account activation behind proof of contact-channel
// access. One live code per user: issuing overwrites any unexpired code,
// and a successful verify consumes the code.
type OTPService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	mailer    *Mailer
	validator *validator.Validate
	cfg       *config.WorkflowConfig
}

func NewOTPService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, mailer *Mailer, cfg *config.WorkflowConfig) *OTPService {
	return &OTPService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		mailer:    mailer,
		validator: validator.New(),
		cfg:       cfg,
	}
}

// Issue generates a numeric one-time code and stores it against the contact
// email with the configured expiry. SET overwrites a previous live code.
func (s *OTPService) Issue(ctx context.Context, email string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("otp store unavailable")
	}

	code, err := generateOTP(s.cfg.OTPLength)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("otp:%s", email)
	if err := s.redis.Set(ctx, key, code, s.cfg.OTPTimeout).Err(); err != nil {
		return "", err
	}

	return code, nil
}

// VerifyOTP validates the submitted code and activates the user's first
// account
// @Summary Verify OTP
// @Description Verify the emailed one-time code; on success KYC flips to verified and the first account is created
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body map[string]string true "OTP verification request"
// @Success 201 {object} map[string]interface{} "Account activated"
// @Failure 400 {string} string "Invalid or expired OTP"
// @Failure 404 {string} string "User not found"
// @Router /verify-otp [post]
func (s *OTPService) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	if s.redis == nil {
		SendErrorResponse(w, "OTP store unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	var req struct {
		Email string `json:"email" validate:"required,email"`
		OTP   string `json:"otp" validate:"required,numeric"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	email := strings.ToLower(req.Email)

	var userID int
	var firstName, accountType, currency, kycStatus string
	err := s.db.QueryRow(`
		SELECT id, first_name, account_type, currency, kyc_status
		FROM users WHERE email = $1`, email).
		Scan(&userID, &firstName, &accountType, &currency, &kycStatus)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	ctx := r.Context()
	key := fmt.Sprintf("otp:%s", email)

	storedOTP, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		log.Printf("[OTP] Code expired or absent for user %d", userID)
		SendErrorResponse(w, "OTP expired", http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if storedOTP != req.OTP {
		log.Printf("[OTP] Code mismatch for user %d", userID)
		SendErrorResponse(w, "Invalid OTP", http.StatusBadRequest, nil)
		return
	}

	s.redis.Del(ctx, key)

	// The gate itself is replayable until expiry, so the side effect has to
	// be idempotent: an already-activated user keeps their existing account.
	var accountNumber string
	err = s.db.QueryRow(`
		SELECT account_number FROM accounts WHERE user_id = $1 ORDER BY id LIMIT 1`, userID).
		Scan(&accountNumber)
	if err == sql.ErrNoRows {
		account, err := s.ledger.CreateAccount(userID, accountType, currency)
		if err != nil {
			log.Printf("[OTP] Account creation failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
			return
		}
		accountNumber = account.AccountNumber
	} else if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if _, err := s.db.Exec("UPDATE users SET kyc_status = $1 WHERE id = $2",
		models.KYCStatusVerified, userID); err != nil {
		log.Printf("[OTP] KYC update failed for user %d: %v", userID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if err := s.mailer.SendWelcome(email, firstName, accountNumber, accountType); err != nil {
		log.Printf("[OTP] Welcome email failed for user %d: %v", userID, err)
	}

	log.Printf("[OTP] Verified successfully for user %d", userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"message":       "OTP Verified Successfully",
		"accountNumber": accountNumber,
		"kycStatus":     models.KYCStatusVerified,
	})
}

func generateOTP(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
