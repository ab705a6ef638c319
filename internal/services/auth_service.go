package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/centralcitybank/backend/internal/config"
	"github.com/centralcitybank/backend/internal/middleware"
	"github.com/centralcitybank/backend/internal/models"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
	cfg       *config.WorkflowConfig
	otp       *OTPService
	mailer    *Mailer
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	FirstName      string `json:"firstName" validate:"required,min=2" example:"John"`
	MiddleName     string `json:"middleName" validate:"omitempty,min=2"`
	LastName       string `json:"lastName" validate:"required,min=2" example:"Doe"`
	Email          string `json:"email" validate:"required,email" example:"user@example.com"`
	PhoneNumber    string `json:"phoneNumber" validate:"required" example:"+12074021612"`
	Gender         string `json:"gender" validate:"required"`
	DateOfBirth    string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	AccountType    string `json:"accountType" validate:"required,oneof=savings checking"`
	Address        string `json:"address" validate:"required"`
	PostalCode     string `json:"postalCode" validate:"required"`
	State          string `json:"state" validate:"required"`
	Country        string `json:"country" validate:"required"`
	Currency       string `json:"currency" validate:"required,len=3" example:"USD"`
	Password       string `json:"password" validate:"required,min=6"`
	AccountPin     string `json:"accountPin" validate:"required,len=4,numeric"`
	TermsAgreement bool   `json:"termsAgreement" validate:"eq=true"`
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required,len=10,numeric" example:"1234567890"`
	Password      string `json:"password" validate:"required,min=6" example:"password123"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, cfg *config.WorkflowConfig, otp *OTPService, mailer *Mailer) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
		cfg:       cfg,
		otp:       otp,
		mailer:    mailer,
	}
}

func (s *AuthService) sendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendErrorResponse(w, message, statusCode, validationErr)
}

// Register handles user registration
// @Summary Register a new user
// @Description Register a new user profile; an OTP is emailed to gate account activation
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} map[string]interface{} "Registration successful"
// @Failure 400 {string} string "Invalid request"
// @Failure 409 {string} string "Email already exists"
// @Failure 500 {string} string "Internal server error"
// @Router /register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	log.Printf("[AUTH] Registration request for email: %s", req.Email)

	hashedPassword, err := HashSecret(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	hashedPin, err := HashSecret(req.AccountPin)
	if err != nil {
		log.Printf("[AUTH] PIN hashing failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	dateOfBirth, _ := time.Parse("2006-01-02", req.DateOfBirth)

	var userID int
	err = s.db.QueryRow(`
		INSERT INTO users (first_name, middle_name, last_name, email, phone_number, gender, date_of_birth,
			account_type, address, postal_code, state, country, currency, password, account_pin,
			kyc_status, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 0, NOW())
		RETURNING id`,
		req.FirstName, req.MiddleName, req.LastName, strings.ToLower(req.Email), req.PhoneNumber,
		req.Gender, dateOfBirth, req.AccountType, req.Address, req.PostalCode, req.State,
		req.Country, req.Currency, hashedPassword, hashedPin, models.KYCStatusPending).Scan(&userID)
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[AUTH] Duplicate registration for %s", req.Email)
			s.sendErrorResponse(w, "User already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] User creation failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] User created successfully - ID: %d, Email: %s", userID, req.Email)

	// The user row is already committed: a failed OTP email must not roll it
	// back, only change the reported outcome.
	notified := true
	code, err := s.otp.Issue(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		log.Printf("[AUTH] OTP issue failed for %s: %v", req.Email, err)
		notified = false
	} else if err := s.mailer.SendOTP(req.Email, req.FirstName, code); err != nil {
		log.Printf("[AUTH] OTP email failed for %s: %v", req.Email, err)
		notified = false
	}

	message := "User registered successfully"
	if !notified {
		message = "User registered but notification failed"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"message": message,
		"user": map[string]any{
			"id":          userID,
			"firstName":   req.FirstName,
			"middleName":  req.MiddleName,
			"lastName":    req.LastName,
			"email":       strings.ToLower(req.Email),
			"phoneNumber": req.PhoneNumber,
			"accountType": req.AccountType,
			"currency":    req.Currency,
			"kycStatus":   models.KYCStatusPending,
		},
	})
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate with account number and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {string} string "Invalid request"
// @Failure 401 {string} string "Invalid credentials"
// @Failure 403 {string} string "KYC verification pending"
// @Router /login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.User
	var hashedPassword string
	err := s.db.QueryRow(`
		SELECT u.id, u.first_name, u.last_name, u.email, u.phone_number, u.currency, u.kyc_status, u.balance, u.password
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE a.account_number = $1`, req.AccountNumber).
		Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PhoneNumber,
			&user.Currency, &user.KYCStatus, &user.Balance, &hashedPassword)
	if err != nil {
		// Same response for unknown account and bad password: no enumeration.
		log.Printf("[AUTH] Login failed - account lookup miss")
		s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !VerifySecret(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user %d", user.ID)
		s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if user.KYCStatus != models.KYCStatusVerified {
		log.Printf("[AUTH] Login blocked - KYC %s for user %d", user.KYCStatus, user.ID)
		s.sendErrorResponse(w, "KYC verification pending", http.StatusForbidden, nil)
		return
	}

	token, err := s.generateJWT(user.ID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", user.ID, err)
		s.sendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	s.db.Exec("UPDATE users SET last_login = NOW() WHERE id = $1", user.ID)

	log.Printf("[AUTH] Login successful for user %d", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Logout handles user logout
// @Summary Logout user
// @Description Logout user and blacklist token for its remaining life
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			if err := s.redis.Set(ctx, key, "1", s.cfg.TokenExpiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// ForgotPassword emails a short-lived reset token
// @Summary Request password reset
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Reset email sent"
// @Failure 404 {string} string "User not found"
// @Router /forgot-password [post]
func (s *AuthService) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var userID int
	var firstName string
	err := s.db.QueryRow("SELECT id, first_name FROM users WHERE email = $1", strings.ToLower(req.Email)).
		Scan(&userID, &firstName)
	if err != nil {
		s.sendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"purpose": "password_reset",
		"exp":     time.Now().Add(s.cfg.ResetTokenExpiry).Unix(),
	})
	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	if err != nil {
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if err := s.mailer.SendPasswordReset(req.Email, firstName, signed); err != nil {
		log.Printf("[AUTH] Password reset email failed for user %d: %v", userID, err)
		s.sendErrorResponse(w, "Failed to send reset email", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password reset email sent"})
}

// ResetPassword sets a new password given a valid reset token
// @Summary Reset password
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Password has been reset"
// @Failure 401 {string} string "Invalid or expired token"
// @Router /reset-password [post]
func (s *AuthService) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token" validate:"required"`
		Password string `json:"password" validate:"required,min=6"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	token, err := jwt.Parse(req.Token, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		s.sendErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized, nil)
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["purpose"] != "password_reset" {
		s.sendErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized, nil)
		return
	}

	hashedPassword, err := HashSecret(req.Password)
	if err != nil {
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	result, err := s.db.Exec("UPDATE users SET password = $1 WHERE id = $2",
		hashedPassword, int(claims["user_id"].(float64)))
	if err != nil {
		s.sendErrorResponse(w, "Failed to reset password", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		s.sendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password has been reset"})
}

// GetUserAccount retrieves user account details from auth token
// @Summary Get user account details
// @Description Get authenticated user's profile and accounts
// @Tags auth
// @Produce json
// @Success 200 {object} models.User "User account details"
// @Failure 401 {string} string "Unauthorized"
// @Router /auth/account [get]
func (s *AuthService) GetUserAccount(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey)
	if userID == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, first_name, middle_name, last_name, email, phone_number, gender, account_type,
			address, postal_code, state, country, currency, kyc_status, balance, created_at
		FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.FirstName, &user.MiddleName, &user.LastName, &user.Email,
			&user.PhoneNumber, &user.Gender, &user.AccountType, &user.Address, &user.PostalCode,
			&user.State, &user.Country, &user.Currency, &user.KYCStatus, &user.Balance, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			http.Error(w, "User not found", http.StatusNotFound)
		} else {
			log.Printf("[AUTH] Failed to fetch user %v: %v", userID, err)
			http.Error(w, "Failed to fetch user details", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// verifyAccountOwnerPin checks that the account belongs to the user and
// that the supplied PIN matches the owner's stored PIN.
func (s *AuthService) verifyAccountOwnerPin(accountNumber, userID, pin string) error {
	var hashedPin string
	err := s.db.QueryRow(`
		SELECT u.account_pin
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE a.account_number = $1 AND u.id = $2`, accountNumber, userID).Scan(&hashedPin)
	if err != nil {
		return fmt.Errorf("account lookup failed: %w", err)
	}
	if !VerifySecret(pin, hashedPin) {
		return fmt.Errorf("pin mismatch")
	}
	return nil
}

func (s *AuthService) generateJWT(userID int) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"nameid":  userID,
		"exp":     time.Now().Add(s.cfg.TokenExpiry).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// HashSecret derives an argon2id hash; the stored form is salt$hash, both
// base64. Used for passwords and account PINs.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func VerifySecret(secret, hashedSecret string) bool {
	parts := strings.Split(hashedSecret, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
