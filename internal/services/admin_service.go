package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"github.com/centralcitybank/backend/internal/config"
	"github.com/centralcitybank/backend/internal/models"
)

// AdminService is the back-office counterpart of AuthService: its own
// credential table and tokens carrying a role=admin claim.
type AdminService struct {
	db        *sql.DB
	validator *validator.Validate
	cfg       *config.WorkflowConfig
}

type AdminSignupRequest struct {
	Username string `json:"username" validate:"required,min=3"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type AdminLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func NewAdminService(db *sql.DB, cfg *config.WorkflowConfig) *AdminService {
	return &AdminService{
		db:        db,
		validator: validator.New(),
		cfg:       cfg,
	}
}

// Signup registers a back-office operator
// @Summary Register admin
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AdminSignupRequest true "Signup request"
// @Success 201 {object} map[string]interface{} "Admin registered"
// @Failure 409 {string} string "Admin already exists"
// @Router /admin/signup [post]
func (s *AdminService) Signup(w http.ResponseWriter, r *http.Request) {
	var req AdminSignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := HashSecret(req.Password)
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	var admin models.Admin
	err = s.db.QueryRow(`
		INSERT INTO admins (username, email, password, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`,
		req.Username, strings.ToLower(req.Email), hashedPassword).Scan(&admin.ID, &admin.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Admin already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[ADMIN] Signup failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create admin", http.StatusInternalServerError, nil)
		return
	}

	admin.Username = req.Username
	admin.Email = strings.ToLower(req.Email)

	log.Printf("[ADMIN] Admin registered - ID: %d", admin.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"message": "Admin registered successfully",
		"admin":   admin,
	})
}

// Login authenticates a back-office operator
// @Summary Admin login
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AdminLoginRequest true "Login request"
// @Success 200 {object} map[string]interface{} "Token"
// @Failure 401 {string} string "Invalid credentials"
// @Router /admin/login [post]
func (s *AdminService) Login(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var admin models.Admin
	var hashedPassword string
	err := s.db.QueryRow(`
		SELECT id, username, email, password, created_at FROM admins WHERE email = $1`,
		strings.ToLower(req.Email)).
		Scan(&admin.ID, &admin.Username, &admin.Email, &hashedPassword, &admin.CreatedAt)
	if err != nil {
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !VerifySecret(req.Password, hashedPassword) {
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"admin_id": admin.ID,
		"role":     "admin",
		"exp":      time.Now().Add(s.cfg.TokenExpiry).Unix(),
	})
	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	if err != nil {
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] Login successful for admin %d", admin.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message": "Login successful",
		"token":   signed,
		"admin":   admin,
	})
}

// ListUsers returns all users without credential material
// @Summary List users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Users"
// @Router /admin/users [get]
func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT id, first_name, middle_name, last_name, email, phone_number, account_type,
			currency, kyc_status, balance, created_at
		FROM users
		ORDER BY id`)
	if err != nil {
		SendErrorResponse(w, "Error retrieving users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.MiddleName, &u.LastName, &u.Email,
			&u.PhoneNumber, &u.AccountType, &u.Currency, &u.KYCStatus, &u.Balance, &u.CreatedAt); err != nil {
			SendErrorResponse(w, "Error retrieving users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message": "Users retrieved successfully",
		"users":   users,
	})
}

// DeleteUser hard-deletes a user and everything it owns
// @Summary Delete user
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} map[string]string "Deleted"
// @Failure 404 {string} string "User not found"
// @Router /admin/users/{id} [delete]
func (s *AdminService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil || !exists {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	// Hard delete, owned rows first. No soft-delete or audit trail.
	for _, q := range []string{
		`DELETE FROM withdrawal_stages WHERE withdrawal_id IN (SELECT withdrawal_id FROM withdrawals WHERE user_id = $1)`,
		`DELETE FROM withdrawals WHERE user_id = $1`,
		`DELETE FROM transactions WHERE account_id IN (SELECT id FROM accounts WHERE user_id = $1)`,
		`DELETE FROM accounts WHERE user_id = $1`,
		`DELETE FROM users WHERE id = $1`,
	} {
		if _, err := tx.Exec(q, userID); err != nil {
			log.Printf("[ADMIN] User delete failed for %s: %v", userID, err)
			SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] User %s deleted", userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "User deleted successfully"})
}

// UpdateKYC approves or rejects a user's KYC verification
// @Summary Update KYC status
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body object{status=string} true "New status (verified or rejected)"
// @Success 200 {object} map[string]string "Updated"
// @Failure 404 {string} string "User not found"
// @Router /admin/users/{id}/kyc [put]
func (s *AdminService) UpdateKYC(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status" validate:"required,oneof=verified rejected"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.db.Exec("UPDATE users SET kyc_status = $1 WHERE id = $2", req.Status, userID)
	if err != nil {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ADMIN] KYC status for user %s set to %s", userID, req.Status)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "KYC status updated"})
}
