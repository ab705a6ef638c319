package models

import "time"

// KYC verification states
const (
	KYCStatusPending  = "pending"
	KYCStatusVerified = "verified"
	KYCStatusRejected = "rejected"
)

// User represents a registered customer
type User struct {
	ID          int        `json:"id" db:"id"`
	FirstName   string     `json:"firstName" db:"first_name"`
	MiddleName  string     `json:"middleName,omitempty" db:"middle_name"`
	LastName    string     `json:"lastName" db:"last_name"`
	Email       string     `json:"email" db:"email"`
	PhoneNumber string     `json:"phoneNumber" db:"phone_number"`
	Gender      string     `json:"gender" db:"gender"`
	DateOfBirth time.Time  `json:"dateOfBirth" db:"date_of_birth"`
	AccountType string     `json:"accountType" db:"account_type"`
	Address     string     `json:"address" db:"address"`
	PostalCode  string     `json:"postalCode" db:"postal_code"`
	State       string     `json:"state" db:"state"`
	Country     string     `json:"country" db:"country"`
	Currency    string     `json:"currency" db:"currency"`
	KYCStatus   string     `json:"kycStatus" db:"kyc_status"`
	Balance     int64      `json:"balance" db:"balance"` // denormalized total across accounts, in minor units
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	LastLogin   *time.Time `json:"lastLogin,omitempty" db:"last_login"`
}

// Admin represents a back-office operator with its own credential
type Admin struct {
	ID        int       `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
