package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/centralcitybank/backend/internal/models"
)

// ErrStoreUnavailable is returned when redis is down and a single-use
// payload can neither be stored nor redeemed.
var ErrStoreUnavailable = errors.New("code store unavailable")

// QRService issues single-use receive-money codes. The payload lives in
// redis so a scanned code can only be settled once.
type QRService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *LedgerService
}

func NewQRService(db *sql.DB, redis *redis.Client, ledger *LedgerService) *QRService {
	return &QRService{
		db:     db,
		redis:  redis,
		ledger: ledger,
	}
}

// GenerateReceiveCode encodes a receive-money request for the given account
// and returns the opaque code alongside a base64 PNG rendering of it.
func (s *QRService) GenerateReceiveCode(ctx context.Context, accountNumber string, amount int64) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrStoreUnavailable
	}
	if amount <= 0 {
		return "", "", ErrInvalidAmount
	}
	if _, err := s.ledger.GetAccountByNumber(accountNumber); err != nil {
		return "", "", err
	}

	payload := map[string]any{
		"accountNumber": accountNumber,
		"amount":        amount,
		"timestamp":     time.Now().Unix(),
		"nonce":         s.generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return code, qrImage, nil
}

// ProcessReceiveCode redeems a scanned code: the encoded account is credited
// and the payload is consumed so a replay fails with an expired-code error.
func (s *QRService) ProcessReceiveCode(ctx context.Context, code string) (*models.Transaction, error) {
	if s.redis == nil {
		return nil, ErrStoreUnavailable
	}

	key := fmt.Sprintf("qr:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var payload struct {
		AccountNumber string `json:"accountNumber"`
		Amount        int64  `json:"amount"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	txn, err := s.ledger.Deposit(payload.AccountNumber, payload.Amount, "QR code payment received")
	if err != nil {
		return nil, err
	}

	return txn, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
