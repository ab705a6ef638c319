package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
)

// ComplianceConfig holds the screening thresholds for outbound transfers.
type ComplianceConfig struct {
	AMLThresholdMinor   int64
	RestrictedCountries []string
}

type complianceRequest struct {
	Amount           int64  `json:"amount"`
	RecipientCountry string `json:"recipientCountry"`
}

// ComplianceMiddleware screens international transfer requests before the
// handler runs. AML: single transfers above the threshold are rejected.
// FATCA: transfers to restricted countries are rejected.
func ComplianceMiddleware(cfg ComplianceConfig) func(http.Handler) http.Handler {
	restricted := make(map[string]bool, len(cfg.RestrictedCountries))
	for _, c := range cfg.RestrictedCountries {
		restricted[c] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
			if err != nil {
				http.Error(w, "Invalid request", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var req complianceRequest
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "Invalid request", http.StatusBadRequest)
				return
			}

			if req.Amount > cfg.AMLThresholdMinor {
				log.Printf("[COMPLIANCE] AML rejection: amount %d exceeds threshold %d", req.Amount, cfg.AMLThresholdMinor)
				writeComplianceError(w, "Transaction amount exceeds AML threshold")
				return
			}

			if restricted[req.RecipientCountry] {
				log.Printf("[COMPLIANCE] FATCA rejection: restricted country %s", req.RecipientCountry)
				writeComplianceError(w, "Transaction involves a restricted country under FATCA")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeComplianceError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
