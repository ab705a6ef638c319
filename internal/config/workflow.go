package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type WorkflowConfig struct {
	OTPLength           int
	OTPTimeout          time.Duration
	TokenExpiry         time.Duration
	ResetTokenExpiry    time.Duration
	AccountNumberLen    int
	MaxNumberDraws      int
	AMLThresholdMinor   int64
	RestrictedCountries []string
	MailRetries         int
}

func LoadWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		OTPLength:           getEnvAsInt("OTP_CODE_LENGTH", 6),
		OTPTimeout:          getEnvAsDuration("OTP_CODE_TIMEOUT", 5*time.Minute),
		TokenExpiry:         getEnvAsDuration("SESSION_TOKEN_EXPIRY", 1*time.Hour),
		ResetTokenExpiry:    getEnvAsDuration("RESET_TOKEN_EXPIRY", 15*time.Minute),
		AccountNumberLen:    getEnvAsInt("ACCOUNT_NUMBER_LENGTH", 10),
		MaxNumberDraws:      getEnvAsInt("ACCOUNT_NUMBER_MAX_DRAWS", 25),
		AMLThresholdMinor:   int64(getEnvAsInt("AML_THRESHOLD_MINOR", 1000000)),
		RestrictedCountries: getEnvAsList("FATCA_RESTRICTED_COUNTRIES", []string{"KP", "IR"}),
		MailRetries:         getEnvAsInt("MAIL_SEND_RETRIES", 1),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}
