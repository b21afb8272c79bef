package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	AllowOrigins    []string
	LogstashTCPAddr string
	FrontendBaseURL string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPUseTLS   bool

	PasswordResetTTL         time.Duration
	PasswordResetOTPLength   int
	PasswordMinLength        int
	PasswordResetRejectReuse bool
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	tokenTTL := 24 * time.Hour
	if v, err := time.ParseDuration(getenv("TOKEN_TTL", "24h")); err == nil && v > 0 {
		tokenTTL = v
	}

	resetTTL := 10 * time.Minute
	if v, err := time.ParseDuration(getenv("PASSWORD_RESET_TTL", "10m")); err == nil && v > 0 {
		resetTTL = v
	}

	otpLen := 6
	if v, err := strconv.Atoi(getenv("PASSWORD_RESET_OTP_LENGTH", "6")); err == nil && v > 0 {
		otpLen = v
	}

	minLen := 6
	if v, err := strconv.Atoi(getenv("PASSWORD_MIN_LENGTH", "6")); err == nil && v > 0 {
		minLen = v
	}

	return Config{
		Port:            getenv("PORT", "8080"),
		DatabaseURL:     must("DATABASE_URL"),
		JWTSecret:       must("JWT_SECRET"),
		TokenTTL:        tokenTTL,
		AllowOrigins:    splitAndTrim(getenv("ALLOW_ORIGINS", "*")),
		LogstashTCPAddr: getenv("LOGSTASH_TCP_ADDR", ""),
		FrontendBaseURL: getenv("FRONTEND_BASE_URL", ""),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", ""),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPUseTLS:   getenv("SMTP_USE_TLS", "false") == "true",

		PasswordResetTTL:         resetTTL,
		PasswordResetOTPLength:   otpLen,
		PasswordMinLength:        minLen,
		PasswordResetRejectReuse: getenv("PASSWORD_RESET_REJECT_REUSE", "true") == "true",
	}
}

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}
