package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/danpav1/Auth_Portal_BackEnd/internal/domain"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/service"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/util"
)

// memUserRepo behaves like the postgres repository: emails arrive already
// normalized and duplicates surface as a unique-violation error.
type memUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byEmail: make(map[string]*domain.User)}
}

func (r *memUserRepo) Create(ctx context.Context, email, name string, passwordHash, passwordSalt []byte) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[email]; exists {
		return nil, &pgconn.PgError{Code: "23505"}
	}
	now := time.Now()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: append([]byte(nil), passwordHash...),
		PasswordSalt: append([]byte(nil), passwordSalt...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byEmail[email] = user
	clone := *user
	return &clone, nil
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (r *memUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byEmail {
		if user.ID == id {
			clone := *user
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memUserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash, passwordSalt []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byEmail {
		if user.ID == id {
			user.PasswordHash = append([]byte(nil), passwordHash...)
			user.PasswordSalt = append([]byte(nil), passwordSalt...)
			user.UpdatedAt = time.Now()
			return nil
		}
	}
	return sql.ErrNoRows
}

type memResetRepo struct {
	mu     sync.Mutex
	active map[uuid.UUID]*domain.PasswordReset
	nextID int64
}

func newMemResetRepo() *memResetRepo {
	return &memResetRepo{active: make(map[uuid.UUID]*domain.PasswordReset)}
}

func (r *memResetRepo) Replace(ctx context.Context, userID uuid.UUID, otpHash, otpSalt []byte, expiresAt time.Time) (*domain.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	reset := &domain.PasswordReset{
		ID:        r.nextID,
		UserID:    userID,
		OTPHash:   append([]byte(nil), otpHash...),
		OTPSalt:   append([]byte(nil), otpSalt...),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	r.active[userID] = reset
	clone := *reset
	return &clone, nil
}

func (r *memResetRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset, ok := r.active[userID]
	if !ok || reset.ExpiresAt.Before(now) {
		return nil, sql.ErrNoRows
	}
	clone := *reset
	return &clone, nil
}

func (r *memResetRepo) MarkConsumed(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, reset := range r.active {
		if reset.ID == id {
			delete(r.active, userID)
			return nil
		}
	}
	return sql.ErrNoRows
}

type captureMailer struct {
	mu    sync.Mutex
	codes []struct {
		email string
		otp   string
	}
	confirmed []string
}

func (m *captureMailer) SendPasswordReset(ctx context.Context, email, otp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, struct {
		email string
		otp   string
	}{email: email, otp: otp})
	return nil
}

func (m *captureMailer) SendPasswordChanged(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = append(m.confirmed, email)
	return nil
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatal("expected a reset code to have been mailed")
	}
	return m.codes[len(m.codes)-1].otp
}

func newTestServer() (*echo.Echo, *captureMailer) {
	mailer := &captureMailer{}
	auth := service.NewAuthService(
		newMemUserRepo(),
		newMemResetRepo(),
		mailer,
		util.NewJWTManager("test-secret", time.Hour),
		10*time.Minute,
		6,
		6,
		true,
	)

	e := echo.New()
	RegisterAuth(e, auth)
	return e, mailer
}

func doJSON(e *echo.Echo, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestRegisterLoginDashboardFlow(t *testing.T) {
	e, _ := newTestServer()

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Name: "Alice", Email: "Alice@X.com", Password: "secret1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the register response")
	}
	user, _ := body["user"].(map[string]any)
	if user == nil || user["name"] != "Alice" {
		t.Fatalf("expected user with name Alice, got %v", body["user"])
	}
	if user["email"] != "alice@x.com" {
		t.Fatalf("expected normalized email in response, got %v", user["email"])
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "alice@x.com", Password: "secret1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	loginToken, _ := decodeBody(t, rec)["token"].(string)
	if loginToken == "" {
		t.Fatal("expected a token in the login response")
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/dashboard", nil, loginToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	dashboardUser, _ := decodeBody(t, rec)["user"].(map[string]any)
	if dashboardUser == nil || dashboardUser["name"] != "Alice" {
		t.Fatalf("expected dashboard user Alice, got %s", rec.Body.String())
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/dashboard", nil, "garbage-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/dashboard", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without authorization header, got %d", rec.Code)
	}
}

func TestRegisterDuplicateEmailIsCaseInsensitive(t *testing.T) {
	e, _ := newTestServer()

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Name: "First", Email: "User@x.com", Password: "secret1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Name: "Second", Email: "user@x.com", Password: "secret2"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["message"]; msg != "user already exists" {
		t.Fatalf("unexpected message: %v", msg)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	e, _ := newTestServer()

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Name: "Alice", Email: "alice@x.com", Password: "secret1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	wrongPassword := doJSON(e, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "alice@x.com", Password: "wrong"}, "")
	unknownEmail := doJSON(e, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "nobody@x.com", Password: "secret1"}, "")

	if wrongPassword.Code != http.StatusBadRequest || unknownEmail.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for both failures, got %d and %d", wrongPassword.Code, unknownEmail.Code)
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestForgotPasswordNeverRevealsAccounts(t *testing.T) {
	e, mailer := newTestServer()

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Name: "Alice", Email: "alice@x.com", Password: "secret1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	known := doJSON(e, http.MethodPost, "/api/v1/auth/forgot-password", PasswordResetRequest{Email: "alice@x.com"}, "")
	unknown := doJSON(e, http.MethodPost, "/api/v1/auth/forgot-password", PasswordResetRequest{Email: "nobody@x.com"}, "")

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200 for both branches, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", known.Body.String(), unknown.Body.String())
	}

	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	if len(mailer.codes) != 1 {
		t.Fatalf("expected exactly one mailed code, got %d", len(mailer.codes))
	}
	otp := mailer.codes[0].otp
	if len(otp) != 6 || strings.Trim(otp, "0123456789") != "" {
		t.Fatalf("expected a 6-digit numeric code, got %q", otp)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	e, mailer := newTestServer()

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Name: "Alice", Email: "alice@x.com", Password: "secret1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/forgot-password", PasswordResetRequest{Email: "alice@x.com"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	otp := mailer.lastCode(t)

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/reset-password", PasswordResetConfirmRequest{Email: "alice@x.com", OTP: "000000", NewPassword: "newpass1"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["message"]; msg != "invalid or expired reset code" {
		t.Fatalf("unexpected message for wrong code: %v", msg)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/reset-password", PasswordResetConfirmRequest{Email: "alice@x.com", OTP: otp, NewPassword: "secret1"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unchanged password, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/reset-password", PasswordResetConfirmRequest{Email: "alice@x.com", OTP: otp, NewPassword: "newpass1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid reset, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/reset-password", PasswordResetConfirmRequest{Email: "alice@x.com", OTP: otp, NewPassword: "anotherpass1"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when replaying a consumed code, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "alice@x.com", Password: "secret1"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected old password to stop working, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "alice@x.com", Password: "newpass1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected new password to work, got %d: %s", rec.Code, rec.Body.String())
	}

	mailer.mu.Lock()
	confirmations := len(mailer.confirmed)
	mailer.mu.Unlock()
	if confirmations != 1 {
		t.Fatalf("expected one confirmation mail, got %d", confirmations)
	}
}

func TestBearerHeaderParsing(t *testing.T) {
	e, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/dashboard", nil)
	req.Header.Set(echo.HeaderAuthorization, "Token abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer scheme, got %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["message"]; msg != "invalid authorization header" {
		t.Fatalf("unexpected message: %v", msg)
	}
}
