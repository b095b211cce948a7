package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"groundwork/internal/config"
	"groundwork/internal/models"
	"groundwork/internal/repository"
)

type fakeUserRepo struct {
	createErr error
	byEmail   *models.User
	byIdent   *models.User
	created   []*models.User
}

func (f *fakeUserRepo) Create(_ context.Context, u *models.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, u)
	return nil
}

func (f *fakeUserRepo) GetByID(context.Context, string) (*models.User, error) {
	return nil, repository.ErrUserNotFound
}

func (f *fakeUserRepo) GetByEmail(context.Context, string) (*models.User, error) {
	if f.byEmail == nil {
		return nil, repository.ErrUserNotFound
	}
	return f.byEmail, nil
}

func (f *fakeUserRepo) GetByIdentifier(context.Context, string) (*models.User, error) {
	if f.byIdent == nil {
		return nil, repository.ErrUserNotFound
	}
	return f.byIdent, nil
}

func (f *fakeUserRepo) ListAll(context.Context) ([]models.User, error) { return nil, nil }
func (f *fakeUserRepo) UpdateProfile(context.Context, string, *models.UpdateUserRequest) error {
	return nil
}
func (f *fakeUserRepo) UpdatePasswordHash(context.Context, string, string) error { return nil }
func (f *fakeUserRepo) Delete(context.Context, string) error                     { return nil }

type fakeResetRepo struct {
	createErr  error
	consumeErr error
	created    []*models.PasswordResetToken

	consumedTokenHash string
	consumedPwHash    string
	consumeCalls      int
}

func (f *fakeResetRepo) Create(_ context.Context, t *models.PasswordResetToken) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, t)
	return nil
}

func (f *fakeResetRepo) ConsumeAndResetPassword(_ context.Context, tokenHash, passwordHash string, now time.Time) (*models.PasswordResetToken, error) {
	f.consumeCalls++
	f.consumedTokenHash = tokenHash
	f.consumedPwHash = passwordHash
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	used := now
	return &models.PasswordResetToken{ID: "tok-1", UserID: "user-1", TokenHash: tokenHash, UsedAt: &used}, nil
}

type fakeMailer struct {
	to      string
	subject string
	body    string
}

func (f *fakeMailer) Send(to, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return nil
}

func newTestAuthHandler(users *fakeUserRepo, resets *fakeResetRepo, mailer *fakeMailer, cfg *config.Config) *AuthHandler {
	if cfg == nil {
		cfg = &config.Config{JWTSecret: "test-secret"}
	}
	return &AuthHandler{
		users:  users,
		resets: resets,
		mailer: mailer,
		cfg:    cfg,
		v:      validator.New(),
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeResetResponse(t *testing.T, rr *httptest.ResponseRecorder) models.ResetPasswordResponse {
	t.Helper()
	var resp models.ResetPasswordResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func validResetToken() string {
	h := sha256.Sum256([]byte("seed"))
	return hex.EncodeToString(h[:])
}

func TestResetPasswordRejectsBeforeTouchingStorage(t *testing.T) {
	tests := []struct {
		name    string
		req     models.ResetPasswordRequest
		message string
	}{
		{
			name: "mismatched passwords",
			req: models.ResetPasswordRequest{
				Token:              validResetToken(),
				NewPassword:        "longenough1",
				NewPasswordConfirm: "longenough2",
			},
			message: "Passwords do not match",
		},
		{
			name: "short password",
			req: models.ResetPasswordRequest{
				Token:              validResetToken(),
				NewPassword:        "short",
				NewPasswordConfirm: "short",
			},
			message: "Password must be at least 8 characters long",
		},
		{
			name: "short and mismatched reports mismatch first",
			req: models.ResetPasswordRequest{
				Token:              validResetToken(),
				NewPassword:        "short",
				NewPasswordConfirm: "other",
			},
			message: "Passwords do not match",
		},
		{
			name: "malformed token",
			req: models.ResetPasswordRequest{
				Token:              "not-a-token",
				NewPassword:        "longenough1",
				NewPasswordConfirm: "longenough1",
			},
			message: "Invalid reset token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resets := &fakeResetRepo{}
			h := newTestAuthHandler(&fakeUserRepo{}, resets, &fakeMailer{}, nil)

			rr := postJSON(t, h.ResetPassword, tt.req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			resp := decodeResetResponse(t, rr)
			if resp.Message != tt.message {
				t.Errorf("message = %q, want %q", resp.Message, tt.message)
			}
			if resp.Success {
				t.Error("success should be false")
			}
			if resets.consumeCalls != 0 {
				t.Errorf("storage touched %d times on a rejected request", resets.consumeCalls)
			}
		})
	}
}

func TestResetPasswordSuccess(t *testing.T) {
	resets := &fakeResetRepo{}
	h := newTestAuthHandler(&fakeUserRepo{}, resets, &fakeMailer{}, nil)

	token := validResetToken()
	rr := postJSON(t, h.ResetPassword, models.ResetPasswordRequest{
		Token:              token,
		NewPassword:        "longenough1",
		NewPasswordConfirm: "longenough1",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rr.Code, rr.Body.String())
	}
	resp := decodeResetResponse(t, rr)
	if resp.Message != "Password reset successful" || !resp.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Storage sees the hash of the token, never the raw token.
	sum := sha256.Sum256([]byte(token))
	if resets.consumedTokenHash != hex.EncodeToString(sum[:]) {
		t.Errorf("token hash = %q", resets.consumedTokenHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(resets.consumedPwHash), []byte("longenough1")); err != nil {
		t.Errorf("stored credential does not verify: %v", err)
	}
}

func TestResetPasswordTokenErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{repository.ErrTokenExpired, "Reset token has expired"},
		{repository.ErrTokenConsumed, "Reset token has already been used"},
		{repository.ErrTokenNotFound, "Invalid reset token"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			resets := &fakeResetRepo{consumeErr: tt.err}
			h := newTestAuthHandler(&fakeUserRepo{}, resets, &fakeMailer{}, nil)

			rr := postJSON(t, h.ResetPassword, models.ResetPasswordRequest{
				Token:              validResetToken(),
				NewPassword:        "longenough1",
				NewPasswordConfirm: "longenough1",
			})
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			resp := decodeResetResponse(t, rr)
			if resp.Message != tt.message || resp.Success {
				t.Fatalf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestForgotPasswordUnknownEmailStillOK(t *testing.T) {
	resets := &fakeResetRepo{}
	h := newTestAuthHandler(&fakeUserRepo{}, resets, &fakeMailer{}, nil)

	rr := postJSON(t, h.ForgotPassword, models.ForgotPasswordRequest{Email: "nobody@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(resets.created) != 0 {
		t.Fatalf("no token should be created for an unknown email")
	}
}

func TestForgotPasswordIssuesToken(t *testing.T) {
	users := &fakeUserRepo{byEmail: &models.User{ID: "user-1", Email: "a@example.com"}}
	resets := &fakeResetRepo{}
	mailer := &fakeMailer{}
	cfg := &config.Config{AuthReturnResetToken: true}
	h := newTestAuthHandler(users, resets, mailer, cfg)

	rr := postJSON(t, h.ForgotPassword, models.ForgotPasswordRequest{Email: "a@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	raw, _ := resp["token"].(string)
	if len(raw) != 64 {
		t.Fatalf("expected 64-char hex token, got %q", raw)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		t.Fatalf("token is not hex: %v", err)
	}

	if len(resets.created) != 1 {
		t.Fatalf("expected one stored token, got %d", len(resets.created))
	}
	sum := sha256.Sum256([]byte(raw))
	if resets.created[0].TokenHash != hex.EncodeToString(sum[:]) {
		t.Error("stored hash does not match issued token")
	}
	if resets.created[0].UserID != "user-1" {
		t.Errorf("token for wrong user: %q", resets.created[0].UserID)
	}

	if mailer.to != "a@example.com" {
		t.Errorf("mail sent to %q", mailer.to)
	}
	if !bytes.Contains([]byte(mailer.body), []byte(raw)) {
		t.Error("mail body does not contain the token")
	}
}

func TestForgotPasswordStorageFailureWithholdsToken(t *testing.T) {
	users := &fakeUserRepo{byEmail: &models.User{ID: "user-1", Email: "a@example.com"}}
	resets := &fakeResetRepo{createErr: errors.New("insert failed")}
	mailer := &fakeMailer{}
	cfg := &config.Config{AuthReturnResetToken: true}
	h := newTestAuthHandler(users, resets, mailer, cfg)

	rr := postJSON(t, h.ForgotPassword, models.ForgotPasswordRequest{Email: "a@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["token"]; ok {
		t.Fatal("an unstored token must not be returned")
	}
	if mailer.to != "" {
		t.Fatalf("no mail should be sent, got one to %q", mailer.to)
	}
}

func TestSignupDuplicateUser(t *testing.T) {
	users := &fakeUserRepo{createErr: &pq.Error{Code: "23505"}}
	h := newTestAuthHandler(users, &fakeResetRepo{}, &fakeMailer{}, nil)

	rr := postJSON(t, h.Signup, models.SignupRequest{
		Email:    "a@example.com",
		Password: "longenough1",
		Name:     "A",
		UserName: "a_user",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "duplicate_user" {
		t.Fatalf("unexpected error code: %v", resp["error"])
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	users := &fakeUserRepo{byIdent: &models.User{
		ID:           "user-1",
		Email:        "a@example.com",
		UserName:     "a_user",
		PasswordHash: string(hash),
	}}
	h := newTestAuthHandler(users, &fakeResetRepo{}, &fakeMailer{}, nil)

	rr := postJSON(t, h.Login, models.LoginRequest{Identifier: "a_user", Password: "correct-horse1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rr.Code, rr.Body.String())
	}
	var resp models.LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.Email != "a@example.com" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rr = postJSON(t, h.Login, models.LoginRequest{Identifier: "a_user", Password: "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	var errResp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp["error"] != "invalid_credentials" {
		t.Fatalf("unexpected error code: %v", errResp["error"])
	}
}
