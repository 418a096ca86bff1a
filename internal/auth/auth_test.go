package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/p-n-ai/pai-course/internal/auth"
	"github.com/p-n-ai/pai-course/internal/platform/database/dbtest"
)

func newService(t *testing.T, users auth.UserStore) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(auth.ServiceConfig{
		Users:      users,
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestNewService_RequiresSecret(t *testing.T) {
	if _, err := auth.NewService(auth.ServiceConfig{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "Aisyah", "Aisyah@Example.com ", "hunter22")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.Token == "" || reg.User.ID == "" {
		t.Fatalf("Register() = %+v", reg)
	}
	if reg.User.Email != "aisyah@example.com" {
		t.Errorf("Email = %q, want lowercased", reg.User.Email)
	}

	login, err := svc.Login(ctx, "AISYAH@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Errorf("Login() user = %s, want %s", login.User.ID, reg.User.ID)
	}

	userID, err := svc.VerifyToken(login.Token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	me, err := svc.Me(ctx, userID)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if me.Name != "Aisyah" {
		t.Errorf("Me() name = %q", me.Name)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := newService(t, nil)
	tests := []struct {
		name, user, email, password string
	}{
		{"blank name", " ", "a@b.co", "hunter22"},
		{"bad email", "A", "not-an-email", "hunter22"},
		{"short password", "A", "a@b.co", "123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.user, tt.email, tt.password)
			if !errors.Is(err, auth.ErrInvalidInput) {
				t.Errorf("Register() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "A", "a@b.co", "hunter22"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, "B", "A@B.CO", "hunter22"); !errors.Is(err, auth.ErrEmailTaken) {
		t.Errorf("Register() error = %v, want ErrEmailTaken", err)
	}
}

func TestLogin_Failures(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "A", "a@b.co", "hunter22"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for _, tc := range []struct{ email, password string }{
		{"a@b.co", "wrong-password"},
		{"nobody@b.co", "hunter22"},
	} {
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Errorf("Login(%s) error = %v, want ErrInvalidCredentials", tc.email, err)
		}
	}
}

func TestVerifyToken_Rejects(t *testing.T) {
	svc := newService(t, nil)
	other, err := auth.NewService(auth.ServiceConfig{Secret: "other-secret", BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	foreign, err := other.Register(context.Background(), "A", "a@b.co", "hunter22")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "pai-course",
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	expiredToken, err := expired.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: "pai-course", Subject: "user-1"})
	noneToken, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString(none) error = %v", err)
	}

	tests := map[string]string{
		"garbage":        "not.a.token",
		"wrong secret":   foreign.Token,
		"expired":        expiredToken,
		"none algorithm": noneToken,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.VerifyToken(token); !errors.Is(err, auth.ErrInvalidToken) {
				t.Errorf("VerifyToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	svc := newService(t, nil)
	sess, err := svc.Register(context.Background(), "A", "a@b.co", "hunter22")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var seen string
	h := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + sess.Token, "", http.StatusNoContent},
		{"query token", "", "?token=" + sess.Token, http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + sess.Token, "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != sess.User.ID {
				t.Errorf("user id = %q, want %q", seen, sess.User.ID)
			}
		})
	}
}

func TestPostgresUserStore(t *testing.T) {
	pool := dbtest.NewPool(t)
	users, err := auth.NewPostgresUserStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresUserStore() error = %v", err)
	}
	svc := newService(t, users)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "A", "A@b.co", "hunter22")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, "B", "a@B.co", "hunter22"); !errors.Is(err, auth.ErrEmailTaken) {
		t.Errorf("duplicate Register() error = %v, want ErrEmailTaken", err)
	}
	if _, err := svc.Login(ctx, "a@b.co", "hunter22"); err != nil {
		t.Errorf("Login() error = %v", err)
	}
	if _, err := svc.Me(ctx, reg.User.ID); err != nil {
		t.Errorf("Me() error = %v", err)
	}
	if _, err := svc.Me(ctx, "not-a-uuid"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Errorf("Me(bad id) error = %v, want ErrUserNotFound", err)
	}
}
