package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"volunteerhub/internal/model"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/golang-jwt/jwt/v5"
)

type mockAccounts struct {
	registered []service.RegisterInput
	user       *model.User
	err        error
}

func (m *mockAccounts) Register(ctx context.Context, in service.RegisterInput) (*model.User, error) {
	m.registered = append(m.registered, in)
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func (m *mockAccounts) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	user := &model.User{ID: 42, Email: "org@example.com", Role: model.RoleOrganization}

	raw, err := tokens.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := service.Actor{UserID: 42, Email: "org@example.com", Role: model.RoleOrganization}
	if actor != want {
		t.Fatalf("actor = %+v, want %+v", actor, want)
	}
}

func TestTokens_Rejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	user := &model.User{ID: 1, Role: model.RoleVolunteer}

	other, _ := NewTokens("other-secret", time.Hour).Issue(user)
	if _, err := tokens.Verify(other); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}

	expired := NewTokens("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Issue(user)
	if _, err := tokens.Verify(old); err == nil {
		t.Fatalf("expired token must be rejected")
	}

	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             "superuser",
	}
	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if _, err := tokens.Verify(forged); err == nil {
		t.Fatalf("unknown role must be rejected")
	}

	if _, err := tokens.Verify("garbage"); err == nil {
		t.Fatalf("garbage must be rejected")
	}
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	binding.EnableDecoderDisallowUnknownFields = true
	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	return r
}

func TestRegisterHandler(t *testing.T) {
	accounts := &mockAccounts{user: &model.User{ID: 7, Email: "v@example.com", Role: model.RoleVolunteer}}
	r := newRouter(NewHandler(accounts, NewTokens("secret", time.Hour), nil))

	body := `{"role":"volunteer","email":"v@example.com","password":"secret123","skills":["cooking"]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("expected token in response: %s", w.Body.String())
	}
	if len(accounts.registered) != 1 || accounts.registered[0].Skills[0] != "cooking" {
		t.Fatalf("register input not forwarded: %+v", accounts.registered)
	}
}

func TestRegisterHandler_StrictBody(t *testing.T) {
	accounts := &mockAccounts{user: &model.User{ID: 7}}
	r := newRouter(NewHandler(accounts, NewTokens("secret", time.Hour), nil))

	bodies := []string{
		`{"role":"volunteer","email":"v@example.com","password":"secret123","verified":true}`,
		`{"role":"volunteer","email":"v@example.com","password":123456}`,
		``,
	}
	for _, body := range bodies {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(body)))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
	if len(accounts.registered) != 0 {
		t.Fatalf("malformed bodies must not reach the engine")
	}
}

func TestRegisterHandler_AdminForbidden(t *testing.T) {
	accounts := &mockAccounts{user: &model.User{ID: 7}}
	r := newRouter(NewHandler(accounts, NewTokens("secret", time.Hour), nil))

	bodies := []string{
		`{"role":"admin"}`,
		`{"role":"admin","email":"root@example.com","password":"secret123","is_root":true}`,
		`{"role":"admin","email":"root@example.com","password":"secret123","skills":"x"}`,
		`{"email":"root@example.com","password":123,"role":"admin"}`,
	}
	for _, body := range bodies {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(body)))
		if w.Code != http.StatusForbidden {
			t.Fatalf("body %q: expected 403, got %d: %s", body, w.Code, w.Body.String())
		}
	}
	if len(accounts.registered) != 0 {
		t.Fatalf("admin registrations must not reach the engine")
	}
}

func TestLoginHandler(t *testing.T) {
	accounts := &mockAccounts{err: fmt.Errorf("%w: invalid credentials", service.ErrUnauthorized)}
	r := newRouter(NewHandler(accounts, NewTokens("secret", time.Hour), nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"email":"a@example.com","password":"x"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	accounts.err = nil
	accounts.user = &model.User{ID: 3, Email: "a@example.com", Role: model.RoleAdmin}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"email":"a@example.com","password":"x"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
