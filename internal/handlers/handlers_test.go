package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/qurrota/apiserver/internal/auth"
	"github.com/qurrota/apiserver/internal/imagehost"
	"github.com/qurrota/apiserver/internal/ratelimit"
	"github.com/qurrota/apiserver/internal/services"
	"github.com/qurrota/apiserver/internal/store"
	"github.com/qurrota/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memoryRepo struct {
	mu       sync.Mutex
	accounts map[string]types.Account
}

func (m *memoryRepo) GetByID(_ context.Context, id string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memoryRepo) GetByEmail(_ context.Context, email string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (m *memoryRepo) Create(_ context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	m.accounts[account.ID] = account
	return account, nil
}

func (m *memoryRepo) Update(_ context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; !ok {
		return types.Account{}, store.ErrNotFound
	}
	m.accounts[account.ID] = account
	return account, nil
}

func (m *memoryRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, types.Notification) {}

type stubImages struct{}

func (stubImages) Upload(_ context.Context, accountID string, r io.Reader) (imagehost.Image, error) {
	_, _ = io.Copy(io.Discard, r)
	return imagehost.Image{URL: "https://img.test/" + accountID + ".jpg", PublicID: accountID, Width: 500, Height: 500, Format: "jpg"}, nil
}

func (stubImages) Delete(context.Context, string) error { return nil }

func (stubImages) Owns(u string) bool { return strings.HasPrefix(u, "https://img.test/") }

type testServer struct {
	router http.Handler
	repo   *memoryRepo
}

const maxUpload = 1 << 10

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := &memoryRepo{accounts: map[string]types.Account{}}
	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	accounts := services.NewAccountService(services.Deps{
		Repo:         repo,
		Hasher:       auth.NewPasswordHasher(bcrypt.MinCost),
		Tokens:       tokens,
		Notifier:     nopDispatcher{},
		Images:       stubImages{},
		DefaultImage: "http://localhost:3000/images/profile-user.png",
	})

	log := zap.NewNop()
	r := chi.NewRouter()
	r.Get("/test", Test)
	r.Route("/api/auth", func(r chi.Router) {
		AuthRouter(r, accounts, nil, log)
	})
	r.Route("/api/profile", func(r chi.Router) {
		ProfileRouter(r, accounts, maxUpload, RequireAuth(tokens), log)
	})
	return &testServer{router: r, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// login signs up, verifies and logs in, returning the bearer token.
func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Ann", "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	account, err := s.repo.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{
		"email": email, "code": *account.EmailVerificationCode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestTestRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/test", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"server":"ok"}`, rec.Body.String())
}

func TestSignupHandler(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Ann", "email": "a@x.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "User registered successfully. Verification code sent to email.", body["message"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "a@x.com", user["email"])
	assert.Equal(t, false, user["isVerified"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "emailVerificationCode")

	rec = s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Ann", "email": "A@x.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "User with this email already exists", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "Validation failed", body["message"])
	assert.Len(t, body["errors"], 3)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader("{broken"))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlersTrimEmail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Ann", "email": "  a@x.com ", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a@x.com", decode(t, rec)["user"].(map[string]any)["email"])

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": " a@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "trimmed address reaches the unverified check")

	rec = s.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "a@x.com\t"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRouterLimitsCodeRoutes(t *testing.T) {
	limiter := ratelimit.New(nil, 5, time.Minute, zap.NewNop())
	r := chi.NewRouter()
	AuthRouter(r, nil, limiter, zap.NewNop())

	limited := map[string]bool{}
	err := chi.Walk(r, func(method, route string, _ http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		limited[route] = len(middlewares) > 0
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{
		"/signup":              false,
		"/login":               false,
		"/verify-email":        true,
		"/resend-verification": true,
		"/forgot-password":     true,
		"/reset-password":      true,
	}, limited)
}

func TestLoginHandler(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Ann", "email": "a@x.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Please verify your email before logging in.", decode(t, rec)["message"])
}

func TestVerifyAndResendHandlers(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "a@x.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"email": "a@x.com", "code": "123456"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Email already verified", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/auth/resend-verification", "", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Email already verified", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/auth/resend-verification", "", map[string]string{"email": "b@x.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPasswordResetHandlers(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "a@x.com", "secret1")

	for _, email := range []string{"a@x.com", "nobody@x.com"} {
		rec := s.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": email})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "If an account exists, a reset code has been sent", decode(t, rec)["message"])
	}

	account, err := s.repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	code := *account.PasswordResetCode

	rec := s.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{
		"email": "a@x.com", "code": "000000", "newPassword": "newpass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired reset code", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{
		"email": "a@x.com", "code": code, "newPassword": "newpass",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Password reset successful", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@x.com", "password": "newpass"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProfileRequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No token, authorization denied", decode(t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/api/profile", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token is not valid", decode(t, rec)["message"])

	other, err := auth.NewTokenIssuer("other-secret", time.Hour).Issue(types.Account{ID: "x"})
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/profile", other, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfileHandlers(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "a@x.com", "secret1")

	rec := s.do(t, http.MethodGet, "/api/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Profile retrieved successfully", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPut, "/api/profile", token, map[string]any{
		"name":        "Annie",
		"dateOfBirth": "1990-05-01",
		"bio":         "hi",
		"phoneNumber": nil,
		"preferences": map[string]any{"emailNotifications": map[string]any{"news": false}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "Annie", user["name"])
	assert.Equal(t, "hi", user["bio"])
	assert.NotContains(t, user, "phoneNumber")
	prefs := user["preferences"].(map[string]any)
	assert.Equal(t, map[string]any{"news": false, "promotions": true}, prefs["emailNotifications"])

	for _, prefs := range []any{
		map[string]any{"theme": "dark"},
		map[string]any{"emailNotifications": "nope"},
		map[string]any{"emailNotifications": map[string]any{"news": "no"}},
	} {
		rec = s.do(t, http.MethodPut, "/api/profile", token, map[string]any{"preferences": prefs})
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPut, "/api/profile", token, map[string]any{"dateOfBirth": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/profile", token, map[string]any{"bio": strings.Repeat("a", 501)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/profile", token, map[string]any{"newPassword": "another1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Current password is required to change password", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPut, "/api/profile/image-url", token, map[string]string{"image": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Image URL is required", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPut, "/api/profile/image-url", token, map[string]string{"image": "https://example.com/me.png"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com/me.png", decode(t, rec)["user"].(map[string]any)["image"])

	rec = s.do(t, http.MethodDelete, "/api/profile", token, map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Incorrect password", decode(t, rec)["message"])

	rec = s.do(t, http.MethodDelete, "/api/profile", token, map[string]string{"password": "secret1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Account deleted successfully", decode(t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/api/profile", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartRequest(t *testing.T, token, field, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="me.png"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/profile/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestProfileImageUpload(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "a@x.com", "secret1")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, multipartRequest(t, token, "image", "image/png", []byte("png-bytes")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Profile image updated successfully", body["message"])
	info := body["imageInfo"].(map[string]any)
	assert.EqualValues(t, 500, info["width"])
	assert.Equal(t, info["url"], body["user"].(map[string]any)["image"])

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, multipartRequest(t, token, "image", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only image files are allowed", decode(t, rec)["message"])

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, multipartRequest(t, token, "avatar", "image/png", []byte("png-bytes")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No image file provided", decode(t, rec)["message"])

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, multipartRequest(t, token, "image", "image/png", bytes.Repeat([]byte("x"), maxUpload+1)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "File too large")

	rec = s.do(t, http.MethodPut, "/api/profile/image", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No image file provided", decode(t, rec)["message"])
}
