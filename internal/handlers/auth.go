package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/qurrota/apiserver/internal/auth"
	"github.com/qurrota/apiserver/internal/ratelimit"
	"github.com/qurrota/apiserver/internal/services"
	"github.com/qurrota/apiserver/types"
	"go.uber.org/zap"
)

// AuthHandler provides signup, login, email verification and password
// reset endpoints.
type AuthHandler struct {
	accounts *services.AccountService
	log      *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(accounts *services.AccountService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, log: log}
}

// AuthRouter registers auth routes on the given router. The limiter guards
// the endpoints that send email or check a code.
func AuthRouter(r chi.Router, accounts *services.AccountService, limiter *ratelimit.Limiter, log *zap.Logger) {
	handler := NewAuthHandler(accounts, log)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.With(limiter.Middleware("verify-email")).Post("/verify-email", handler.VerifyEmail)
	r.With(limiter.Middleware("resend-verification")).Post("/resend-verification", handler.ResendVerification)
	r.With(limiter.Middleware("forgot-password")).Post("/forgot-password", handler.ForgotPassword)
	r.With(limiter.Middleware("reset-password")).Post("/reset-password", handler.ResetPassword)
}

// RequireAuth enforces bearer-token authentication and stores the token
// claims in the request context.
func RequireAuth(tokens *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "No token, authorization denied")
				return
			}

			claims, err := tokens.Parse(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Token is not valid")
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

type SignupRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

func (r *SignupRequest) normalize()        { r.Email = strings.TrimSpace(r.Email) }
func (r *LoginRequest) normalize()         { r.Email = strings.TrimSpace(r.Email) }
func (r *VerifyEmailRequest) normalize()   { r.Email = strings.TrimSpace(r.Email) }
func (r *EmailRequest) normalize()         { r.Email = strings.TrimSpace(r.Email) }
func (r *ResetPasswordRequest) normalize() { r.Email = strings.TrimSpace(r.Email) }

type UserResponse struct {
	Message string        `json:"message"`
	User    types.Profile `json:"user"`
}

type LoginResponse struct {
	Message string        `json:"message"`
	Token   string        `json:"token"`
	User    types.Profile `json:"user"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	profile, err := h.accounts.Signup(r.Context(), services.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, UserResponse{
		Message: "User registered successfully. Verification code sent to email.",
		User:    profile,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Message: "Login successfully",
		Token:   result.Token,
		User:    result.Profile,
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	already, err := h.accounts.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if already {
		writeMessage(w, http.StatusOK, "Email already verified")
		return
	}
	writeMessage(w, http.StatusOK, "Email verified successfully")
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	already, err := h.accounts.ResendVerification(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if already {
		writeMessage(w, http.StatusOK, "Email already verified")
		return
	}
	writeMessage(w, http.StatusOK, "Verification code resent")
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeMessage(w, http.StatusOK, "If an account exists, a reset code has been sent")
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password reset successful")
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
