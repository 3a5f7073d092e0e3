package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/qurrota/apiserver/internal/imagehost"
	"github.com/qurrota/apiserver/internal/services"
	"github.com/qurrota/apiserver/types"
	"go.uber.org/zap"
)

const (
	formFieldImage    = "image"
	multipartSlack    = 1 << 20
	dateOfBirthLayout = "2006-01-02"
)

// ProfileHandler serves the authenticated profile endpoints.
type ProfileHandler struct {
	accounts      *services.AccountService
	maxUploadSize int64
	log           *zap.Logger
}

func NewProfileHandler(accounts *services.AccountService, maxUploadSize int64, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{accounts: accounts, maxUploadSize: maxUploadSize, log: log}
}

// ProfileRouter registers profile routes. Every route requires authMiddleware.
func ProfileRouter(
	r chi.Router,
	accounts *services.AccountService,
	maxUploadSize int64,
	authMiddleware func(http.Handler) http.Handler,
	log *zap.Logger,
) {
	handler := NewProfileHandler(accounts, maxUploadSize, log)

	r.Use(authMiddleware)
	r.Get("/", handler.GetProfile)
	r.Put("/", handler.UpdateProfile)
	r.Delete("/", handler.DeleteAccount)
	r.Put("/image", handler.UpdateProfileImage)
	r.Put("/image-url", handler.UpdateProfileImageURL)
}

// UpdateProfileRequest is a partial update. Absent and null fields are left
// unchanged.
type UpdateProfileRequest struct {
	Name            *string            `json:"name"`
	DateOfBirth     *string            `json:"dateOfBirth"`
	PhoneNumber     *string            `json:"phoneNumber"`
	Bio             *string            `json:"bio" validate:"omitempty,max=500"`
	Preferences     *types.Preferences `json:"preferences"`
	CurrentPassword string             `json:"currentPassword"`
	NewPassword     string             `json:"newPassword"`
}

type ImageURLRequest struct {
	Image string `json:"image"`
}

type DeleteAccountRequest struct {
	Password string `json:"password"`
}

type ImageResponse struct {
	Message   string          `json:"message"`
	User      types.Profile   `json:"user"`
	ImageInfo imagehost.Image `json:"imageInfo"`
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	profile, err := h.accounts.GetProfile(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Message: "Profile retrieved successfully", User: profile})
}

func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	update := services.ProfileUpdate{
		Name:            req.Name,
		PhoneNumber:     req.PhoneNumber,
		Bio:             req.Bio,
		Preferences:     req.Preferences,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	}
	if req.DateOfBirth != nil {
		dob, err := parseDateOfBirth(*req.DateOfBirth)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid dateOfBirth, expected YYYY-MM-DD")
			return
		}
		update.DateOfBirth = &dob
	}

	profile, err := h.accounts.UpdateProfile(r.Context(), accountID, update)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Message: "Profile updated successfully", User: profile})
}

func (h *ProfileHandler) UpdateProfileImage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	data, ok := h.readImage(w, r)
	if !ok {
		return
	}

	profile, image, err := h.accounts.UpdateProfileImage(r.Context(), accountID, data)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ImageResponse{
		Message:   "Profile image updated successfully",
		User:      profile,
		ImageInfo: image,
	})
}

func (h *ProfileHandler) UpdateProfileImageURL(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req ImageURLRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	profile, err := h.accounts.UpdateProfileImageURL(r.Context(), accountID, req.Image)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Message: "Profile image updated successfully", User: profile})
}

func (h *ProfileHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req DeleteAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), accountID, req.Password); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeMessage(w, http.StatusOK, "Account deleted successfully")
}

func (h *ProfileHandler) accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Token is not valid")
		return "", false
	}
	return claims.User.ID, true
}

// readImage returns the bytes of the "image" form file. A request without
// the field yields nil data so the service reports the missing file. On a
// malformed upload it writes the 400 response and reports false.
func (h *ProfileHandler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	tooLarge := fmt.Sprintf("File too large. Maximum size is %dMB.", h.maxUploadSize>>20)
	reject := func(message string) ([]byte, bool) {
		writeError(w, http.StatusBadRequest, message)
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartSlack)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return reject(tooLarge)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			return nil, true
		default:
			return reject("Invalid multipart form")
		}
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(formFieldImage)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, true
		}
		return reject("Invalid multipart form")
	}
	defer file.Close()

	if !isImage(header) {
		return reject("Only image files are allowed")
	}
	if header.Size > h.maxUploadSize {
		return reject(tooLarge)
	}

	data, err := readFileLimited(file, h.maxUploadSize)
	if err != nil {
		return reject(tooLarge)
	}
	return data, true
}

func isImage(header *multipart.FileHeader) bool {
	mediaType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "image/")
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}

func parseDateOfBirth(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateOfBirthLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
