package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/qurrota/apiserver/internal/imagehost"
	"github.com/qurrota/apiserver/internal/metrics"
	"github.com/qurrota/apiserver/internal/store"
	"github.com/qurrota/apiserver/types"
	"go.uber.org/zap"
)

// MinPasswordLength applies to every password the service stores.
const MinPasswordLength = 6

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	Update(ctx context.Context, account types.Account) (types.Account, error)
	Delete(ctx context.Context, id string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
}

type TokenIssuer interface {
	Issue(account types.Account) (string, error)
}

// Dispatcher delivers notifications on a best-effort basis. It never
// reports failure to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, n types.Notification)
}

type ImageHost interface {
	Upload(ctx context.Context, accountID string, r io.Reader) (imagehost.Image, error)
	Delete(ctx context.Context, imageURL string) error
	Owns(imageURL string) bool
}

// Deps are the collaborators of AccountService. Images may be nil when no
// image host is configured.
type Deps struct {
	Repo         AccountRepository
	Hasher       PasswordHasher
	Tokens       TokenIssuer
	Notifier     Dispatcher
	Images       ImageHost
	Logger       *zap.Logger
	DefaultImage string
}

// AccountService implements the account lifecycle: signup, login, email
// verification, password reset and profile management.
type AccountService struct {
	repo         AccountRepository
	hasher       PasswordHasher
	tokens       TokenIssuer
	notifier     Dispatcher
	images       ImageHost
	log          *zap.Logger
	defaultImage string

	now          func() time.Time
	generateCode CodeGenerator
}

func NewAccountService(deps Deps) *AccountService {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{
		repo:         deps.Repo,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		notifier:     deps.Notifier,
		images:       deps.Images,
		log:          log.Named("accounts"),
		defaultImage: deps.DefaultImage,
		now:          time.Now,
		generateCode: GenerateCode,
	}
}

type SignupInput struct {
	Name     string
	Email    string
	Password string
}

type LoginResult struct {
	Token   string
	Profile types.Profile
}

// ProfileUpdate carries a partial profile change. Nil fields are left
// untouched. NewPassword requires CurrentPassword.
type ProfileUpdate struct {
	Name            *string
	DateOfBirth     *time.Time
	PhoneNumber     *string
	Bio             *string
	Preferences     *types.Preferences
	CurrentPassword string
	NewPassword     string
}

func (s *AccountService) Signup(ctx context.Context, in SignupInput) (types.Profile, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return types.Profile{}, newError(KindBadRequest, "Name, email and password are required")
	}
	if len(in.Password) < MinPasswordLength {
		return types.Profile{}, newError(KindBadRequest, "Password must be at least 6 characters long")
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.Profile{}, errEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Profile{}, internalError("Server error during registration", err)
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.Profile{}, internalError("Server error during registration", err)
	}

	code, err := s.generateCode()
	if err != nil {
		return types.Profile{}, internalError("Server error during registration", err)
	}
	expires := s.now().Add(CodeTTL)

	account, err := s.repo.Create(ctx, types.Account{
		ID:                       uuid.NewString(),
		Name:                     name,
		Email:                    email,
		PasswordHash:             hashed,
		Image:                    s.defaultImage,
		Role:                     types.RoleUser,
		IsVerified:               false,
		EmailVerificationCode:    &code,
		EmailVerificationExpires: &expires,
		IsActive:                 true,
		LoginAttempts:            0,
		Preferences:              types.DefaultPreferences(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.Profile{}, errEmailTaken
		}
		return types.Profile{}, internalError("Server error during registration", err)
	}

	s.notify(ctx, types.NotificationVerification, account, code)
	metrics.RecordAccountEvent(metrics.EventSignup)
	s.log.Info("account registered", zap.String("account_id", account.ID))

	return account.Profile(), nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	account, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordAccountEvent(metrics.EventLoginFailure)
			return LoginResult{}, errInvalidCredentials
		}
		return LoginResult{}, internalError("Server error during login", err)
	}

	ok, err := s.hasher.Compare(account.PasswordHash, password)
	if err != nil {
		return LoginResult{}, internalError("Server error during login", err)
	}
	if !ok {
		account.LoginAttempts++
		if _, err := s.repo.Update(ctx, account); err != nil {
			return LoginResult{}, internalError("Server error during login", err)
		}
		metrics.RecordAccountEvent(metrics.EventLoginFailure)
		return LoginResult{}, errInvalidCredentials
	}

	if !account.IsActive {
		return LoginResult{}, errInactive
	}
	if !account.IsVerified {
		return LoginResult{}, errUnverified
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		return LoginResult{}, internalError("Server error during login", err)
	}

	now := s.now()
	account.LastLogin = &now
	account.LoginAttempts = 0
	updated, err := s.repo.Update(ctx, account)
	if err != nil {
		return LoginResult{}, internalError("Server error during login", err)
	}

	metrics.RecordAccountEvent(metrics.EventLoginSuccess)
	return LoginResult{Token: token, Profile: updated.Profile()}, nil
}

// VerifyEmail consumes the verification code. It reports alreadyVerified
// when the account was verified before this call.
func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) (alreadyVerified bool, err error) {
	account, err := s.accountByEmail(ctx, email, "Server error verifying email")
	if err != nil {
		return false, err
	}
	if account.IsVerified {
		return true, nil
	}

	switch checkCode(account.EmailVerificationCode, account.EmailVerificationExpires, strings.TrimSpace(code), s.now()) {
	case codeValid:
	case codeExpired:
		account.EmailVerificationCode = nil
		account.EmailVerificationExpires = nil
		if _, err := s.repo.Update(ctx, account); err != nil {
			return false, internalError("Server error verifying email", err)
		}
		return false, errBadVerification
	default:
		return false, errBadVerification
	}

	account.IsVerified = true
	account.EmailVerificationCode = nil
	account.EmailVerificationExpires = nil
	if _, err := s.repo.Update(ctx, account); err != nil {
		return false, internalError("Server error verifying email", err)
	}

	metrics.RecordAccountEvent(metrics.EventVerify)
	return false, nil
}

// ResendVerification issues a fresh code unless the account is already
// verified, in which case it does nothing and reports alreadyVerified.
func (s *AccountService) ResendVerification(ctx context.Context, email string) (alreadyVerified bool, err error) {
	account, err := s.accountByEmail(ctx, email, "Server error resending verification")
	if err != nil {
		return false, err
	}
	if account.IsVerified {
		return true, nil
	}

	code, err := s.generateCode()
	if err != nil {
		return false, internalError("Server error resending verification", err)
	}
	expires := s.now().Add(CodeTTL)
	account.EmailVerificationCode = &code
	account.EmailVerificationExpires = &expires
	if _, err := s.repo.Update(ctx, account); err != nil {
		return false, internalError("Server error resending verification", err)
	}

	s.notify(ctx, types.NotificationVerificationResend, account, code)
	return false, nil
}

// ForgotPassword issues a reset code when the email belongs to an account.
// An unknown email is not an error, so callers cannot tell the two apart.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	account, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return internalError("Server error initiating password reset", err)
	}

	code, err := s.generateCode()
	if err != nil {
		return internalError("Server error initiating password reset", err)
	}
	expires := s.now().Add(CodeTTL)
	account.PasswordResetCode = &code
	account.PasswordResetExpires = &expires
	if _, err := s.repo.Update(ctx, account); err != nil {
		return internalError("Server error initiating password reset", err)
	}

	s.notify(ctx, types.NotificationPasswordReset, account, code)
	return nil
}

func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	account, err := s.accountByEmail(ctx, email, "Server error resetting password")
	if err != nil {
		return err
	}

	switch checkCode(account.PasswordResetCode, account.PasswordResetExpires, strings.TrimSpace(code), s.now()) {
	case codeValid:
	case codeExpired:
		account.PasswordResetCode = nil
		account.PasswordResetExpires = nil
		if _, err := s.repo.Update(ctx, account); err != nil {
			return internalError("Server error resetting password", err)
		}
		return errBadResetCode
	default:
		return errBadResetCode
	}

	if len(newPassword) < MinPasswordLength {
		return errPasswordTooShort
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return internalError("Server error resetting password", err)
	}
	account.PasswordHash = hashed
	account.PasswordResetCode = nil
	account.PasswordResetExpires = nil
	if _, err := s.repo.Update(ctx, account); err != nil {
		return internalError("Server error resetting password", err)
	}

	metrics.RecordAccountEvent(metrics.EventPasswordReset)
	return nil
}

func (s *AccountService) GetProfile(ctx context.Context, id string) (types.Profile, error) {
	account, err := s.accountByID(ctx, id, "Server error getting profile")
	if err != nil {
		return types.Profile{}, err
	}
	return account.Profile(), nil
}

func (s *AccountService) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (types.Profile, error) {
	account, err := s.accountByID(ctx, id, "Server error updating profile")
	if err != nil {
		return types.Profile{}, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return types.Profile{}, newError(KindBadRequest, "Name cannot be empty")
		}
		account.Name = name
	}
	if update.DateOfBirth != nil {
		dob := *update.DateOfBirth
		account.DateOfBirth = &dob
	}
	if update.PhoneNumber != nil {
		phone := strings.TrimSpace(*update.PhoneNumber)
		account.PhoneNumber = &phone
	}
	if update.Bio != nil {
		if utf8.RuneCountInString(*update.Bio) > types.MaxBioLength {
			return types.Profile{}, newError(KindBadRequest, "Bio must be at most 500 characters")
		}
		bio := *update.Bio
		account.Bio = &bio
	}
	if update.Preferences != nil {
		account.Preferences = account.Preferences.Merge(*update.Preferences)
	}

	if update.NewPassword != "" {
		if update.CurrentPassword == "" {
			return types.Profile{}, newError(KindBadRequest, "Current password is required to change password")
		}
		ok, err := s.hasher.Compare(account.PasswordHash, update.CurrentPassword)
		if err != nil {
			return types.Profile{}, internalError("Server error updating profile", err)
		}
		if !ok {
			return types.Profile{}, newError(KindBadRequest, "Current password is incorrect")
		}
		if len(update.NewPassword) < MinPasswordLength {
			return types.Profile{}, errPasswordTooShort
		}
		hashed, err := s.hasher.Hash(update.NewPassword)
		if err != nil {
			return types.Profile{}, internalError("Server error updating profile", err)
		}
		account.PasswordHash = hashed
	}

	updated, err := s.repo.Update(ctx, account)
	if err != nil {
		return types.Profile{}, s.updateError("Server error updating profile", err)
	}
	return updated.Profile(), nil
}

// UpdateProfileImage uploads a new avatar. The previous avatar is removed
// from the image host first when the host owns it; that removal is best-effort.
func (s *AccountService) UpdateProfileImage(ctx context.Context, id string, data []byte) (types.Profile, imagehost.Image, error) {
	if len(data) == 0 {
		return types.Profile{}, imagehost.Image{}, newError(KindBadRequest, "No image file provided")
	}
	if s.images == nil {
		return types.Profile{}, imagehost.Image{}, internalError("Failed to upload image", errors.New("image host not configured"))
	}

	account, err := s.accountByID(ctx, id, "Server error updating profile image")
	if err != nil {
		return types.Profile{}, imagehost.Image{}, err
	}

	s.removeImage(ctx, account.ID, account.Image)

	image, err := s.images.Upload(ctx, account.ID, bytes.NewReader(data))
	if err != nil {
		return types.Profile{}, imagehost.Image{}, internalError("Failed to upload image", err)
	}

	account.Image = image.URL
	updated, err := s.repo.Update(ctx, account)
	if err != nil {
		return types.Profile{}, imagehost.Image{}, s.updateError("Server error updating profile image", err)
	}
	return updated.Profile(), image, nil
}

// UpdateProfileImageURL points the avatar at a caller-supplied URL.
func (s *AccountService) UpdateProfileImageURL(ctx context.Context, id, imageURL string) (types.Profile, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return types.Profile{}, newError(KindBadRequest, "Image URL is required")
	}
	if !isHTTPURL(imageURL) {
		return types.Profile{}, newError(KindBadRequest, "Image URL must be an absolute http(s) URL")
	}

	account, err := s.accountByID(ctx, id, "Server error updating profile image")
	if err != nil {
		return types.Profile{}, err
	}

	if account.Image != imageURL {
		s.removeImage(ctx, account.ID, account.Image)
	}

	account.Image = imageURL
	updated, err := s.repo.Update(ctx, account)
	if err != nil {
		return types.Profile{}, s.updateError("Server error updating profile image", err)
	}
	return updated.Profile(), nil
}

// DeleteAccount hard-deletes the account after re-checking its password.
func (s *AccountService) DeleteAccount(ctx context.Context, id, password string) error {
	if password == "" {
		return newError(KindBadRequest, "Password is required to delete account")
	}

	account, err := s.accountByID(ctx, id, "Server error deleting account")
	if err != nil {
		return err
	}

	ok, err := s.hasher.Compare(account.PasswordHash, password)
	if err != nil {
		return internalError("Server error deleting account", err)
	}
	if !ok {
		return newError(KindBadRequest, "Incorrect password")
	}

	if err := s.repo.Delete(ctx, account.ID); err != nil {
		return s.updateError("Server error deleting account", err)
	}

	s.removeImage(ctx, account.ID, account.Image)
	metrics.RecordAccountEvent(metrics.EventAccountDeleted)
	s.log.Info("account deleted", zap.String("account_id", account.ID))
	return nil
}

func (s *AccountService) accountByEmail(ctx context.Context, email, failure string) (types.Account, error) {
	account, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, errUserNotFound
		}
		return types.Account{}, internalError(failure, err)
	}
	return account, nil
}

func (s *AccountService) accountByID(ctx context.Context, id, failure string) (types.Account, error) {
	if strings.TrimSpace(id) == "" {
		return types.Account{}, errUserNotFound
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, errUserNotFound
		}
		return types.Account{}, internalError(failure, err)
	}
	return account, nil
}

// updateError maps a write failure; the record may vanish between read and write.
func (s *AccountService) updateError(failure string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errUserNotFound
	}
	return internalError(failure, err)
}

func (s *AccountService) notify(ctx context.Context, kind types.NotificationKind, account types.Account, code string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, types.Notification{
		Kind:      kind,
		To:        account.Email,
		Name:      account.Name,
		Code:      code,
		ExpiresIn: CodeTTL,
	})
}

func (s *AccountService) removeImage(ctx context.Context, accountID, imageURL string) {
	if s.images == nil || imageURL == "" || !s.images.Owns(imageURL) {
		return
	}
	if err := s.images.Delete(ctx, imageURL); err != nil {
		s.log.Warn("failed to delete previous profile image",
			zap.String("account_id", accountID),
			zap.String("image", imageURL),
			zap.Error(err),
		)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
