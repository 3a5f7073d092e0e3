package types

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// MaxBioLength is the longest bio an account may store, in characters.
const MaxBioLength = 500

// Account represents a registered user together with its credential,
// verification and security bookkeeping.
type Account struct {
	// ID is the unique identifier of the account (UUIDv4).
	ID string `json:"id" db:"id" bson:"_id"`

	// Name is the user's display name.
	Name string `json:"name" db:"name" bson:"name"`

	// Email is the lower-cased login address. It is unique across accounts.
	Email string `json:"email" db:"email" bson:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" bson:"password"`

	// Image is the avatar URL.
	Image string `json:"image" db:"image" bson:"image"`

	Role Role `json:"role" db:"role" bson:"role"`

	IsVerified bool `json:"isVerified" db:"is_verified" bson:"isVerified"`

	// Verification and reset codes are nil once consumed or never issued.
	EmailVerificationCode    *string    `json:"-" db:"email_verification_code" bson:"emailVerificationToken,omitempty"`
	EmailVerificationExpires *time.Time `json:"-" db:"email_verification_expires" bson:"emailVerificationExpires,omitempty"`
	PasswordResetCode        *string    `json:"-" db:"password_reset_code" bson:"passwordResetToken,omitempty"`
	PasswordResetExpires     *time.Time `json:"-" db:"password_reset_expires" bson:"passwordResetExpires,omitempty"`

	IsActive      bool       `json:"isActive" db:"is_active" bson:"isActive"`
	LastLogin     *time.Time `json:"lastLogin,omitempty" db:"last_login" bson:"lastLogin,omitempty"`
	LoginAttempts int        `json:"-" db:"login_attempts" bson:"loginAttempts"`
	LockUntil     *time.Time `json:"-" db:"lock_until" bson:"lockUntil,omitempty"`

	DateOfBirth *time.Time  `json:"dateOfBirth,omitempty" db:"date_of_birth" bson:"dateOfBirth,omitempty"`
	PhoneNumber *string     `json:"phoneNumber,omitempty" db:"phone_number" bson:"phoneNumber,omitempty"`
	Bio         *string     `json:"bio,omitempty" db:"bio" bson:"bio,omitempty"`
	Preferences Preferences `json:"preferences" db:"preferences" bson:"preferences"`

	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at" bson:"updatedAt"`
}

// Profile is the public view of an Account.
type Profile struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Image       string      `json:"image"`
	Role        Role        `json:"role"`
	IsVerified  bool        `json:"isVerified"`
	IsActive    bool        `json:"isActive"`
	DateOfBirth *time.Time  `json:"dateOfBirth,omitempty"`
	PhoneNumber *string     `json:"phoneNumber,omitempty"`
	Bio         *string     `json:"bio,omitempty"`
	Preferences Preferences `json:"preferences"`
	LastLogin   *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Profile strips credential and security bookkeeping from the account.
func (a Account) Profile() Profile {
	return Profile{
		ID:          a.ID,
		Name:        a.Name,
		Email:       a.Email,
		Image:       a.Image,
		Role:        a.Role,
		IsVerified:  a.IsVerified,
		IsActive:    a.IsActive,
		DateOfBirth: a.DateOfBirth,
		PhoneNumber: a.PhoneNumber,
		Bio:         a.Bio,
		Preferences: a.Preferences.Clone(),
		LastLogin:   a.LastLogin,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
