package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/qurrota/apiserver/types"
)

const uniqueViolation = "23505"

const accountColumns = `
	id, name, email, password_hash, image, role, is_verified,
	email_verification_code, email_verification_expires,
	password_reset_code, password_reset_expires,
	is_active, last_login, login_attempts, lock_until,
	date_of_birth, phone_number, bio, preferences,
	created_at, updated_at`

// AccountRepository handles persistence for accounts in postgres.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Image,
		string(account.Role),
		account.IsVerified,
		account.EmailVerificationCode,
		account.EmailVerificationExpires,
		account.PasswordResetCode,
		account.PasswordResetExpires,
		account.IsActive,
		account.LastLogin,
		account.LoginAttempts,
		account.LockUntil,
		account.DateOfBirth,
		account.PhoneNumber,
		account.Bio,
		account.Preferences,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return types.Account{}, translateError(err)
	}
	return account, nil
}

func (r *AccountRepository) Update(ctx context.Context, account types.Account) (types.Account, error) {
	account.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE accounts
		SET name = $1,
			email = $2,
			password_hash = $3,
			image = $4,
			role = $5,
			is_verified = $6,
			email_verification_code = $7,
			email_verification_expires = $8,
			password_reset_code = $9,
			password_reset_expires = $10,
			is_active = $11,
			last_login = $12,
			login_attempts = $13,
			lock_until = $14,
			date_of_birth = $15,
			phone_number = $16,
			bio = $17,
			preferences = $18,
			updated_at = $19
		WHERE id = $20`
	result, err := r.db.ExecContext(
		ctx,
		query,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Image,
		string(account.Role),
		account.IsVerified,
		account.EmailVerificationCode,
		account.EmailVerificationExpires,
		account.PasswordResetCode,
		account.PasswordResetExpires,
		account.IsActive,
		account.LastLogin,
		account.LoginAttempts,
		account.LockUntil,
		account.DateOfBirth,
		account.PhoneNumber,
		account.Bio,
		account.Preferences,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return types.Account{}, translateError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Account{}, err
	}
	if affected == 0 {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) scanOne(row *sql.Row) (types.Account, error) {
	var account types.Account
	var role string
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.Image,
		&role,
		&account.IsVerified,
		&account.EmailVerificationCode,
		&account.EmailVerificationExpires,
		&account.PasswordResetCode,
		&account.PasswordResetExpires,
		&account.IsActive,
		&account.LastLogin,
		&account.LoginAttempts,
		&account.LockUntil,
		&account.DateOfBirth,
		&account.PhoneNumber,
		&account.Bio,
		&account.Preferences,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.Role = types.Role(role)
	return account, nil
}

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
