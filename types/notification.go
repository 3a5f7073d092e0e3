package types

import "time"

// NotificationKind selects the email template used for a notification.
type NotificationKind string

const (
	NotificationVerification       NotificationKind = "verification"
	NotificationVerificationResend NotificationKind = "verification_resend"
	NotificationPasswordReset      NotificationKind = "password_reset"
)

// Notification is a one-time code addressed to an account's email. It is
// the payload carried over the notification queue.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	To        string           `json:"to"`
	Name      string           `json:"name"`
	Code      string           `json:"code"`
	ExpiresIn time.Duration    `json:"expires_in"`
}
