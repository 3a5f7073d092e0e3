package services

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// CodeTTL is how long verification and reset codes stay valid.
const CodeTTL = 15 * time.Minute

// CodeGenerator produces one-time numeric codes.
type CodeGenerator func() (string, error)

var codeSpan = big.NewInt(900000)

// GenerateCode returns a random 6-digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}

// codeStatus describes a submitted code against the stored one.
type codeStatus int

const (
	codeValid codeStatus = iota
	codeMissing
	codeExpired
	codeMismatch
)

func checkCode(stored *string, expires *time.Time, submitted string, now time.Time) codeStatus {
	if stored == nil || expires == nil || *stored == "" {
		return codeMissing
	}
	if now.After(*expires) {
		return codeExpired
	}
	if subtle.ConstantTimeCompare([]byte(*stored), []byte(submitted)) != 1 {
		return codeMismatch
	}
	return codeValid
}
