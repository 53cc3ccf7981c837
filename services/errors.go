package services

import (
	"errors"
	"fmt"
)

// ErrDuplicateToken is returned when a generated referrer token collides with an existing row.
var ErrDuplicateToken = errors.New("referrer token already exists")

// ValidationError is a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Business-rule codes carried by ConfigurationError.
const (
	CodeReferralsDisabled = "referrals_disabled"
	CodeReferralCap       = "referral_cap_exceeded"
	CodeTokenSpace        = "token_space_exhausted"
)

// ConfigurationError is a business rule rejection driven by app configuration.
type ConfigurationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
