package utils

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/lindell/go-burner-email-providers/burner"
)

// EmailValidationError represents an error during email validation
type EmailValidationError struct {
	Message string
	Code    string
}

func (e EmailValidationError) Error() string {
	return e.Message
}

// ValidateEmailAddress checks the format and rejects disposable email services
func ValidateEmailAddress(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return &EmailValidationError{
			Message: "Invalid email format",
			Code:    "INVALID_FORMAT",
		}
	}

	domain, err := ExtractDomain(email)
	if err != nil {
		return &EmailValidationError{
			Message: "Could not extract domain from email",
			Code:    "DOMAIN_EXTRACTION_ERROR",
		}
	}

	if IsDisposableEmail(domain) {
		return &EmailValidationError{
			Message: fmt.Sprintf("Email from disposable domain '%s' is not allowed. Please use a permanent email address.", domain),
			Code:    "DISPOSABLE_EMAIL",
		}
	}

	return nil
}

// IsDisposableEmail checks the domain and its parent domain against the burner list,
// so test.mailinator.com matches mailinator.com
func IsDisposableEmail(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	if burner.IsBurnerEmail("probe@" + domain) {
		return true
	}

	parts := strings.Split(domain, ".")
	if len(parts) > 2 {
		return burner.IsBurnerEmail("probe@" + strings.Join(parts[len(parts)-2:], "."))
	}
	return false
}

// ExtractDomain returns the lowercased domain part of an email address
func ExtractDomain(email string) (string, error) {
	email = strings.TrimSpace(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid email format")
	}
	return strings.ToLower(parts[1]), nil
}

// InOrgDomain reports whether the email belongs to the organization's domain.
// An empty allowed domain accepts every address.
func InOrgDomain(email, allowed string) bool {
	allowed = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(allowed), "@"))
	if allowed == "" {
		return true
	}
	domain, err := ExtractDomain(email)
	if err != nil {
		return false
	}
	return domain == allowed
}

// NormalizeEmail lowercases and trims an address for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
