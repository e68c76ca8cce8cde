package auth

import (
	"strings"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 256
	maxEmailLength    = 320
	maxNameLength     = 200
)

// ValidationError carries field-level detail for a malformed request. It is
// produced before any store or token work happens.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

// validEmail is a shape check, not RFC 5322 enforcement: one @, non-empty
// local part, a dot in the domain. The unique index is the real arbiter.
func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	if strings.IndexByte(domain, '.') <= 0 || strings.HasSuffix(domain, ".") {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}

func validateRegister(in RegisterInput) error {
	fe := fieldErrors{}
	email := identity.NormalizeEmail(in.Email)

	if !validEmail(email) {
		fe["email"] = "must be a valid email address"
	}
	switch {
	case len(in.Password) < minPasswordLength:
		fe["password"] = "must be at least 8 characters"
	case len(in.Password) > maxPasswordLength:
		fe["password"] = "too long"
	case identity.NormalizeEmail(in.Password) == email:
		fe["password"] = "must not equal the email address"
	}
	if len(in.Name) > maxNameLength {
		fe["name"] = "too long"
	}
	return fe.err()
}

func validateLogin(in LoginInput) error {
	fe := fieldErrors{}
	if in.Email == "" {
		fe["email"] = "is required"
	}
	if in.Password == "" {
		fe["password"] = "is required"
	}
	return fe.err()
}
