// Package identity is the credential-store boundary of the auth core: user
// records looked up by id, email, or linked OAuth subject, with a PostgreSQL
// implementation and an in-memory one for tests and development.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider names an OAuth identity provider. A user holds at most one
// subject per provider.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderMicrosoft:
		return ProviderMicrosoft, nil
	default:
		return "", errors.New("unknown oauth provider")
	}
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// RoleForEmail assigns admin to allow-listed emails, member to everyone
// else. The allow list is compared in normalized form.
func RoleForEmail(email string, adminEmails []string) Role {
	normalized := NormalizeEmail(email)
	for _, admin := range adminEmails {
		if NormalizeEmail(admin) == normalized {
			return RoleAdmin
		}
	}
	return RoleMember
}

var (
	ErrNotFound       = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrSubjectTaken   = errors.New("oauth subject already linked")
	ErrNotLinked      = errors.New("oauth provider not linked")
	ErrAlreadyLinked  = errors.New("oauth provider already linked")
	ErrLastCredential = errors.New("cannot remove last credential")
	ErrUnavailable    = errors.New("credential store unavailable")
)

// User is one account identity. Empty PasswordHash or subject strings mean
// the credential is absent; the store persists absence as NULL so the
// partial unique indexes behave.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	GoogleSub    string
	MicrosoftSub string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

func (u *User) SubjectFor(p Provider) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleSub
	case ProviderMicrosoft:
		return u.MicrosoftSub
	default:
		return ""
	}
}

func (u *User) LinkedProviders() []Provider {
	var linked []Provider
	if u.GoogleSub != "" {
		linked = append(linked, ProviderGoogle)
	}
	if u.MicrosoftSub != "" {
		linked = append(linked, ProviderMicrosoft)
	}
	return linked
}

// CredentialCount is the invariant the disconnect flow protects: it must
// never reach zero.
func (u *User) CredentialCount() int {
	n := len(u.LinkedProviders())
	if u.HasPassword() {
		n++
	}
	return n
}

// NormalizeEmail lowercases and trims; every store call and comparison goes
// through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store is the minimal lookup/update surface the auth flows need.
//
// Create assigns ID and timestamps, rejecting duplicate emails with
// ErrEmailTaken and duplicate subjects with ErrSubjectTaken. LinkProvider
// rejects subjects linked elsewhere with ErrSubjectTaken. UnlinkProvider
// refuses to strand an identity with zero credentials (ErrLastCredential);
// the check-and-clear is atomic in every implementation.
type Store interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByProviderSubject(ctx context.Context, provider Provider, subject string) (*User, error)
	Create(ctx context.Context, u *User) (*User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	LinkProvider(ctx context.Context, id int64, provider Provider, subject string) error
	UnlinkProvider(ctx context.Context, id int64, provider Provider) error
}
