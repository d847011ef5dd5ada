package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/bandcore/internal/entitlement"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// LocalLogin checks offline credentials: the configured admin against a
// bcrypt hash and, when dev logins are enabled, any learner whose password
// equals the username.
type LocalLogin struct {
	AdminUser     string
	AdminPassHash string
	DevLogins     bool
}

type Identity struct {
	Subject string
	Role    entitlement.Role
}

func (l LocalLogin) Authenticate(username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}
	if l.AdminUser != "" && username == l.AdminUser {
		if l.AdminPassHash == "" {
			return Identity{}, ErrInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword([]byte(l.AdminPassHash), []byte(password)); err != nil {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{Subject: username, Role: entitlement.RoleAdmin}, nil
	}
	if l.DevLogins && subtle.ConstantTimeCompare([]byte(username), []byte(password)) == 1 {
		return Identity{Subject: username, Role: entitlement.RoleNone}, nil
	}
	return Identity{}, ErrInvalidCredentials
}
