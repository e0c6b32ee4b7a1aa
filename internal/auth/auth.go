// Package auth guards the status endpoints with HTTP basic auth backed by a
// bcrypt hash from the configuration.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/shift-scheduler/internal/errors"
)

func HashPassword(pw string) (string, error) {
	if pw == "" {
		return "", errors.New("password must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(b), nil
}

func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

// ValidateHash reports whether hash looks like a bcrypt hash.
func ValidateHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return errors.Mark(errors.Wrap(err, "status password hash"), errors.ErrInvalidConfig)
	}
	return nil
}

// Basic checks credentials against a single configured account. A zero
// Basic (no hash) lets every request through.
type Basic struct {
	Username     string
	PasswordHash string
	Realm        string
}

func (b Basic) Enabled() bool { return b.PasswordHash != "" }

func (b Basic) Require(next http.Handler) http.Handler {
	if !b.Enabled() {
		return next
	}
	realm := b.Realm
	if realm == "" {
		realm = "shiftsched"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pw, ok := r.BasicAuth()
		if !ok || !b.check(user, pw) {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+strings.ReplaceAll(realm, `"`, "")+`"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b Basic) check(user, pw string) bool {
	userOK := secureEq(user, b.Username)
	// Always pay the bcrypt cost so a wrong username is not faster.
	pwOK := CheckPassword(b.PasswordHash, pw)
	return userOK && pwOK
}

func secureEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
