package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
	maxNameLength    = 50
	maxBioLength     = 500
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
)

// violations collects every failed rule instead of stopping at the first.
type violations []FieldError

func (v *violations) add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return validationError(v)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (v *violations) username(username string) {
	if !usernamePattern.MatchString(username) {
		v.add("username", "must be 3-20 characters of letters, digits or underscore")
	}
}

func (v *violations) email(email string) {
	if !emailPattern.MatchString(email) {
		v.add("email", "must be a valid email address")
	}
}

func (v *violations) password(field, password string) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		v.add(field, fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		v.add(field, fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !lower || !upper || !digit {
		v.add(field, "must contain a lowercase letter, an uppercase letter and a digit")
	}
}

func (v *violations) confirmation(field, password, confirm string) {
	if password != confirm {
		v.add(field, "does not match password")
	}
}

func (v *violations) maxLength(field, value string, limit int) {
	if utf8.RuneCountInString(value) > limit {
		v.add(field, fmt.Sprintf("must be at most %d characters", limit))
	}
}
