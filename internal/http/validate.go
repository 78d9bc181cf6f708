package http

import (
	"errors"
	"regexp"
	"unicode"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 3-20 characters of letters, digits, _ or -")
	}
	return nil
}

// validatePassword requires at least 8 characters mixing upper, lower, digit
// and punctuation.
func validatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password too short")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return errors.New("password must mix upper, lower, digit and special characters")
	}
	return nil
}

func validEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}
