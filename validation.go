package impactlog

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// ValidationError describes one rejected input field. It matches
// [ErrValidation] with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// validateEmail accepts a bare address ("a@b.example"), not a display-name
// form.
func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return invalid("email", "is not a valid address")
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return invalid("email", "is not a valid address")
	}
	return nil
}

func (c *Controller) validateSignIn(email, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if password == "" {
		return invalid("password", "is required")
	}
	return nil
}

func (c *Controller) validateSignUp(email, password, name string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(password); n < c.config.Validation.MinPasswordLength {
		return invalid("password", fmt.Sprintf("must be at least %d characters", c.config.Validation.MinPasswordLength))
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > c.config.Validation.MaxNameLength {
		return invalid("name", fmt.Sprintf("must be at most %d characters", c.config.Validation.MaxNameLength))
	}
	return nil
}
