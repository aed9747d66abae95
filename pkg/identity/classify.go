package identity

import (
	"errors"
	"strings"
)

// Category is a user-facing class of authentication failure.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryAlreadyRegistered
	CategoryWeakPassword
	CategoryUnconfirmedEmail
	CategoryBadCredentials
)

func (c Category) String() string {
	switch c {
	case CategoryAlreadyRegistered:
		return "already_registered"
	case CategoryWeakPassword:
		return "weak_password"
	case CategoryUnconfirmedEmail:
		return "unconfirmed_email"
	case CategoryBadCredentials:
		return "bad_credentials"
	default:
		return "generic"
	}
}

// Message is the text shown to the user for the category.
func (c Category) Message() string {
	switch c {
	case CategoryAlreadyRegistered:
		return "This email is already registered. Please sign in instead."
	case CategoryWeakPassword:
		return "Password must be at least 6 characters long."
	case CategoryUnconfirmedEmail:
		return "Email not confirmed. Please check your email for the confirmation link."
	case CategoryBadCredentials:
		return "Invalid email or password. Please try again."
	default:
		return "An error occurred. Please try again."
	}
}

var codeCategories = map[string]Category{
	CodeUserAlreadyExists:  CategoryAlreadyRegistered,
	"email_exists":         CategoryAlreadyRegistered,
	CodeWeakPassword:       CategoryWeakPassword,
	CodeEmailNotConfirmed:  CategoryUnconfirmedEmail,
	CodeInvalidCredentials: CategoryBadCredentials,
}

// Message substrings the hosted provider has used. Its wording is not a
// stable contract, so this table is only consulted when no code matched.
var messageCategories = []struct {
	substr   string
	category Category
}{
	{"User already registered", CategoryAlreadyRegistered},
	{"Password should be at least", CategoryWeakPassword},
	{"Email not confirmed", CategoryUnconfirmedEmail},
	{"Invalid login credentials", CategoryBadCredentials},
}

// Classify maps an authentication failure to a Category. A structured code
// wins; the message heuristic is a fallback.
func Classify(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	var idErr *Error
	if errors.As(err, &idErr) {
		if c, ok := codeCategories[strings.ToLower(strings.TrimSpace(idErr.Code))]; ok {
			return c
		}
	}
	msg := err.Error()
	for _, mc := range messageCategories {
		if strings.Contains(msg, mc.substr) {
			return mc.category
		}
	}
	return CategoryGeneric
}

// UserMessage is the text a client shows for err. Unclassified failures
// keep the provider's own message.
func UserMessage(err error) string {
	c := Classify(err)
	if c != CategoryGeneric {
		return c.Message()
	}
	if err != nil {
		var idErr *Error
		if errors.As(err, &idErr) && strings.TrimSpace(idErr.Message) != "" {
			return idErr.Message
		}
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			return msg
		}
	}
	return c.Message()
}
