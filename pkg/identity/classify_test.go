package identity

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryGeneric},
		{"code wins over message", &Error{Code: CodeWeakPassword, Message: "User already registered"}, CategoryWeakPassword},
		{"code only", &Error{Code: CodeInvalidCredentials, Message: "nope"}, CategoryBadCredentials},
		{"wrapped code", fmt.Errorf("sign in: %w", &Error{Code: CodeEmailNotConfirmed}), CategoryUnconfirmedEmail},
		{"message fallback", errors.New("AuthApiError: User already registered"), CategoryAlreadyRegistered},
		{"weak password message", &Error{Message: "Password should be at least 6 characters."}, CategoryWeakPassword},
		{"unconfirmed message", errors.New("Email not confirmed"), CategoryUnconfirmedEmail},
		{"bad credentials message", errors.New("Invalid login credentials"), CategoryBadCredentials},
		{"unknown", errors.New("network unreachable"), CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategoryMessagesAreDistinct(t *testing.T) {
	seen := map[string]Category{}
	for _, c := range []Category{CategoryGeneric, CategoryAlreadyRegistered, CategoryWeakPassword, CategoryUnconfirmedEmail, CategoryBadCredentials} {
		msg := c.Message()
		if prev, dup := seen[msg]; dup {
			t.Fatalf("categories %v and %v share message %q", prev, c, msg)
		}
		seen[msg] = c
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(&Error{Code: CodeInvalidCredentials}); got != CategoryBadCredentials.Message() {
		t.Fatalf("unexpected message for classified error: %q", got)
	}
	if got := UserMessage(&Error{Code: "over_request_rate_limit", Message: "Too many requests"}); got != "Too many requests" {
		t.Fatalf("expected provider message for unclassified error, got %q", got)
	}
	if got := UserMessage(nil); got != CategoryGeneric.Message() {
		t.Fatalf("unexpected message for nil: %q", got)
	}
}
