package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGoTrueProviderSignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("missing apikey header")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@example.com" || body["password"] != "secret1" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{
			"access_token":"tok","token_type":"bearer","expires_in":3600,"expires_at":1900000000,
			"refresh_token":"ref","user":{"id":"user-a","email":"a@example.com","user_metadata":{"name":"A","age":3}}
		}`))
	}))
	defer srv.Close()

	p, err := NewGoTrueProvider(srv.URL, "anon", nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	session, err := p.SignIn(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.AccessToken != "tok" || session.RefreshToken != "ref" || session.User.ID != "user-a" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.ExpiresAt.Unix() != 1900000000 {
		t.Fatalf("unexpected expiry: %v", session.ExpiresAt)
	}
	if session.User.Metadata["name"] != "A" {
		t.Fatalf("expected string metadata to be kept: %v", session.User.Metadata)
	}
}

func TestGoTrueProviderSignUpAwaitingConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"user-b","email":"b@example.com"}`))
	}))
	defer srv.Close()

	p, err := NewGoTrueProvider(srv.URL, "anon", nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	session, err := p.SignUp(context.Background(), "b@example.com", "secret1")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session.AccessToken != "" || session.User.ID != "user-b" {
		t.Fatalf("expected user without session, got %+v", session)
	}
}

func TestGoTrueProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantCat  Category
	}{
		{
			name:     "structured code",
			status:   http.StatusUnprocessableEntity,
			body:     `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`,
			wantCode: CodeUserAlreadyExists,
			wantCat:  CategoryAlreadyRegistered,
		},
		{
			name:     "legacy oauth body",
			status:   http.StatusBadRequest,
			body:     `{"error":"invalid_grant","error_description":"Invalid login credentials"}`,
			wantCode: CodeInvalidCredentials,
			wantCat:  CategoryBadCredentials,
		},
		{
			name:    "message only",
			status:  http.StatusBadRequest,
			body:    `{"msg":"Email not confirmed"}`,
			wantCat: CategoryUnconfirmedEmail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := NewGoTrueProvider(srv.URL, "anon", nil)
			if err != nil {
				t.Fatalf("new provider: %v", err)
			}
			_, err = p.SignIn(context.Background(), "x@example.com", "secret1")
			var idErr *Error
			if !errors.As(err, &idErr) {
				t.Fatalf("expected identity error, got %v", err)
			}
			if idErr.Status != tt.status || idErr.Code != tt.wantCode {
				t.Fatalf("unexpected error: %+v", idErr)
			}
			if got := Classify(err); got != tt.wantCat {
				t.Fatalf("Classify() = %v, want %v", got, tt.wantCat)
			}
		})
	}
}

func TestGoTrueProviderSignOutSendsAccessToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := NewGoTrueProvider(srv.URL, "anon", nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := p.SignOut(context.Background(), "user-token"); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if gotAuth != "Bearer user-token" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}
