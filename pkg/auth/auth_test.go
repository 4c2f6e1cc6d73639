package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"echobot/pkg/config"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"aud":        "app-1",
		"exp":        fixedNow.Add(time.Hour).Unix(),
		"nbf":        fixedNow.Add(-time.Minute).Unix(),
		"tid":        "tenant-1",
		"serviceurl": "https://smba.example.test/",
	}
}

func newTestAuthenticator() Authenticator {
	validator := NewClaimsValidator(config.AuthConfig{AppID: "app-1", TenantID: "tenant-1"})
	validator.Now = func() time.Time { return fixedNow }
	return New(config.AuthConfig{AppID: "app-1", TenantID: "tenant-1"}, validator, nil)
}

func TestAnonymousWithoutAppID(t *testing.T) {
	t.Parallel()

	authenticator := New(config.AuthConfig{}, nil, nil)
	require.NoError(t, authenticator.Authenticate(context.Background(), "", Request{}))
	require.NoError(t, authenticator.Authenticate(context.Background(), "garbage", Request{}))
}

func TestBearerTokenAccepted(t *testing.T) {
	t.Parallel()

	token := signedToken(t, validClaims())
	err := newTestAuthenticator().Authenticate(context.Background(), "Bearer "+token, Request{ServiceURL: "https://smba.example.test"})
	require.NoError(t, err)
}

func TestAuthenticateRejections(t *testing.T) {
	t.Parallel()

	mutate := func(fn func(jwt.MapClaims)) func(*testing.T) string {
		return func(t *testing.T) string {
			claims := validClaims()
			fn(claims)
			return "Bearer " + signedToken(t, claims)
		}
	}

	tests := []struct {
		name   string
		header func(*testing.T) string
	}{
		{name: "missing header", header: func(*testing.T) string { return "" }},
		{name: "basic scheme", header: func(*testing.T) string { return "Basic dXNlcjpwYXNz" }},
		{name: "empty bearer", header: func(*testing.T) string { return "Bearer " }},
		{name: "not a jwt", header: func(*testing.T) string { return "Bearer opaque" }},
		{name: "wrong audience", header: mutate(func(c jwt.MapClaims) { c["aud"] = "someone-else" })},
		{name: "expired", header: mutate(func(c jwt.MapClaims) { c["exp"] = fixedNow.Add(-time.Hour).Unix() })},
		{name: "no expiry", header: mutate(func(c jwt.MapClaims) { delete(c, "exp") })},
		{name: "not yet valid", header: mutate(func(c jwt.MapClaims) { c["nbf"] = fixedNow.Add(time.Hour).Unix() })},
		{name: "wrong tenant", header: mutate(func(c jwt.MapClaims) { c["tid"] = "tenant-2" })},
		{name: "wrong service url", header: mutate(func(c jwt.MapClaims) { c["serviceurl"] = "https://evil.example.test/" })},
	}

	authenticator := newTestAuthenticator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authenticator.Authenticate(context.Background(), tt.header(t), Request{ServiceURL: "https://smba.example.test/"})
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrUnauthorized), "error %v should wrap ErrUnauthorized", err)
		})
	}
}

func TestValidatorErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	validator := validatorFunc(func(context.Context, string, Request) error { return errors.New("key lookup failed") })
	authenticator := New(config.AuthConfig{AppID: "app-1"}, validator, nil)

	err := authenticator.Authenticate(context.Background(), "Bearer anything", Request{})
	require.ErrorIs(t, err, ErrUnauthorized)
}

type validatorFunc func(ctx context.Context, token string, req Request) error

func (f validatorFunc) Validate(ctx context.Context, token string, req Request) error {
	return f(ctx, token, req)
}
