// Package auth decides whether an inbound channel request may reach the bot.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"echobot/pkg/config"
)

// ErrUnauthorized is wrapped by every denial.
var ErrUnauthorized = errors.New("unauthorized")

// Request carries the activity fields a token is checked against.
type Request struct {
	ServiceURL string
	ChannelID  string
}

// Authenticator validates the Authorization header of one inbound request.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string, req Request) error
}

// TokenValidator checks a bearer token. Signature verification against the
// channel's signing keys belongs here.
type TokenValidator interface {
	Validate(ctx context.Context, token string, req Request) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, authorization string, req Request) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, authorization string, req Request) error {
	return f(ctx, authorization, req)
}

// New returns an anonymous authenticator when no app id is configured and a
// bearer-token authenticator otherwise. A nil validator defaults to the
// claims validator for cfg.
func New(cfg config.AuthConfig, validator TokenValidator, log *slog.Logger) Authenticator {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "auth")

	if strings.TrimSpace(cfg.AppID) == "" {
		log.Warn("No app id configured, accepting unauthenticated requests")
		return Anonymous()
	}

	if validator == nil {
		validator = NewClaimsValidator(cfg)
	}

	return &bearerAuthenticator{validator: validator, log: log}
}

// Anonymous accepts every request.
func Anonymous() Authenticator {
	return AuthenticatorFunc(func(context.Context, string, Request) error { return nil })
}

type bearerAuthenticator struct {
	validator TokenValidator
	log       *slog.Logger
}

func (a *bearerAuthenticator) Authenticate(ctx context.Context, authorization string, req Request) error {
	token, err := bearerToken(authorization)
	if err != nil {
		return err
	}

	if err := a.validator.Validate(ctx, token, req); err != nil {
		a.log.Debug("Token rejected", "channel_id", req.ChannelID, "reason", err)
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	return nil
}

func bearerToken(authorization string) (string, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	}

	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: authorization scheme must be Bearer", ErrUnauthorized)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrUnauthorized)
	}

	return token, nil
}
