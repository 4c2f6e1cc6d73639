package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"echobot/pkg/config"
)

const clockSkew = 5 * time.Minute

// ClaimsValidator checks the registered claims of a channel token: audience
// must be the app id, the token must be current, and tenant and service URL
// claims must match when present.
type ClaimsValidator struct {
	AppID    string
	TenantID string
	Now      func() time.Time

	parser *jwt.Parser
}

// NewClaimsValidator builds a validator for the configured credentials.
func NewClaimsValidator(cfg config.AuthConfig) *ClaimsValidator {
	return &ClaimsValidator{
		AppID:    strings.TrimSpace(cfg.AppID),
		TenantID: strings.TrimSpace(cfg.TenantID),
		Now:      time.Now,
		parser:   jwt.NewParser(),
	}
}

func (v *ClaimsValidator) Validate(_ context.Context, token string, req Request) error {
	parser := v.parser
	if parser == nil {
		parser = jwt.NewParser()
	}

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: token is not a JWT", ErrUnauthorized)
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	audience, err := claims.GetAudience()
	if err != nil || !containsString(audience, v.AppID) {
		return fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return fmt.Errorf("%w: token has no expiry", ErrUnauthorized)
	}
	if now.After(expiresAt.Add(clockSkew)) {
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	}

	notBefore, err := claims.GetNotBefore()
	if err != nil {
		return fmt.Errorf("%w: invalid nbf claim", ErrUnauthorized)
	}
	if notBefore != nil && now.Add(clockSkew).Before(notBefore.Time) {
		return fmt.Errorf("%w: token not yet valid", ErrUnauthorized)
	}

	if v.TenantID != "" {
		if tenant, _ := claims["tid"].(string); tenant != v.TenantID {
			return fmt.Errorf("%w: tenant mismatch", ErrUnauthorized)
		}
	}

	if err := matchServiceURL(claims, req.ServiceURL); err != nil {
		return err
	}

	return nil
}

func matchServiceURL(claims jwt.MapClaims, serviceURL string) error {
	claimed, ok := claims["serviceurl"].(string)
	if !ok || claimed == "" {
		return nil
	}

	if !strings.EqualFold(strings.TrimRight(claimed, "/"), strings.TrimRight(serviceURL, "/")) {
		return errors.Join(ErrUnauthorized, errors.New("service url mismatch"))
	}

	return nil
}

func containsString(values []string, want string) bool {
	if want == "" {
		return false
	}
	for _, value := range values {
		if value == want {
			return true
		}
	}

	return false
}
