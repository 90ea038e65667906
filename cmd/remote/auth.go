package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/efektum/mystery-hours/cmd/clock"
)

// GraphScope requests every delegated permission granted to the app
const GraphScope = "https://graph.microsoft.com/.default"

// Static errors for authentication
var (
	ErrAuthentication = errors.New("failed to obtain Microsoft Graph token")
	ErrTokenExpired   = errors.New("access token is already expired")
)

// Credentials are the app registration and mailbox account used for Graph.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// AzureEndpoint returns the token endpoint for a tenant
func AzureEndpoint(tenantID string) oauth2.Endpoint {
	return microsoft.AzureADEndpoint(tenantID)
}

// Authenticator obtains a Graph token with the resource owner password flow.
type Authenticator struct {
	creds    Credentials
	endpoint oauth2.Endpoint
	clock    clock.Clock
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator for the given token endpoint
func NewAuthenticator(creds Credentials, endpoint oauth2.Endpoint, c clock.Clock, logger *slog.Logger) *Authenticator {
	return &Authenticator{creds: creds, endpoint: endpoint, clock: c, logger: logger}
}

// Token requests an access token. It is meant to be called once per process;
// the token is not refreshed.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     a.creds.ClientID,
		ClientSecret: a.creds.ClientSecret,
		Endpoint:     a.endpoint,
		Scopes:       []string{GraphScope},
	}

	tok, err := conf.PasswordCredentialsToken(ctx, a.creds.Username, a.creds.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	info, ok := InspectToken(tok.AccessToken)
	if !ok {
		a.logger.Debug("Access token is not a JWT, skipping claim inspection")
		return tok, nil
	}

	if !info.ExpiresAt.IsZero() && !info.ExpiresAt.After(a.clock.Now()) {
		return nil, fmt.Errorf("%w (exp %s)", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
	}

	a.logger.Info(fmt.Sprintf("🔑 Signed in to Microsoft Graph as %s", info.Account),
		"expires_at", info.ExpiresAt.Format(time.RFC3339))
	return tok, nil
}

// TokenInfo is what the job logs about its access token.
type TokenInfo struct {
	Account   string
	ExpiresAt time.Time
}

// InspectToken reads the claims of a JWT access token without verifying its
// signature; Graph validates the token, the job only reports on it.
func InspectToken(raw string) (TokenInfo, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenInfo{}, false
	}

	var info TokenInfo
	for _, key := range []string{"upn", "unique_name", "preferred_username", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			info.Account = v
			break
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, true
}

// NewAuthorizedClient returns an http.Client that attaches tok to every
// request. timeout of zero means no client-side timeout.
func NewAuthorizedClient(ctx context.Context, tok *oauth2.Token, timeout time.Duration) *http.Client {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	client.Timeout = timeout
	return client
}
