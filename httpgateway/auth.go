package httpgateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// Credentials are the OAuth2 password-grant credentials of a jurisdiction.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scopes       []string
}

// TokenSource supplies bearer tokens. Invalidate drops a cached token after the API rejected it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

type passwordSource struct {
	cfg    oauth2.Config
	creds  Credentials
	client *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// NewPasswordSource returns a TokenSource that performs the password grant and caches the token
// until it expires or is invalidated.
func NewPasswordSource(creds Credentials, client *http.Client) (TokenSource, error) {
	if creds.TokenURL == "" {
		return nil, ErrTokenURLRequired
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &passwordSource{
		cfg: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: creds.TokenURL},
			Scopes:       creds.Scopes,
		},
		creds:  creds,
		client: client,
	}, nil
}

func (s *passwordSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.Valid() {
		return s.token.AccessToken, nil
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	token, err := s.cfg.PasswordCredentialsToken(ctx, s.creds.Username, s.creds.Password)
	if err != nil {
		return "", fmt.Errorf("vitalrelay http: password grant failed: %w", err)
	}
	s.token = token

	return token.AccessToken, nil
}

func (s *passwordSource) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

func (StaticToken) Invalidate() {}
