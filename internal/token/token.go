package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// TokenType is the vendor an API bearer token belongs to.
type TokenType int

const (
	NoneToken TokenType = iota
	DialpadToken
	LoanPASSToken
)

var tokenName = map[TokenType]string{
	NoneToken:     "invalid",
	DialpadToken:  "dialpad",
	LoanPASSToken: "loanpass",
}

// String returns the TokenType name string.
func (tt TokenType) String() string {
	return tokenName[tt]
}

// BearerToken is a long-lived API key presented as an OAuth2 bearer token. Neither
// Dialpad nor LoanPASS keys expire or refresh, so the token source is static.
type BearerToken struct {
	Type  TokenType
	Token *oauth2.Token
}

// NewBearerToken wraps an API key for the given vendor.
func NewBearerToken(typer TokenType, apiKey string) (*BearerToken, error) {
	switch typer {
	case DialpadToken, LoanPASSToken:
	default:
		return nil, errors.New("invalid token type received")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("empty %s api key", typer)
	}
	return &BearerToken{
		Type: typer,
		Token: &oauth2.Token{
			AccessToken: apiKey,
			TokenType:   "Bearer",
		},
	}, nil
}

// IsValid reports whether the token carries a key.
func (bt *BearerToken) IsValid() bool {
	return bt != nil && bt.Token != nil && bt.Token.AccessToken != ""
}

// TokenSource returns a static oauth2.TokenSource for the token.
func (bt *BearerToken) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(bt.Token)
}

// Client returns an http.Client which adds the Authorization header to every request.
// If base is not nil its transport and timeout are reused.
func (bt *BearerToken) Client(ctx context.Context, base *http.Client) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	client := oauth2.NewClient(ctx, bt.TokenSource())
	if base != nil {
		client.Timeout = base.Timeout
	}
	return client
}

// String prints the token type and a redacted key, so tokens are safe to log.
func (bt *BearerToken) String() string {
	if !bt.IsValid() {
		return "invalid token"
	}
	return fmt.Sprintf("%s bearer %s", bt.Type, Redact(bt.Token.AccessToken))
}

// Redact keeps the last four characters of a secret.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}
