package clients

import (
	"net/http"

	"golang.org/x/oauth2"
)

// StaticToken returns a token source for a bearer token acquired elsewhere.
// Token acquisition and refresh belong to the surrounding runtime.
func StaticToken(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
}

// authTransport signs every request with the token from source. A nil source
// leaves base unchanged.
func authTransport(base http.RoundTripper, source oauth2.TokenSource) http.RoundTripper {
	if source == nil {
		return base
	}
	return &oauth2.Transport{
		Source: oauth2.ReuseTokenSource(nil, source),
		Base:   base,
	}
}
