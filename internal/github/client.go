package github

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// NewHTTPClient returns an HTTP client that authenticates every
// request with the given personal access token.
func NewHTTPClient(token string, timeout time.Duration) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = timeout
	return client
}
