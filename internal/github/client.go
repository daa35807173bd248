package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Repo identifies the repository whose issues back the comment threads.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repo format: %q (expected owner/repo)", s)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

// Credentials exposes the device-flow credential of the current installation.
type Credentials interface {
	Current() (token, login string, ok bool)
}

// Clients hands out go-github clients authenticated as the signed-in user,
// or as the GitHub App installation when nobody has signed in.
type Clients struct {
	Repo        Repo
	BaseURL     string
	Credentials Credentials
	App         AuthProvider
	Limiter     *rate.Limiter
	Transport   http.RoundTripper
}

// Client returns an authenticated client and the login it acts as. The login
// is empty when acting as an app installation.
func (c *Clients) Client(ctx context.Context) (*gh.Client, string, error) {
	if c.Credentials != nil {
		if token, login, ok := c.Credentials.Current(); ok {
			client, err := c.build(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
			return client, login, err
		}
	}
	if c.App != nil {
		tok, err := c.App.GetInstallationToken(ctx, c.Repo.String())
		if err != nil {
			return nil, "", fmt.Errorf("installation token: %w", err)
		}
		client, err := c.build(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.Token, TokenType: "Bearer", Expiry: tok.ExpiresAt}))
		return client, "", err
	}
	return nil, "", ErrNotAuthenticated
}

// NewTokenClient builds a client for a bare access token, used right after the
// device flow to look up the identity behind it.
func NewTokenClient(baseURL, token string, transport http.RoundTripper) (*gh.Client, error) {
	c := &Clients{BaseURL: baseURL, Transport: transport}
	return c.build(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

func (c *Clients) build(ts oauth2.TokenSource) (*gh.Client, error) {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if c.Limiter != nil {
		base = &limitedTransport{base: base, limiter: c.Limiter}
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base},
		Timeout:   30 * time.Second,
	}
	client := gh.NewClient(httpClient)
	if c.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(c.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github api url %q: %w", c.BaseURL, err)
		}
		client.BaseURL = u
		client.UploadURL = u
	}
	return client, nil
}

// limitedTransport waits on a token bucket before every outbound request so a
// listing fan-out stays under GitHub's secondary rate limits.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
