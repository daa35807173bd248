package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultAPIURL = "https://api.github.com"

// AuthProvider issues installation tokens for a repository.
type AuthProvider interface {
	GetInstallationToken(ctx context.Context, repo string) (*InstallationToken, error)
}

// AppAuth holds GitHub App authentication configuration. It lets the comment
// store write as the app when no user has completed the device flow.
type AppAuth struct {
	AppID      string
	PrivateKey string
	// BaseURL overrides the REST root, e.g. for GitHub Enterprise or tests.
	BaseURL string

	mu     sync.Mutex
	cached map[string]*InstallationToken
}

// InstallationToken represents a GitHub App installation access token
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// GenerateJWT creates a JWT token for GitHub App authentication
func (a *AppAuth) GenerateJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	appID, err := strconv.ParseInt(a.AppID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid app ID: %w", err)
	}

	// Backdate issuance to tolerate clock drift between us and GitHub.
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return signedToken, nil
}

// GetInstallationToken returns an installation access token for repo,
// reusing a cached one until a minute before it expires.
func (a *AppAuth) GetInstallationToken(ctx context.Context, repo string) (*InstallationToken, error) {
	if _, err := ParseRepo(repo); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if tok, ok := a.cached[repo]; ok && time.Until(tok.ExpiresAt) > time.Minute {
		a.mu.Unlock()
		return tok, nil
	}
	a.mu.Unlock()

	jwtToken, err := a.GenerateJWT()
	if err != nil {
		return nil, err
	}

	installationID, err := a.getInstallationID(ctx, jwtToken, repo)
	if err != nil {
		return nil, err
	}

	tok, err := a.getInstallationAccessToken(ctx, jwtToken, installationID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.cached == nil {
		a.cached = make(map[string]*InstallationToken)
	}
	a.cached[repo] = tok
	a.mu.Unlock()
	return tok, nil
}

func (a *AppAuth) apiURL() string {
	if a.BaseURL != "" {
		return strings.TrimSuffix(a.BaseURL, "/")
	}
	return defaultAPIURL
}

// getInstallationID retrieves the installation ID for a repository
func (a *AppAuth) getInstallationID(ctx context.Context, jwtToken, repo string) (int64, error) {
	r, _ := ParseRepo(repo)
	url := fmt.Sprintf("%s/repos/%s/%s/installation", a.apiURL(), r.Owner, r.Name)

	var result struct {
		ID int64 `json:"id"`
	}
	if err := a.do(ctx, http.MethodGet, url, jwtToken, http.StatusOK, &result); err != nil {
		return 0, fmt.Errorf("failed to get installation: %w", err)
	}
	return result.ID, nil
}

// getInstallationAccessToken retrieves an installation access token
func (a *AppAuth) getInstallationAccessToken(ctx context.Context, jwtToken string, installationID int64) (*InstallationToken, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.apiURL(), installationID)

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := a.do(ctx, http.MethodPost, url, jwtToken, http.StatusCreated, &result); err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return &InstallationToken{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

func (a *AppAuth) do(ctx context.Context, method, url, jwtToken string, wantStatus int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return &TrackerError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return &TrackerError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
