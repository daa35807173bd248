package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/madebynoam/canvai-sub001/internal/github"
)

const (
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// DefaultInterval applies when the server does not issue one.
	DefaultInterval = 5 * time.Second
	// SlowDownStep is added to the interval on slow_down without an issued value.
	SlowDownStep = 5 * time.Second
)

// Config describes the OAuth application and endpoints.
type Config struct {
	ClientID      string
	Scopes        []string
	DeviceCodeURL string
	TokenURL      string
	// APIURL is the REST root used to fetch the identity after success.
	APIURL string
}

// Flow drives device authorization grants against the authorization server.
// It keeps its own copy of every live session; sessions are dropped once they
// reach a terminal phase.
type Flow struct {
	oauth      *oauth2.Config
	apiURL     string
	store      *Store
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// NewFlow creates a flow that persists successful credentials into store.
func NewFlow(cfg Config, store *Store) *Flow {
	return &Flow{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: cfg.DeviceCodeURL,
				TokenURL:      cfg.TokenURL,
			},
		},
		apiURL:     cfg.APIURL,
		store:      store,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
		sessions:   make(map[string]Session),
	}
}

// Initiate requests a new device/user code pair. On failure nothing is
// recorded and the caller stays idle.
func (f *Flow) Initiate(ctx context.Context) (*Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	resp, err := f.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}
	sess := Session{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        interval,
		ExpiresAt:       resp.Expiry,
		Phase:           PhaseCodeIssued,
	}

	f.mu.Lock()
	f.sessions[sess.DeviceCode] = sess
	f.mu.Unlock()

	log.Info().Str("component", "auth").Str("user_code", sess.UserCode).Msg("device code issued")
	out := sess
	return &out, nil
}

// Phase reports the phase of a live session; terminal sessions are forgotten
// and report idle.
func (f *Flow) Phase(deviceCode string) Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[deviceCode]; ok {
		return sess.Phase
	}
	return PhaseIdle
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Interval         int64  `json:"interval"`
}

// Poll performs one token-endpoint round trip for deviceCode. A session the
// flow has never seen (for example after a restart) is polled anyway.
func (f *Flow) Poll(ctx context.Context, deviceCode string) (PollResult, error) {
	f.mu.Lock()
	sess, known := f.sessions[deviceCode]
	f.mu.Unlock()
	if !known {
		sess = Session{DeviceCode: deviceCode, Interval: DefaultInterval, Phase: PhaseCodeIssued}
	}

	if sess.Expired(f.now()) {
		f.finish(deviceCode, PhaseExpired)
		return PollResult{Status: PollExpired}, nil
	}
	f.setPhase(deviceCode, PhasePolling)

	tr, err := f.requestToken(ctx, deviceCode)
	if err != nil {
		return PollResult{}, err
	}

	switch tr.Error {
	case "":
	case "authorization_pending":
		return PollResult{Status: PollPending, Interval: sess.Interval}, nil
	case "slow_down":
		next := sess.Interval + SlowDownStep
		if issued := time.Duration(tr.Interval) * time.Second; issued > 0 {
			next = issued
		}
		f.mu.Lock()
		if s, ok := f.sessions[deviceCode]; ok {
			s.Interval = next
			f.sessions[deviceCode] = s
		}
		f.mu.Unlock()
		return PollResult{Status: PollSlowDown, Interval: next}, nil
	case "expired_token":
		f.finish(deviceCode, PhaseExpired)
		return PollResult{Status: PollExpired}, nil
	default:
		f.finish(deviceCode, PhaseError)
		msg := tr.ErrorDescription
		if msg == "" {
			msg = tr.Error
		}
		return PollResult{Status: PollError, Code: tr.Error, Message: msg}, nil
	}

	if tr.AccessToken == "" {
		return PollResult{}, fmt.Errorf("token response missing access_token")
	}
	token := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: tr.TokenType}
	user, err := f.identity(ctx, token)
	if err != nil {
		return PollResult{}, err
	}
	if err := f.store.Save(Credential{Token: token.AccessToken, User: *user}); err != nil {
		return PollResult{}, err
	}
	f.finish(deviceCode, PhaseSucceeded)

	log.Info().Str("component", "auth").Str("login", user.Login).Msg("device authorization succeeded")
	return PollResult{Status: PollSuccess, User: user}, nil
}

// Logout clears the stored credential.
func (f *Flow) Logout() error {
	return f.store.Clear()
}

func (f *Flow) requestToken(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	form := url.Values{
		"client_id":   {f.oauth.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &github.TrackerError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	// GitHub answers protocol errors with 200; RFC 8628 servers use 400.
	var tr tokenResponse
	if jsonErr := json.Unmarshal(body, &tr); jsonErr != nil || (tr.Error == "" && resp.StatusCode != http.StatusOK) {
		return nil, &github.TrackerError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &tr, nil
}

func (f *Flow) identity(ctx context.Context, token *oauth2.Token) (*User, error) {
	client, err := github.NewTokenClient(f.apiURL, token.AccessToken, nil)
	if err != nil {
		return nil, err
	}
	u, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch identity: %w", github.Translate(err))
	}
	if u.GetLogin() == "" {
		return nil, fmt.Errorf("fetch identity: response missing login")
	}
	return &User{Login: u.GetLogin(), AvatarURL: u.GetAvatarURL(), Name: u.GetName()}, nil
}

func (f *Flow) setPhase(deviceCode string, to Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[deviceCode]
	if !ok {
		return
	}
	if !CanTransition(sess.Phase, to) {
		log.Warn().Str("component", "auth").Str("from", string(sess.Phase)).Str("to", string(to)).Msg("ignoring invalid phase transition")
		return
	}
	sess.Phase = to
	f.sessions[deviceCode] = sess
}

// finish records a terminal phase and forgets the session.
func (f *Flow) finish(deviceCode string, to Phase) {
	f.setPhase(deviceCode, to)
	f.mu.Lock()
	delete(f.sessions, deviceCode)
	f.mu.Unlock()
}
