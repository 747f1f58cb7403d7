package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAuthorizeEndpoint = "https://github.com/login/oauth/authorize"
	defaultTokenEndpoint     = "https://github.com/login/oauth/access_token"
	defaultUserEndpoint      = "https://api.github.com/user"

	githubScope         = "user:email"
	githubHTTPTimeout   = 10 * time.Second
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	mimeJSON            = "application/json"
)

var (
	ErrMissingClientID     = errors.New("auth: github client id required")
	ErrMissingClientSecret = errors.New("auth: github client secret required")
	ErrMissingCallbackURL  = errors.New("auth: github callback url required")
	ErrExchangeFailed      = errors.New("auth: github code exchange failed")
	ErrProfileFetchFailed  = errors.New("auth: github profile fetch failed")
)

// GitHubProfile is the subset of the GitHub user payload the service needs.
type GitHubProfile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Subject returns the provider-scoped stable identifier for this profile.
func (p GitHubProfile) Subject() string {
	return strconv.FormatInt(p.ID, 10)
}

// GitHubConfig configures the redirect-based GitHub OAuth flow.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	HTTPClient   *http.Client

	// Endpoint overrides, used by tests.
	AuthorizeEndpoint string
	TokenEndpoint     string
	UserEndpoint      string
}

// GitHubAuthenticator drives the authorize-redirect, code-exchange, and
// profile-fetch legs of GitHub's OAuth flow. The provider protocol itself is
// GitHub's; this is thin HTTP glue.
type GitHubAuthenticator struct {
	clientID          string
	clientSecret      string
	callbackURL       string
	httpClient        *http.Client
	authorizeEndpoint string
	tokenEndpoint     string
	userEndpoint      string
}

// NewGitHubAuthenticator constructs the authenticator.
func NewGitHubAuthenticator(cfg GitHubConfig) (*GitHubAuthenticator, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, ErrMissingClientSecret
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, ErrMissingCallbackURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: githubHTTPTimeout}
	}
	authorizeEndpoint := cfg.AuthorizeEndpoint
	if authorizeEndpoint == "" {
		authorizeEndpoint = defaultAuthorizeEndpoint
	}
	tokenEndpoint := cfg.TokenEndpoint
	if tokenEndpoint == "" {
		tokenEndpoint = defaultTokenEndpoint
	}
	userEndpoint := cfg.UserEndpoint
	if userEndpoint == "" {
		userEndpoint = defaultUserEndpoint
	}

	return &GitHubAuthenticator{
		clientID:          cfg.ClientID,
		clientSecret:      cfg.ClientSecret,
		callbackURL:       cfg.CallbackURL,
		httpClient:        httpClient,
		authorizeEndpoint: authorizeEndpoint,
		tokenEndpoint:     tokenEndpoint,
		userEndpoint:      userEndpoint,
	}, nil
}

// AuthorizeURL builds the GitHub authorize redirect target for a login
// attempt carrying the given anti-forgery state.
func (g *GitHubAuthenticator) AuthorizeURL(state string) string {
	query := url.Values{}
	query.Set("client_id", g.clientID)
	query.Set("redirect_uri", g.callbackURL)
	query.Set("scope", githubScope)
	query.Set("state", state)
	return g.authorizeEndpoint + "?" + query.Encode()
}

// Exchange swaps a callback code for an access token.
func (g *GitHubAuthenticator) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", g.callbackURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set(headerAccept, mimeJSON)

	response, err := g.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrExchangeFailed, response.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if payload.Error != "" || payload.AccessToken == "" {
		return "", fmt.Errorf("%w: %s", ErrExchangeFailed, payload.Error)
	}
	return payload.AccessToken, nil
}

// FetchProfile loads the authenticated user's GitHub profile.
func (g *GitHubAuthenticator) FetchProfile(ctx context.Context, accessToken string) (GitHubProfile, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userEndpoint, nil)
	if err != nil {
		return GitHubProfile{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	request.Header.Set(headerAccept, mimeJSON)
	request.Header.Set(headerAuthorization, "Bearer "+accessToken)

	response, err := g.httpClient.Do(request)
	if err != nil {
		return GitHubProfile{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return GitHubProfile{}, fmt.Errorf("%w: status %d", ErrProfileFetchFailed, response.StatusCode)
	}

	var profile GitHubProfile
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return GitHubProfile{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	if profile.ID == 0 || profile.Login == "" {
		return GitHubProfile{}, fmt.Errorf("%w: incomplete profile", ErrProfileFetchFailed)
	}
	return profile, nil
}
