package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 24 * time.Hour

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingIssuer        = errors.New("auth: issuer required")
	ErrMissingCookieName    = errors.New("auth: cookie name required")
	ErrMissingSubject       = errors.New("auth: subject required")
)

// SessionClaims is the JWT payload stored in the session cookie after a
// completed provider login.
type SessionClaims struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// SessionUser is the authenticated identity extracted from a valid session.
type SessionUser struct {
	UserID    string
	Username  string
	AvatarURL string
}

// SessionManagerConfig configures session token issue and validation.
type SessionManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionManager issues and validates the HS256 session cookie tokens that
// carry a logged-in user's identity between requests.
type SessionManager struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	sessionTTL    time.Duration
	clock         func() time.Time
}

// NewSessionManager constructs a session manager with sane defaults.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingCookieName
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionManager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		sessionTTL:    ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie the session token travels in.
func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// SessionTTL returns the configured token lifetime.
func (m *SessionManager) SessionTTL() time.Duration {
	return m.sessionTTL
}

// IssueToken produces a signed session token for the given user.
func (m *SessionManager) IssueToken(user SessionUser) (string, error) {
	if user.UserID == "" {
		return "", ErrMissingSubject
	}

	now := m.clock().UTC()
	claims := SessionClaims{
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingSecret)
}

// ValidateToken ensures the session token is well formed and unexpired, and
// returns the identity it carries.
func (m *SessionManager) ValidateToken(tokenString string) (SessionUser, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return SessionUser{}, err
	}
	if claims.Subject == "" {
		return SessionUser{}, ErrMissingSubject
	}
	return SessionUser{
		UserID:    claims.Subject,
		Username:  claims.Username,
		AvatarURL: claims.AvatarURL,
	}, nil
}
