// Package session maps requests to a role through a signed session cookie.
//
// The cookie holds an HS256 JWT whose key is derived from the settings
// secret key. Only the current key validates, so rotating the secret
// invalidates every cookie issued before.
package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

const (
	// CookieName is the name of the session cookie
	CookieName = "session"
	// DefaultMaxAge is the lifetime of an issued session
	DefaultMaxAge = 4 * time.Hour

	contextKey = "session"
	keyInfo    = "interpreter-session"
	keyLength  = 32
)

var (
	// ErrNoKey is returned while no secret has been installed
	ErrNoKey = errors.New("session key not initialised")
	// ErrInvalid is returned for cookies that do not verify
	ErrInvalid = errors.New("invalid session")
)

// Session is the role carried by a request
type Session struct {
	IsInterpreter bool
}

// Claims is the JWT payload of the session cookie
type Claims struct {
	IsInterpreter bool `json:"isInterpreter"`
	jwt.RegisteredClaims
}

// DeriveKey derives the cookie signing key from a settings secret
func DeriveKey(secret string) ([]byte, error) {
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

type keyEntry struct {
	secret string
	key    []byte
}

// KeyRing holds the current signing key. It is safe for concurrent use.
type KeyRing struct {
	current atomic.Pointer[keyEntry]
}

// SetSecret installs the key derived from secret. It reports whether the
// key changed.
func (k *KeyRing) SetSecret(secret string) (bool, error) {
	if cur := k.current.Load(); cur != nil && cur.secret == secret {
		return false, nil
	}
	key, err := DeriveKey(secret)
	if err != nil {
		return false, err
	}
	k.current.Store(&keyEntry{secret: secret, key: key})
	return true, nil
}

// Key returns the current signing key, or nil before SetSecret
func (k *KeyRing) Key() []byte {
	if cur := k.current.Load(); cur != nil {
		return cur.key
	}
	return nil
}

// Manager issues and verifies session cookies
type Manager struct {
	keys   *KeyRing
	maxAge time.Duration
	logger *zap.Logger
}

// NewManager creates a manager signing with keys. A zero maxAge uses
// DefaultMaxAge.
func NewManager(keys *KeyRing, maxAge time.Duration, logger *zap.Logger) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Manager{
		keys:   keys,
		maxAge: maxAge,
		logger: logger.Named("session"),
	}
}

// Keys returns the key ring used by the manager
func (m *Manager) Keys() *KeyRing {
	return m.keys
}

// Issue signs a new session token
func (m *Manager) Issue(s Session) (string, error) {
	key := m.keys.Key()
	if key == nil {
		return "", ErrNoKey
	}
	now := time.Now()
	claims := Claims{
		IsInterpreter: s.IsInterpreter,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Parse verifies a session token against the current key
func (m *Manager) Parse(token string) (Session, error) {
	key := m.keys.Key()
	if key == nil {
		return Session{}, ErrNoKey
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return Session{IsInterpreter: claims.IsInterpreter}, nil
}

// Middleware resolves the session of every request. Missing or invalid
// cookies yield an anonymous session.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var s Session
		if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
			parsed, err := m.Parse(cookie)
			if err != nil {
				m.logger.Debug("Ignoring session cookie", zap.Error(err))
			} else {
				s = parsed
			}
		}
		c.Set(contextKey, s)
		c.Next()
	}
}

// FromContext returns the session resolved by Middleware
func FromContext(c *gin.Context) Session {
	if v, ok := c.Get(contextKey); ok {
		if s, ok := v.(Session); ok {
			return s
		}
	}
	return Session{}
}

// Login marks the session as interpreter when submitted matches the
// configured password. On mismatch the session is left unchanged.
func (m *Manager) Login(c *gin.Context, submitted, configured string) (bool, error) {
	if !PasswordMatches(submitted, configured) {
		return false, nil
	}
	s := Session{IsInterpreter: true}
	token, err := m.Issue(s)
	if err != nil {
		return false, err
	}
	m.setCookie(c, token, int(m.maxAge/time.Second))
	c.Set(contextKey, s)
	return true, nil
}

// Logout clears the interpreter flag
func (m *Manager) Logout(c *gin.Context) {
	m.setCookie(c, "", -1)
	c.Set(contextKey, Session{})
}

func (m *Manager) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, value, maxAge, "/", "", c.Request.TLS != nil, true)
}

// PasswordMatches compares in constant time. An empty configured password
// never matches.
func PasswordMatches(submitted, configured string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(configured)) == 1
}
