// Package session keeps per-browser state in a signed cookie: the bound
// user id and one-request flash messages.
package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

type claims struct {
	Values  map[string]string   `json:"values,omitempty"`
	Flashes map[string][]string `json:"flashes,omitempty"`
	jwt.RegisteredClaims
}

// Session is the decoded cookie of one request.
//
// Flashes read from the cookie belong to the current request. AddFlash
// queues a flash for the next request; AddFlashNow makes it visible to the
// current render only.
type Session struct {
	userKey  string
	values   map[string]string
	incoming map[string][]string
	outgoing map[string][]string
	dirty    bool
}

func newSession(userKey string) *Session {
	return &Session{
		userKey:  userKey,
		values:   map[string]string{},
		incoming: map[string][]string{},
		outgoing: map[string][]string{},
	}
}

// UserID returns the bound user id, or 0.
func (s *Session) UserID() int {
	id, err := strconv.Atoi(s.values[s.userKey])
	if err != nil || id < 1 {
		return 0
	}
	return id
}

func (s *Session) SetUserID(id int) {
	s.values[s.userKey] = strconv.Itoa(id)
	s.dirty = true
}

func (s *Session) ClearUserID() {
	if _, ok := s.values[s.userKey]; ok {
		delete(s.values, s.userKey)
		s.dirty = true
	}
}

func (s *Session) Get(key string) string {
	return s.values[key]
}

func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.dirty = true
}

// AddFlash queues a flash that survives the next redirect.
func (s *Session) AddFlash(key, message string) {
	s.outgoing[key] = append(s.outgoing[key], message)
	s.dirty = true
}

// AddFlashNow makes a flash visible to this request only.
func (s *Session) AddFlashNow(key, message string) {
	s.incoming[key] = append(s.incoming[key], message)
}

// Flash returns the first flash for key visible to this request.
func (s *Session) Flash(key string) string {
	if msgs := s.incoming[key]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// Flashes returns every flash visible to this request.
func (s *Session) Flashes() map[string][]string {
	return s.incoming
}

// HasFlash reports whether a flash for key is visible to this request.
func (s *Session) HasFlash(key string) bool {
	return len(s.incoming[key]) > 0
}

// Options configures the session cookie.
type Options struct {
	CookieName string
	UserKey    string
	TTL        time.Duration
	Secure     bool
}

// Manager encodes and decodes sessions.
type Manager struct {
	secret []byte
	opts   Options
	now    func() time.Time
}

func NewManager(secret string, opts Options) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret is required")
	}
	if opts.CookieName == "" {
		opts.CookieName = "savage_session"
	}
	if opts.UserKey == "" {
		opts.UserKey = "user_id"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), opts: opts, now: time.Now}, nil
}

// Load decodes the request cookie. A missing, expired or tampered cookie
// yields an empty session that will overwrite it on save.
func (m *Manager) Load(r *http.Request) *Session {
	sess := newSession(m.opts.UserKey)
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return sess
	}

	c, err := m.parse(cookie.Value)
	if err != nil {
		sess.dirty = true
		return sess
	}
	if c.Values != nil {
		sess.values = c.Values
	}
	if len(c.Flashes) > 0 {
		sess.incoming = c.Flashes
		// Consumed by this request.
		sess.dirty = true
	}
	return sess
}

// Save writes the cookie when the session changed.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil || !sess.dirty {
		return nil
	}

	if len(sess.values) == 0 && len(sess.outgoing) == 0 {
		http.SetCookie(w, m.cookie("", -1))
		sess.dirty = false
		return nil
	}

	value, err := m.sign(claims{Values: sess.values, Flashes: sess.outgoing})
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(value, int(m.opts.TTL.Seconds())))
	sess.dirty = false
	return nil
}

// Middleware loads the session into the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.Load(r)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sess)))
	})
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) sign(c claims) (string, error) {
	now := m.now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(m.opts.TTL))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(m.secret)
}

func (m *Manager) parse(value string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(value, c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid session")
	}
	return c, nil
}

// NewContext returns ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session loaded by Middleware. Outside the
// middleware it returns a detached empty session.
func FromContext(ctx context.Context) *Session {
	if sess, ok := ctx.Value(contextKey{}).(*Session); ok {
		return sess
	}
	return newSession("user_id")
}
