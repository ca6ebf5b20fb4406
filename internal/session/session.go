// Package session remembers per-visitor state in a signed cookie.
package session

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/tahcohcat/vocalize-web/internal/logger"
)

const (
	cookieName  = "vocalize-session"
	lastClipKey = "last_clip"
)

type Store struct {
	cookies *sessions.CookieStore
}

// New creates a cookie store signed with secret. An empty secret gets a
// random key, so sessions do not survive a restart.
func New(secret string, maxAge time.Duration) *Store {
	key := []byte(secret)
	if secret == "" {
		logger.New().Warn("no session secret configured, using a random key")
		key = securecookie.GenerateRandomKey(32)
	}

	cookies := sessions.NewCookieStore(key)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Store{cookies: cookies}
}

// RememberClip records id as the visitor's most recent clip.
func (s *Store) RememberClip(w http.ResponseWriter, r *http.Request, id string) error {
	// a tampered or stale cookie yields a fresh session alongside the error
	sess, _ := s.cookies.Get(r, cookieName)
	sess.Values[lastClipKey] = id
	return sess.Save(r, w)
}

// LastClip returns the id stored by RememberClip.
func (s *Store) LastClip(r *http.Request) (string, bool) {
	sess, err := s.cookies.Get(r, cookieName)
	if err != nil {
		return "", false
	}
	id, ok := sess.Values[lastClipKey].(string)
	return id, ok && id != ""
}
