package counterbutton

import (
	"context"

	"github.com/alexedwards/scs/v2"
)

// Session reads and writes the browser's session through the request that is
// currently being served. See Context.Session for when that is.
type Session struct {
	ctx     context.Context
	manager *scs.SessionManager
}

func (s *Session) detached() bool {
	return s.manager == nil || s.ctx == nil
}

// GetInt returns the int stored under key, or 0.
func (s *Session) GetInt(key string) int {
	if s.detached() {
		return 0
	}
	return s.manager.GetInt(s.ctx, key)
}

// Set stores val under key.
func (s *Session) Set(key string, val any) {
	if s.detached() {
		return
	}
	s.manager.Put(s.ctx, key, val)
}

// Exists reports whether key is present.
func (s *Session) Exists(key string) bool {
	if s.detached() {
		return false
	}
	return s.manager.Exists(s.ctx, key)
}

// Delete removes key.
func (s *Session) Delete(key string) {
	if s.detached() {
		return
	}
	s.manager.Remove(s.ctx, key)
}
