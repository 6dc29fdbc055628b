package counterbutton

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
)

const (
	sessionsTableSQL = `CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	expiry REAL NOT NULL
)`
	sessionsIndexSQL = `CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry)`
)

// NewSQLiteSessionManager creates the sessions table in db if needed and
// returns a session manager backed by it. The caller registers the SQLite
// driver and owns db.
func NewSQLiteSessionManager(db *sql.DB) (*scs.SessionManager, error) {
	for _, stmt := range []string{sessionsTableSQL, sessionsIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create sessions schema: %w", err)
		}
	}
	sm := scs.New()
	sm.Store = sqlite3store.NewWithCleanupInterval(db, 5*time.Minute)
	sm.Lifetime = 24 * time.Hour
	return sm, nil
}
