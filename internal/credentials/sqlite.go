package credentials

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the token pair across CLI invocations. A single-row
// table keeps the schema honest: there is exactly one session per database.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL
)`

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(credentialsSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Credential() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cred Credential
	row := s.db.QueryRow("SELECT access_token, refresh_token FROM credentials WHERE id = 1")
	if err := row.Scan(&cred.AccessToken, &cred.RefreshToken); err != nil {
		return Credential{}, false
	}
	return cred, true
}

func (s *SQLiteStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO credentials (id, access_token, refresh_token) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET access_token = excluded.access_token, refresh_token = excluded.refresh_token`,
		cred.AccessToken, cred.RefreshToken)
	return err
}

func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM credentials WHERE id = 1")
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
