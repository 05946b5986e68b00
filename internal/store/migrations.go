package store

import "fmt"

// migrate creates the two tables this service owns. DDL is dialect-specific
// because the supported engines disagree on auto-increment and timestamp
// syntax; the logical layout is identical everywhere.
//
// api_key_audit_logs.api_key_id is deliberately a plain nullable column, not
// an enforced foreign key: audit rows must survive the deletion of the key
// they describe.
func (s *Store) migrate() error {
	var migrations []string

	switch s.driver {
	case DriverSQLite:
		migrations = []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				secret TEXT UNIQUE NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				scopes TEXT NOT NULL DEFAULT 'read',
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				last_used_at DATETIME,
				last_used_ip TEXT NOT NULL DEFAULT '',
				expires_at DATETIME,
				allowed_ips TEXT NOT NULL DEFAULT '',
				created_by_key_id INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS api_key_audit_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				api_key_id INTEGER,
				action TEXT NOT NULL,
				actor_key_id INTEGER,
				source_ip TEXT NOT NULL DEFAULT '',
				details TEXT NOT NULL DEFAULT '',
				timestamp DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_secret ON api_keys(secret)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_logs_key ON api_key_audit_logs(api_key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON api_key_audit_logs(timestamp)`,
		}

	case DriverPostgres:
		migrations = []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id BIGSERIAL PRIMARY KEY,
				secret TEXT UNIQUE NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				scopes TEXT NOT NULL DEFAULT 'read',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL,
				last_used_at TIMESTAMPTZ,
				last_used_ip TEXT NOT NULL DEFAULT '',
				expires_at TIMESTAMPTZ,
				allowed_ips TEXT NOT NULL DEFAULT '',
				created_by_key_id BIGINT
			)`,
			`CREATE TABLE IF NOT EXISTS api_key_audit_logs (
				id BIGSERIAL PRIMARY KEY,
				api_key_id BIGINT,
				action TEXT NOT NULL,
				actor_key_id BIGINT,
				source_ip TEXT NOT NULL DEFAULT '',
				details TEXT NOT NULL DEFAULT '',
				timestamp TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_secret ON api_keys(secret)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_logs_key ON api_key_audit_logs(api_key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON api_key_audit_logs(timestamp)`,
		}

	case DriverMySQL:
		migrations = []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				secret VARCHAR(255) UNIQUE NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				scopes VARCHAR(64) NOT NULL DEFAULT 'read',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at DATETIME(6) NOT NULL,
				last_used_at DATETIME(6),
				last_used_ip VARCHAR(64) NOT NULL DEFAULT '',
				expires_at DATETIME(6),
				allowed_ips TEXT,
				created_by_key_id BIGINT
			)`,
			`CREATE TABLE IF NOT EXISTS api_key_audit_logs (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				api_key_id BIGINT,
				action VARCHAR(32) NOT NULL,
				actor_key_id BIGINT,
				source_ip VARCHAR(64) NOT NULL DEFAULT '',
				details TEXT,
				timestamp DATETIME(6) NOT NULL
			)`,
			`CREATE INDEX idx_audit_logs_key ON api_key_audit_logs(api_key_id)`,
			`CREATE INDEX idx_audit_logs_timestamp ON api_key_audit_logs(timestamp)`,
		}

	default:
		return fmt.Errorf("unsupported driver %q", s.driver)
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS; re-running the index
			// statements reports a duplicate key name.
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
