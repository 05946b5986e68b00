// Package store persists API key records and their audit ledger.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/octopushq/keygate/internal/model"
)

// Supported backing engines. SQLite is the default and needs no external
// infrastructure; Postgres and MySQL serve shared deployments.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Store holds key records and audit entries in a SQL database. It owns the
// unique constraint on api_keys.secret; key creation relies on it to detect
// generation collisions.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the backing database and runs migrations. An empty driver
// selects SQLite; an empty SQLite DSN selects an in-memory database (used by
// tests).
//
// MySQL DSNs must include parseTime=true so DATETIME columns scan into
// time.Time.
func Open(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}

	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite"
		if dsn == "" {
			dsn = ":memory:?_journal_mode=WAL"
		}
	case DriverPostgres:
		sqlDriver = "pgx"
	case DriverMySQL:
		sqlDriver = "mysql"
	default:
		return nil, fmt.Errorf("unsupported driver %q (valid: sqlite, postgres, mysql)", driver)
	}

	db, err := sqlx.Connect(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", driver, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// InTx runs fn within a single database transaction, committing when fn
// returns nil and rolling back otherwise. Lifecycle mutations use it so the
// read-check-write sequence and its audit entry land atomically.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer txx.Rollback() //nolint:errcheck

	if err := fn(&Tx{ext: txx, driver: s.driver}); err != nil {
		return err
	}
	return txx.Commit()
}

// Tx exposes the store operations that participate in a transaction.
type Tx struct {
	ext    *sqlx.Tx
	driver string
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

// apiKeyRow maps 1:1 to the api_keys table. Scopes and allowed IPs are kept
// as ordered comma-joined text in the row and expanded in the model.
type apiKeyRow struct {
	ID             int64      `db:"id"`
	Secret         string     `db:"secret"`
	Name           string     `db:"name"`
	Description    string     `db:"description"`
	Scopes         string     `db:"scopes"`
	IsActive       bool       `db:"is_active"`
	CreatedAt      time.Time  `db:"created_at"`
	LastUsedAt     *time.Time `db:"last_used_at"`
	LastUsedIP     string     `db:"last_used_ip"`
	ExpiresAt      *time.Time `db:"expires_at"`
	AllowedIPs     string     `db:"allowed_ips"`
	CreatedByKeyID *int64     `db:"created_by_key_id"`
}

func apiKeyRowFromModel(k *model.APIKey) apiKeyRow {
	return apiKeyRow{
		ID:             k.ID,
		Secret:         k.Secret,
		Name:           k.Name,
		Description:    k.Description,
		Scopes:         k.Scopes.String(),
		IsActive:       k.IsActive,
		CreatedAt:      k.CreatedAt,
		LastUsedAt:     k.LastUsedAt,
		LastUsedIP:     k.LastUsedIP,
		ExpiresAt:      k.ExpiresAt,
		AllowedIPs:     strings.Join(k.AllowedIPs, ","),
		CreatedByKeyID: k.CreatedByKeyID,
	}
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	scopes, err := model.ParseScopeList(r.Scopes)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("key %d has corrupt scope list: %w", r.ID, err)
	}

	var allowedIPs []string
	if r.AllowedIPs != "" {
		allowedIPs = strings.Split(r.AllowedIPs, ",")
	}

	return model.APIKey{
		ID:             r.ID,
		Secret:         r.Secret,
		Name:           r.Name,
		Description:    r.Description,
		Scopes:         scopes,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		LastUsedAt:     r.LastUsedAt,
		LastUsedIP:     r.LastUsedIP,
		ExpiresAt:      r.ExpiresAt,
		AllowedIPs:     allowedIPs,
		CreatedByKeyID: r.CreatedByKeyID,
	}, nil
}

type auditRow struct {
	ID         int64     `db:"id"`
	APIKeyID   *int64    `db:"api_key_id"`
	Action     string    `db:"action"`
	ActorKeyID *int64    `db:"actor_key_id"`
	SourceIP   string    `db:"source_ip"`
	Details    string    `db:"details"`
	Timestamp  time.Time `db:"timestamp"`
}

func (r auditRow) toModel() model.AuditLog {
	return model.AuditLog{
		ID:         r.ID,
		APIKeyID:   r.APIKeyID,
		Action:     model.AuditAction(r.Action),
		ActorKeyID: r.ActorKeyID,
		SourceIP:   r.SourceIP,
		Details:    r.Details,
		Timestamp:  r.Timestamp,
	}
}

// ---------------------------------------------------------------------------
// API key operations
// ---------------------------------------------------------------------------

const insertAPIKeySQL = `INSERT INTO api_keys
	(secret, name, description, scopes, is_active, created_at, last_used_at,
	 last_used_ip, expires_at, allowed_ips, created_by_key_id)
	VALUES
	(:secret, :name, :description, :scopes, :is_active, :created_at, :last_used_at,
	 :last_used_ip, :expires_at, :allowed_ips, :created_by_key_id)`

func insertAPIKey(ctx context.Context, ext sqlx.ExtContext, driver string, key *model.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	row := apiKeyRowFromModel(key)

	id, err := namedInsert(ctx, ext, driver, insertAPIKeySQL, row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSecret
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

func getAPIKey(ctx context.Context, ext sqlx.ExtContext, id int64) (*model.APIKey, error) {
	var row apiKeyRow
	q := ext.Rebind("SELECT * FROM api_keys WHERE id = ?")
	if err := sqlx.GetContext(ctx, ext, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func updateAPIKey(ctx context.Context, ext sqlx.ExtContext, key *model.APIKey) error {
	row := apiKeyRowFromModel(key)

	const q = `UPDATE api_keys SET
		name = :name, description = :description, scopes = :scopes,
		is_active = :is_active, expires_at = :expires_at, allowed_ips = :allowed_ips
		WHERE id = :id`

	result, err := sqlx.NamedExecContext(ctx, ext, q, row)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func deleteAPIKey(ctx context.Context, ext sqlx.ExtContext, id int64) error {
	q := ext.Rebind("DELETE FROM api_keys WHERE id = ?")
	result, err := ext.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const insertAuditSQL = `INSERT INTO api_key_audit_logs
	(api_key_id, action, actor_key_id, source_ip, details, timestamp)
	VALUES
	(:api_key_id, :action, :actor_key_id, :source_ip, :details, :timestamp)`

func insertAuditLog(ctx context.Context, ext sqlx.ExtContext, driver string, entry *model.AuditLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	row := auditRow{
		APIKeyID:   entry.APIKeyID,
		Action:     string(entry.Action),
		ActorKeyID: entry.ActorKeyID,
		SourceIP:   entry.SourceIP,
		Details:    entry.Details,
		Timestamp:  entry.Timestamp,
	}

	id, err := namedInsert(ctx, ext, driver, insertAuditSQL, row)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	entry.ID = id
	return nil
}

// namedInsert runs a named INSERT and returns the new row ID. Postgres has no
// LastInsertId, so the query grows a RETURNING clause there.
func namedInsert(ctx context.Context, ext sqlx.ExtContext, driver, query string, arg interface{}) (int64, error) {
	if driver == DriverPostgres {
		rows, err := sqlx.NamedQueryContext(ctx, ext, query+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		if !rows.Next() {
			return 0, sql.ErrNoRows
		}
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}

	result, err := sqlx.NamedExecContext(ctx, ext, query, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CreateAPIKey inserts a new key record. The ID and CreatedAt fields on key
// are populated after a successful insert. Returns ErrDuplicateSecret if the
// generated secret collides with an existing row.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	return insertAPIKey(ctx, s.db, s.driver, key)
}

// CreateAPIKey inserts a key record within the transaction.
func (t *Tx) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	return insertAPIKey(ctx, t.ext, t.driver, key)
}

// GetAPIKey returns a key record by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	return getAPIKey(ctx, s.db, id)
}

// GetAPIKey returns a key record by ID within the transaction.
func (t *Tx) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	return getAPIKey(ctx, t.ext, id)
}

// GetAPIKeyBySecret looks up a key record by exact secret match.
func (s *Store) GetAPIKeyBySecret(ctx context.Context, secret string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT * FROM api_keys WHERE secret = ?")
	if err := s.db.GetContext(ctx, &row, q, secret); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by secret: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns key records ordered by creation time descending.
// Inactive keys are excluded unless includeInactive is set.
func (s *Store) ListAPIKeys(ctx context.Context, includeInactive bool, limit, offset int) ([]model.APIKey, error) {
	q := "SELECT * FROM api_keys"
	if !includeInactive {
		q += " WHERE is_active = " + s.boolLiteral(true)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), limit, offset); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return rowsToModels(rows)
}

// CountAPIKeys returns the total number of key records, active or not. The
// bootstrap gate uses it as its existence check.
func (s *Store) CountAPIKeys(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM api_keys"); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return count, nil
}

// UpdateAPIKey persists the mutable fields (name, description, scopes,
// is_active, expires_at, allowed_ips) of an existing record.
func (s *Store) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	return updateAPIKey(ctx, s.db, key)
}

// UpdateAPIKey persists the mutable fields within the transaction.
func (t *Tx) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	return updateAPIKey(ctx, t.ext, key)
}

// DeleteAPIKey removes a key record permanently.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	return deleteAPIKey(ctx, s.db, id)
}

// DeleteAPIKey removes a key record within the transaction.
func (t *Tx) DeleteAPIKey(ctx context.Context, id int64) error {
	return deleteAPIKey(ctx, t.ext, id)
}

// TouchAPIKey records a successful authentication on the key. Last-writer
// wins under concurrent authentications of the same key; the fields are
// advisory telemetry.
func (s *Store) TouchAPIKey(ctx context.Context, id int64, when time.Time, ip string) error {
	q := s.db.Rebind("UPDATE api_keys SET last_used_at = ?, last_used_ip = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, when, ip, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiring returns active keys whose expiry falls within (from, until],
// ascending by expiry.
func (s *Store) ListExpiring(ctx context.Context, from, until time.Time) ([]model.APIKey, error) {
	q := s.db.Rebind(`SELECT * FROM api_keys
		WHERE is_active = ` + s.boolLiteral(true) + `
		  AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?
		ORDER BY expires_at ASC`)

	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, q, from, until); err != nil {
		return nil, fmt.Errorf("list expiring api keys: %w", err)
	}
	return rowsToModels(rows)
}

// ListExpired returns active keys whose expiry is at or before now. The
// expiration sweep deactivates them.
func (t *Tx) ListExpired(ctx context.Context, now time.Time) ([]model.APIKey, error) {
	q := t.ext.Rebind(`SELECT * FROM api_keys
		WHERE is_active = ` + boolLiteral(t.driver, true) + `
		  AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at ASC`)

	var rows []apiKeyRow
	if err := sqlx.SelectContext(ctx, t.ext, &rows, q, now); err != nil {
		return nil, fmt.Errorf("list expired api keys: %w", err)
	}
	return rowsToModels(rows)
}

// ---------------------------------------------------------------------------
// Audit ledger
// ---------------------------------------------------------------------------

// AuditFilter narrows audit ledger queries. Nil/zero fields match everything.
type AuditFilter struct {
	APIKeyID *int64
	Action   model.AuditAction
	Since    *time.Time
	Until    *time.Time
}

func (f AuditFilter) clauses() (string, []interface{}) {
	var where []string
	var args []interface{}
	if f.APIKeyID != nil {
		where = append(where, "api_key_id = ?")
		args = append(args, *f.APIKeyID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, *f.Until)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// InsertAuditLog appends an entry to the ledger. The ID and Timestamp fields
// on entry are populated after insert. Entries are never updated or deleted.
func (s *Store) InsertAuditLog(ctx context.Context, entry *model.AuditLog) error {
	return insertAuditLog(ctx, s.db, s.driver, entry)
}

// InsertAuditLog appends an entry within the transaction.
func (t *Tx) InsertAuditLog(ctx context.Context, entry *model.AuditLog) error {
	return insertAuditLog(ctx, t.ext, t.driver, entry)
}

// ListAuditLogs returns ledger entries matching the filter, newest first.
func (s *Store) ListAuditLogs(ctx context.Context, filter AuditFilter, limit, offset int) ([]model.AuditLog, error) {
	where, args := filter.clauses()
	q := "SELECT * FROM api_key_audit_logs" + where +
		" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}

	entries := make([]model.AuditLog, len(rows))
	for i, r := range rows {
		entries[i] = r.toModel()
	}
	return entries, nil
}

// CountAuditLogs returns the number of ledger entries matching the filter.
func (s *Store) CountAuditLogs(ctx context.Context, filter AuditFilter) (int64, error) {
	where, args := filter.clauses()
	q := "SELECT COUNT(*) FROM api_key_audit_logs" + where

	var count int64
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(q), args...); err != nil {
		return 0, fmt.Errorf("count audit logs: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Dialect helpers
// ---------------------------------------------------------------------------

func (s *Store) boolLiteral(v bool) string {
	return boolLiteral(s.driver, v)
}

// boolLiteral renders a boolean constant for the dialect. SQLite stores
// booleans as integers.
func boolLiteral(driver string, v bool) string {
	if driver == DriverSQLite {
		if v {
			return "1"
		}
		return "0"
	}
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func rowsToModels(rows []apiKeyRow) ([]model.APIKey, error) {
	keys := make([]model.APIKey, len(rows))
	for i, r := range rows {
		key, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// isUniqueViolation matches the unique-constraint error text of the three
// supported engines.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "duplicate key value violates unique constraint") || // Postgres
		strings.Contains(msg, "Duplicate entry") // MySQL
}

// isDuplicateIndex matches MySQL's re-created index error; SQLite and
// Postgres use IF NOT EXISTS instead.
func isDuplicateIndex(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Duplicate key name")
}
