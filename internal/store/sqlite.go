// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Provides schema creation, migrations, conversation records and principals

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by NewSQLiteStoreWithDriver.
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverCGO     = "sqlite3" // mattn/go-sqlite3
)

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverModernc, path)
}

// NewSQLiteStoreWithDriver creates a SQLite store using the named database/sql driver.
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", driver)

	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serialises writers so concurrent appends never see
	// SQLITE_BUSY, and keeps :memory: databases from splitting per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			principal_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			kind         TEXT NOT NULL,
			status       TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (kind IN ('user', 'service')),
			CHECK (status IN ('active', 'suspended'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			conversation_id        TEXT PRIMARY KEY,
			job_id                 TEXT NOT NULL,
			proposal_id            TEXT NOT NULL,
			client_id              TEXT NOT NULL,
			counterparty_id        TEXT NOT NULL,
			client_public_key      TEXT,
			counterparty_public_key TEXT,
			status                 TEXT NOT NULL,
			settings_json          TEXT NOT NULL,
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL,
			last_activity_at       TEXT NOT NULL,

			CHECK (status IN ('active', 'archived', 'suspended', 'closed')),
			CHECK (client_id <> counterparty_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_proposal ON conversations(proposal_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_client ON conversations(client_id, last_activity_at DESC);
		CREATE INDEX IF NOT EXISTS idx_conversations_counterparty ON conversations(counterparty_id, last_activity_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id      TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			recipient_id    TEXT NOT NULL,
			ciphertext      TEXT NOT NULL,
			integrity_hash  TEXT NOT NULL,
			signature       TEXT,
			message_type    TEXT NOT NULL DEFAULT 'text',
			attachments_json TEXT,
			idempotency_key TEXT,
			status          TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			delivered_at    TEXT,
			read_at         TEXT,
			deleted         INTEGER NOT NULL DEFAULT 0,
			deleted_at      TEXT,
			expires_at      TEXT,

			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id),
			CHECK (status IN ('sent', 'delivered', 'read')),
			CHECK (sender_id <> recipient_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_idempotency
			ON messages(conversation_id, sender_id, idempotency_key)
			WHERE idempotency_key IS NOT NULL;

		CREATE TABLE IF NOT EXISTS conversation_audit (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			audit_id          TEXT NOT NULL UNIQUE,
			conversation_id   TEXT NOT NULL,
			action            TEXT NOT NULL,
			actor_id          TEXT NOT NULL,
			detail            TEXT NOT NULL DEFAULT '',
			origin            TEXT NOT NULL DEFAULT '',
			client_descriptor TEXT NOT NULL DEFAULT '',
			ts                TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_audit_conversation ON conversation_audit(conversation_id, seq);

		CREATE TABLE IF NOT EXISTS meetings (
			meeting_id       TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			title            TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			scheduled_at     TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			meeting_url      TEXT NOT NULL DEFAULT '',
			created_by       TEXT NOT NULL,
			created_at       TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_meetings_conversation ON meetings(conversation_id, scheduled_at);

		CREATE TABLE IF NOT EXISTS documents (
			document_id     TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			name            TEXT NOT NULL,
			url             TEXT NOT NULL,
			size            INTEGER NOT NULL DEFAULT 0,
			mime_type       TEXT NOT NULL DEFAULT '',
			encrypted_key   TEXT NOT NULL DEFAULT '',
			uploaded_by     TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_documents_conversation ON documents(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS tasks (
			task_id         TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			title           TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			assignee_id     TEXT,
			due_at          TEXT,
			created_by      TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id),
			CHECK (status IN ('todo', 'in_progress', 'done'))
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_conversation ON tasks(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS screen_shares (
			session_id      TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			started_by      TEXT NOT NULL,
			started_at      TEXT NOT NULL,
			ended_at        TEXT,

			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_screen_shares_conversation ON screen_shares(conversation_id, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateConversation inserts a conversation.
// Returns ErrDuplicateConversation if one already exists for the proposal.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	query := `
		INSERT INTO conversations (
			conversation_id, job_id, proposal_id, client_id, counterparty_id,
			client_public_key, counterparty_public_key, status, settings_json,
			created_at, updated_at, last_activity_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.JobID, c.ProposalID, c.ClientID, c.CounterpartyID,
		c.ClientPublicKey, c.CounterpartyPublicKey, string(c.Status), string(settings),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), formatTime(c.LastActivityAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "proposal_id", c.ProposalID)
	return nil
}

const conversationColumns = `
	conversation_id, job_id, proposal_id, client_id, counterparty_id,
	client_public_key, counterparty_public_key, status, settings_json,
	created_at, updated_at, last_activity_at
`

// scanConversation scans a row into a Conversation.
func scanConversation(scanner interface{ Scan(dest ...any) error }) (*Conversation, error) {
	var c Conversation
	var status, settings, createdAt, updatedAt, lastActivity string

	if err := scanner.Scan(
		&c.ID, &c.JobID, &c.ProposalID, &c.ClientID, &c.CounterpartyID,
		&c.ClientPublicKey, &c.CounterpartyPublicKey, &status, &settings,
		&createdAt, &updatedAt, &lastActivity,
	); err != nil {
		return nil, err
	}

	c.Status = ConversationStatus(status)
	if err := json.Unmarshal([]byte(settings), &c.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if c.LastActivityAt, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// GetConversationByProposal retrieves the conversation created for a proposal.
func (s *SQLiteStore) GetConversationByProposal(ctx context.Context, proposalID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE proposal_id = ?`, proposalID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by proposal: %w", err)
	}
	return c, nil
}

// ListConversationsForParty returns non-closed conversations for a principal,
// ordered by last activity (most recent first).
func (s *SQLiteStore) ListConversationsForParty(ctx context.Context, principalID string) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (client_id = ? OR counterparty_id = ?) AND status <> 'closed'
		ORDER BY last_activity_at DESC, conversation_id
	`
	rows, err := s.db.QueryContext(ctx, query, principalID, principalID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conversations := []*Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return conversations, nil
}

// UpdateConversationStatus moves a conversation from one status to another
// with a conditional update. Closed conversations never change.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id string, from, to ConversationStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = ?, updated_at = ?
		WHERE conversation_id = ? AND status = ? AND status <> 'closed'
	`, string(to), formatTime(time.Now()), id, string(from))
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// SetPublicKey fills the key slot for role. The write is a compare-and-swap on
// the value just read, so the returned previous key is the one replaced.
func (s *SQLiteStore) SetPublicKey(ctx context.Context, conversationID string, role Role, key string, overwrite bool) (*string, error) {
	column, err := keyColumn(role)
	if err != nil {
		return nil, err
	}

	selectQuery := fmt.Sprintf(`SELECT %s FROM conversations WHERE conversation_id = ?`, column)
	updateQuery := fmt.Sprintf(`
		UPDATE conversations SET %[1]s = ?, updated_at = ?
		WHERE conversation_id = ? AND %[1]s IS ?
	`, column)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var current sql.NullString
		err := s.db.QueryRowContext(ctx, selectQuery, conversationID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("reading public key: %w", err)
		}

		var previous *string
		if current.Valid {
			previous = &current.String
			if current.String == key {
				return previous, nil
			}
			if !overwrite {
				return nil, ErrKeyConflict
			}
		}

		result, err := s.db.ExecContext(ctx, updateQuery, key, formatTime(time.Now()), conversationID, current)
		if err != nil {
			return nil, fmt.Errorf("setting public key: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("checking rows affected: %w", err)
		}
		if n > 0 {
			return previous, nil
		}
		// Another writer changed the slot between the read and the update.
	}
}

func keyColumn(role Role) (string, error) {
	switch role {
	case RoleClient:
		return "client_public_key", nil
	case RoleCounterparty:
		return "counterparty_public_key", nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// requireAffected maps a zero-row update to ErrNotFound.
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePrincipal inserts a principal.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (principal_id, display_name, kind, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.DisplayName, string(p.Kind), string(p.Status), formatTime(p.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicatePrincipal
		}
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	var p Principal
	var kind, status, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, display_name, kind, status, created_at
		FROM principals WHERE principal_id = ?
	`, id).Scan(&p.ID, &p.DisplayName, &kind, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	p.Kind = PrincipalKind(kind)
	p.Status = PrincipalStatus(status)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}
