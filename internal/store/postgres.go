// ABOUTME: PostgreSQL implementation of the Store interface using pgx/v5 connection pools
// ABOUTME: Mirrors the SQLite schema with native TIMESTAMPTZ, JSONB and BIGSERIAL columns

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS principals (
		principal_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		kind         TEXT NOT NULL CHECK (kind IN ('user', 'service')),
		status       TEXT NOT NULL CHECK (status IN ('active', 'suspended')),
		created_at   TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id         TEXT PRIMARY KEY,
		job_id                  TEXT NOT NULL,
		proposal_id             TEXT NOT NULL UNIQUE,
		client_id               TEXT NOT NULL,
		counterparty_id         TEXT NOT NULL,
		client_public_key       TEXT,
		counterparty_public_key TEXT,
		status                  TEXT NOT NULL CHECK (status IN ('active', 'archived', 'suspended', 'closed')),
		settings                JSONB NOT NULL,
		created_at              TIMESTAMPTZ NOT NULL,
		updated_at              TIMESTAMPTZ NOT NULL,
		last_activity_at        TIMESTAMPTZ NOT NULL,
		CHECK (client_id <> counterparty_id)
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_client ON conversations(client_id, last_activity_at DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_counterparty ON conversations(counterparty_id, last_activity_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		seq             BIGSERIAL PRIMARY KEY,
		message_id      TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		sender_id       TEXT NOT NULL,
		recipient_id    TEXT NOT NULL,
		ciphertext      TEXT NOT NULL,
		integrity_hash  TEXT NOT NULL,
		signature       TEXT,
		message_type    TEXT NOT NULL DEFAULT 'text',
		attachments     JSONB,
		idempotency_key TEXT,
		status          TEXT NOT NULL CHECK (status IN ('sent', 'delivered', 'read')),
		created_at      TIMESTAMPTZ NOT NULL,
		delivered_at    TIMESTAMPTZ,
		read_at         TIMESTAMPTZ,
		deleted         BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at      TIMESTAMPTZ,
		expires_at      TIMESTAMPTZ,
		CHECK (sender_id <> recipient_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_idempotency
		ON messages(conversation_id, sender_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS conversation_audit (
		seq               BIGSERIAL PRIMARY KEY,
		audit_id          TEXT NOT NULL UNIQUE,
		conversation_id   TEXT NOT NULL REFERENCES conversations(conversation_id),
		action            TEXT NOT NULL,
		actor_id          TEXT NOT NULL,
		detail            TEXT NOT NULL DEFAULT '',
		origin            TEXT NOT NULL DEFAULT '',
		client_descriptor TEXT NOT NULL DEFAULT '',
		ts                TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_conversation ON conversation_audit(conversation_id, seq);

	CREATE TABLE IF NOT EXISTS meetings (
		meeting_id       TEXT PRIMARY KEY,
		conversation_id  TEXT NOT NULL REFERENCES conversations(conversation_id),
		title            TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		scheduled_at     TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		meeting_url      TEXT NOT NULL DEFAULT '',
		created_by       TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		document_id     TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		name            TEXT NOT NULL,
		url             TEXT NOT NULL,
		size            BIGINT NOT NULL DEFAULT 0,
		mime_type       TEXT NOT NULL DEFAULT '',
		encrypted_key   TEXT NOT NULL DEFAULT '',
		uploaded_by     TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		task_id         TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL CHECK (status IN ('todo', 'in_progress', 'done')),
		assignee_id     TEXT,
		due_at          TIMESTAMPTZ,
		created_by      TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS screen_shares (
		session_id      TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		started_by      TEXT NOT NULL,
		started_at      TIMESTAMPTZ NOT NULL,
		ended_at        TIMESTAMPTZ
	);
`

// PostgresStore implements the Store interface on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to databaseURL, verifies the connection and
// creates the schema if it doesn't exist.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store", "driver", "postgres")

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("PostgreSQL store initialized")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL store")
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func pgRequireAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- conversations ---

const pgConversationColumns = `
	conversation_id, job_id, proposal_id, client_id, counterparty_id,
	client_public_key, counterparty_public_key, status, settings,
	created_at, updated_at, last_activity_at
`

func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (`+pgConversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID, c.JobID, c.ProposalID, c.ClientID, c.CounterpartyID,
		c.ClientPublicKey, c.CounterpartyPublicKey, string(c.Status), c.Settings,
		c.CreatedAt, c.UpdatedAt, c.LastActivityAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", c.ID, "proposal_id", c.ProposalID)
	return nil
}

func pgScanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var status string
	if err := row.Scan(
		&c.ID, &c.JobID, &c.ProposalID, &c.ClientID, &c.CounterpartyID,
		&c.ClientPublicKey, &c.CounterpartyPublicKey, &status, &c.Settings,
		&c.CreatedAt, &c.UpdatedAt, &c.LastActivityAt,
	); err != nil {
		return nil, err
	}
	c.Status = ConversationStatus(status)
	return &c, nil
}

func (s *PostgresStore) getConversationWhere(ctx context.Context, where string, arg string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgConversationColumns+` FROM conversations WHERE `+where+` = $1`, arg)
	c, err := pgScanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.getConversationWhere(ctx, "conversation_id", id)
}

func (s *PostgresStore) GetConversationByProposal(ctx context.Context, proposalID string) (*Conversation, error) {
	return s.getConversationWhere(ctx, "proposal_id", proposalID)
}

func (s *PostgresStore) ListConversationsForParty(ctx context.Context, principalID string) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgConversationColumns+`
		FROM conversations
		WHERE (client_id = $1 OR counterparty_id = $1) AND status <> 'closed'
		ORDER BY last_activity_at DESC, conversation_id
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*Conversation{}
	for rows.Next() {
		c, err := pgScanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id string, from, to ConversationStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = $1, updated_at = $2
		WHERE conversation_id = $3 AND status = $4 AND status <> 'closed'
	`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// SetPublicKey locks the row, reads the slot and writes it in one transaction.
func (s *PostgresStore) SetPublicKey(ctx context.Context, conversationID string, role Role, key string, overwrite bool) (*string, error) {
	column, err := keyColumn(role)
	if err != nil {
		return nil, err
	}

	var previous *string
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT %s FROM conversations WHERE conversation_id = $1 FOR UPDATE`, column),
			conversationID).Scan(&previous)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading public key: %w", err)
		}
		if previous != nil {
			if *previous == key {
				return nil
			}
			if !overwrite {
				return ErrKeyConflict
			}
		}

		_, err = tx.Exec(ctx,
			fmt.Sprintf(`UPDATE conversations SET %s = $1, updated_at = $2 WHERE conversation_id = $3`, column),
			key, time.Now().UTC(), conversationID)
		if err != nil {
			return fmt.Errorf("setting public key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// --- messages ---

const pgMessageColumns = `
	message_id, conversation_id, sender_id, recipient_id, ciphertext, integrity_hash,
	signature, message_type, attachments, idempotency_key, status,
	created_at, delivered_at, read_at, deleted, deleted_at, expires_at
`

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (`+pgMessageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Ciphertext, msg.IntegrityHash,
			msg.Signature, msg.MessageType, attachments, msg.IdempotencyKey, string(msg.Status),
			msg.CreatedAt, msg.DeliveredAt, msg.ReadAt, msg.Deleted, msg.DeletedAt, msg.ExpiresAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateMessage
			}
			return fmt.Errorf("inserting message: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE conversations SET last_activity_at = $1 WHERE conversation_id = $2 AND last_activity_at < $1`,
			msg.CreatedAt, msg.ConversationID)
		if err != nil {
			return fmt.Errorf("updating last activity: %w", err)
		}
		return nil
	})
}

func pgScanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var status string
	var attachments *string
	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Ciphertext, &m.IntegrityHash,
		&m.Signature, &m.MessageType, &attachments, &m.IdempotencyKey, &status,
		&m.CreatedAt, &m.DeliveredAt, &m.ReadAt, &m.Deleted, &m.DeletedAt, &m.ExpiresAt,
	); err != nil {
		return nil, err
	}
	m.Status = MessageStatus(status)

	var err error
	if m.Attachments, err = unmarshalAttachments(attachments); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) getMessage(ctx context.Context, query string, args ...any) (*Message, error) {
	m, err := pgScanMessage(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	return s.getMessage(ctx,
		`SELECT `+pgMessageColumns+` FROM messages WHERE conversation_id = $1 AND message_id = $2`,
		conversationID, messageID)
}

func (s *PostgresStore) GetMessageByIdempotencyKey(ctx context.Context, conversationID, senderID, key string) (*Message, error) {
	return s.getMessage(ctx,
		`SELECT `+pgMessageColumns+` FROM messages WHERE conversation_id = $1 AND sender_id = $2 AND idempotency_key = $3`,
		conversationID, senderID, key)
}

func (s *PostgresStore) ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+`
		FROM messages
		WHERE conversation_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		  AND ($3::boolean OR NOT deleted)
		ORDER BY created_at DESC, seq DESC
		LIMIT $4
	`, q.ConversationID, q.Before, q.IncludeDeleted, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		m, err := pgScanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) MarkMessageDelivered(ctx context.Context, conversationID, messageID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = 'delivered', delivered_at = $1
		WHERE conversation_id = $2 AND message_id = $3 AND status = 'sent'
	`, at, conversationID, messageID)
	if err != nil {
		return false, fmt.Errorf("marking delivered: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkMessagesRead(ctx context.Context, conversationID, recipientID string, messageIDs []string, at time.Time) ([]string, error) {
	if len(messageIDs) == 0 {
		return []string{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE messages SET status = 'read', read_at = $1, delivered_at = COALESCE(delivered_at, $1)
		WHERE conversation_id = $2 AND recipient_id = $3 AND status <> 'read'
		  AND message_id = ANY($4)
		RETURNING message_id
	`, at, conversationID, recipientID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}

	changed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting read message ids: %w", err)
	}
	if changed == nil {
		changed = []string{}
	}
	return changed, nil
}

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET deleted = TRUE, deleted_at = COALESCE(deleted_at, $1)
		WHERE conversation_id = $2 AND message_id = $3
	`, at, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("soft deleting message: %w", err)
	}
	return pgRequireAffected(tag)
}

func (s *PostgresStore) CountUnread(ctx context.Context, conversationID, recipientID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND recipient_id = $2 AND status <> 'read' AND NOT deleted
	`, conversationID, recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// --- audit ---

func (s *PostgresStore) AppendAuditEntry(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_audit (audit_id, conversation_id, action, actor_id, detail, origin, client_descriptor, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ConversationID, string(e.Action), e.ActorID, e.Detail, e.Origin, e.ClientDescriptor, e.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, conversationID string) ([]*AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT audit_id, conversation_id, action, actor_id, detail, origin, client_descriptor, ts
		FROM conversation_audit WHERE conversation_id = $1
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var action string
		if err := rows.Scan(&e.ID, &e.ConversationID, &action, &e.ActorID, &e.Detail,
			&e.Origin, &e.ClientDescriptor, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = AuditAction(action)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- workspace ---

func (s *PostgresStore) CreateMeeting(ctx context.Context, m *Meeting) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO meetings (meeting_id, conversation_id, title, description, scheduled_at, duration_minutes, meeting_url, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.ConversationID, m.Title, m.Description, m.ScheduledAt, m.DurationMinutes, m.MeetingURL, m.CreatedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMeetings(ctx context.Context, conversationID string) ([]*Meeting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT meeting_id, conversation_id, title, description, scheduled_at, duration_minutes, meeting_url, created_by, created_at
		FROM meetings WHERE conversation_id = $1
		ORDER BY scheduled_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying meetings: %w", err)
	}
	defer rows.Close()

	meetings := []*Meeting{}
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Title, &m.Description, &m.ScheduledAt,
			&m.DurationMinutes, &m.MeetingURL, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}
		meetings = append(meetings, &m)
	}
	return meetings, rows.Err()
}

func (s *PostgresStore) CreateDocument(ctx context.Context, d *SharedDocument) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (document_id, conversation_id, name, url, size, mime_type, encrypted_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.ConversationID, d.Name, d.URL, d.Size, d.MimeType, d.EncryptedKey, d.UploadedBy, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, conversationID string) ([]*SharedDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, conversation_id, name, url, size, mime_type, encrypted_key, uploaded_by, created_at
		FROM documents WHERE conversation_id = $1
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	documents := []*SharedDocument{}
	for rows.Next() {
		var d SharedDocument
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Name, &d.URL, &d.Size, &d.MimeType,
			&d.EncryptedKey, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		documents = append(documents, &d)
	}
	return documents, rows.Err()
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.ConversationID, t.Title, t.Description, string(t.Status), t.AssigneeID,
		t.DueAt, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func pgScanTask(row pgx.Row) (*Task, error) {
	var t Task
	var status string
	if err := row.Scan(&t.ID, &t.ConversationID, &t.Title, &t.Description, &status,
		&t.AssigneeID, &t.DueAt, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, conversationID, taskID string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE conversation_id = $1 AND task_id = $2`,
		conversationID, taskID)
	t, err := pgScanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, conversationID, taskID string, status TaskStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE conversation_id = $3 AND task_id = $4`,
		string(status), at, conversationID, taskID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return pgRequireAffected(tag)
}

func (s *PostgresStore) ListTasks(ctx context.Context, conversationID string) ([]*Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE conversation_id = $1 ORDER BY created_at ASC, task_id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := pgScanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) StartScreenShare(ctx context.Context, ss *ScreenShareSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO screen_shares (session_id, conversation_id, started_by, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ss.ID, ss.ConversationID, ss.StartedBy, ss.StartedAt, ss.EndedAt)
	if err != nil {
		return fmt.Errorf("inserting screen share: %w", err)
	}
	return nil
}

func (s *PostgresStore) EndScreenShare(ctx context.Context, conversationID, sessionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE screen_shares SET ended_at = $1
		WHERE conversation_id = $2 AND session_id = $3 AND ended_at IS NULL
	`, at, conversationID, sessionID)
	if err != nil {
		return fmt.Errorf("ending screen share: %w", err)
	}
	return pgRequireAffected(tag)
}

func (s *PostgresStore) ListScreenShares(ctx context.Context, conversationID string) ([]*ScreenShareSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, conversation_id, started_by, started_at, ended_at
		FROM screen_shares WHERE conversation_id = $1
		ORDER BY started_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying screen shares: %w", err)
	}
	defer rows.Close()

	sessions := []*ScreenShareSession{}
	for rows.Next() {
		var ss ScreenShareSession
		if err := rows.Scan(&ss.ID, &ss.ConversationID, &ss.StartedBy, &ss.StartedAt, &ss.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning screen share: %w", err)
		}
		sessions = append(sessions, &ss)
	}
	return sessions, rows.Err()
}

// --- principals ---

func (s *PostgresStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO principals (principal_id, display_name, kind, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.DisplayName, string(p.Kind), string(p.Status), p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePrincipal
		}
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	var p Principal
	var kind, status string
	err := s.pool.QueryRow(ctx, `
		SELECT principal_id, display_name, kind, status, created_at
		FROM principals WHERE principal_id = $1
	`, id).Scan(&p.ID, &p.DisplayName, &kind, &status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	p.Kind = PrincipalKind(kind)
	p.Status = PrincipalStatus(status)
	return &p, nil
}
