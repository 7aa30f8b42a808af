// ABOUTME: SQLite store methods for conversation workspace records
// ABOUTME: Meetings, shared documents, tasks and screen-share sessions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateMeeting inserts a scheduled meeting.
func (s *SQLiteStore) CreateMeeting(ctx context.Context, m *Meeting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (meeting_id, conversation_id, title, description, scheduled_at, duration_minutes, meeting_url, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.Title, m.Description, formatTime(m.ScheduledAt),
		m.DurationMinutes, m.MeetingURL, m.CreatedBy, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting meeting: %w", err)
	}
	return nil
}

// ListMeetings returns a conversation's meetings ordered by scheduled time.
func (s *SQLiteStore) ListMeetings(ctx context.Context, conversationID string) ([]*Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT meeting_id, conversation_id, title, description, scheduled_at, duration_minutes, meeting_url, created_by, created_at
		FROM meetings WHERE conversation_id = ?
		ORDER BY scheduled_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying meetings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	meetings := []*Meeting{}
	for rows.Next() {
		var m Meeting
		var scheduledAt, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Title, &m.Description, &scheduledAt,
			&m.DurationMinutes, &m.MeetingURL, &m.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}
		if m.ScheduledAt, err = parseTime(scheduledAt); err != nil {
			return nil, fmt.Errorf("parsing scheduled_at: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		meetings = append(meetings, &m)
	}
	return meetings, rows.Err()
}

// CreateDocument inserts a shared document record.
func (s *SQLiteStore) CreateDocument(ctx context.Context, d *SharedDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, conversation_id, name, url, size, mime_type, encrypted_key, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ConversationID, d.Name, d.URL, d.Size, d.MimeType, d.EncryptedKey, d.UploadedBy, formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// ListDocuments returns a conversation's documents oldest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, conversationID string) ([]*SharedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, conversation_id, name, url, size, mime_type, encrypted_key, uploaded_by, created_at
		FROM documents WHERE conversation_id = ?
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	documents := []*SharedDocument{}
	for rows.Next() {
		var d SharedDocument
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Name, &d.URL, &d.Size, &d.MimeType,
			&d.EncryptedKey, &d.UploadedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		documents = append(documents, &d)
	}
	return documents, rows.Err()
}

// CreateTask inserts a workspace task.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, conversation_id, title, description, status, assignee_id, due_at, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ConversationID, t.Title, t.Description, string(t.Status), t.AssigneeID,
		formatTimePtr(t.DueAt), t.CreatedBy, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

const taskColumns = `task_id, conversation_id, title, description, status, assignee_id, due_at, created_by, created_at, updated_at`

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var t Task
	var status, createdAt, updatedAt string
	var dueAt *string
	if err := scanner.Scan(&t.ID, &t.ConversationID, &t.Title, &t.Description, &status,
		&t.AssigneeID, &dueAt, &t.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)

	var err error
	if t.DueAt, err = parseTimePtr(dueAt); err != nil {
		return nil, fmt.Errorf("parsing due_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

// GetTask retrieves one task of a conversation.
func (s *SQLiteStore) GetTask(ctx context.Context, conversationID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE conversation_id = ? AND task_id = ?`,
		conversationID, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus sets a task's status.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, conversationID, taskID string, status TaskStatus, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE conversation_id = ? AND task_id = ?`,
		string(status), formatTime(at), conversationID, taskID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return requireAffected(result)
}

// ListTasks returns a conversation's tasks oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, conversationID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE conversation_id = ? ORDER BY created_at ASC, task_id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// StartScreenShare records a new screen-share session.
func (s *SQLiteStore) StartScreenShare(ctx context.Context, ss *ScreenShareSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screen_shares (session_id, conversation_id, started_by, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?)
	`, ss.ID, ss.ConversationID, ss.StartedBy, formatTime(ss.StartedAt), formatTimePtr(ss.EndedAt))
	if err != nil {
		return fmt.Errorf("inserting screen share: %w", err)
	}
	return nil
}

// EndScreenShare stamps the end time of a session that is still running.
func (s *SQLiteStore) EndScreenShare(ctx context.Context, conversationID, sessionID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE screen_shares SET ended_at = ?
		WHERE conversation_id = ? AND session_id = ? AND ended_at IS NULL
	`, formatTime(at), conversationID, sessionID)
	if err != nil {
		return fmt.Errorf("ending screen share: %w", err)
	}
	return requireAffected(result)
}

// ListScreenShares returns a conversation's screen-share sessions oldest first.
func (s *SQLiteStore) ListScreenShares(ctx context.Context, conversationID string) ([]*ScreenShareSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, conversation_id, started_by, started_at, ended_at
		FROM screen_shares WHERE conversation_id = ?
		ORDER BY started_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying screen shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []*ScreenShareSession{}
	for rows.Next() {
		var ss ScreenShareSession
		var startedAt string
		var endedAt *string
		if err := rows.Scan(&ss.ID, &ss.ConversationID, &ss.StartedBy, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scanning screen share: %w", err)
		}
		if ss.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if ss.EndedAt, err = parseTimePtr(endedAt); err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		sessions = append(sessions, &ss)
	}
	return sessions, rows.Err()
}
