// ABOUTME: Workspace operations: meetings, shared documents, tasks and screen shares
// ABOUTME: Each change is audited and broadcast to the conversation room

package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workroom-gateway/internal/store"
)

// ScheduleMeetingInput describes a meeting to schedule.
type ScheduleMeetingInput struct {
	Title           string    `json:"title" validate:"required"`
	Description     string    `json:"description,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"gte=0"`
	MeetingURL      string    `json:"meeting_url,omitempty" validate:"omitempty,url"`
}

// ScheduleMeeting adds a meeting to the workspace.
func (s *Service) ScheduleMeeting(ctx context.Context, conversationID, callerID string, in ScheduleMeetingInput) (*MeetingView, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	c, _, err := s.loadActiveParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}

	duration := in.DurationMinutes
	if duration == 0 {
		duration = 30
	}
	m := &store.Meeting{
		ID:              uuid.New().String(),
		ConversationID:  c.ID,
		Title:           in.Title,
		Description:     in.Description,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: duration,
		MeetingURL:      in.MeetingURL,
		CreatedBy:       callerID,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateMeeting(ctx, m); err != nil {
		return nil, s.storeError(err, "conversation")
	}

	view := newMeetingView(m)
	s.Record(ctx, c.ID, store.AuditMeetingScheduled, callerID,
		fmt.Sprintf("meeting=%s at=%s", m.ID, m.ScheduledAt.Format(time.RFC3339)))
	s.notifier.Broadcast(ctx, Room(c.ID), EventMeetingScheduled, view)
	return view, nil
}

// ListMeetings returns the workspace meetings.
func (s *Service) ListMeetings(ctx context.Context, conversationID, callerID string) ([]*MeetingView, error) {
	c, _, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListMeetings(ctx, c.ID)
	if err != nil {
		return nil, s.storeError(err, "meetings")
	}
	views := make([]*MeetingView, 0, len(list))
	for _, m := range list {
		views = append(views, newMeetingView(m))
	}
	return views, nil
}

// ShareDocumentInput references an encrypted file stored elsewhere.
type ShareDocumentInput struct {
	Name         string `json:"name" validate:"required"`
	URL          string `json:"url" validate:"required,url"`
	Size         int64  `json:"size,omitempty" validate:"gte=0"`
	MimeType     string `json:"mime_type,omitempty"`
	EncryptedKey string `json:"encrypted_key,omitempty"`
}

// ShareDocument places a document in the workspace when file sharing is allowed.
func (s *Service) ShareDocument(ctx context.Context, conversationID, callerID string, in ShareDocumentInput) (*DocumentView, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	c, _, err := s.loadActiveParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if !c.Settings.AllowFileSharing {
		return nil, errInvalidState("file sharing is disabled for this conversation")
	}

	d := &store.SharedDocument{
		ID:             uuid.New().String(),
		ConversationID: c.ID,
		Name:           in.Name,
		URL:            in.URL,
		Size:           in.Size,
		MimeType:       in.MimeType,
		EncryptedKey:   in.EncryptedKey,
		UploadedBy:     callerID,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateDocument(ctx, d); err != nil {
		return nil, s.storeError(err, "conversation")
	}

	view := newDocumentView(d)
	s.Record(ctx, c.ID, store.AuditDocumentUploaded, callerID,
		fmt.Sprintf("document=%s name=%s", d.ID, d.Name))
	s.notifier.Broadcast(ctx, Room(c.ID), EventDocumentShared, view)
	return view, nil
}

// ListDocuments returns the shared documents.
func (s *Service) ListDocuments(ctx context.Context, conversationID, callerID string) ([]*DocumentView, error) {
	c, _, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListDocuments(ctx, c.ID)
	if err != nil {
		return nil, s.storeError(err, "documents")
	}
	views := make([]*DocumentView, 0, len(list))
	for _, d := range list {
		views = append(views, newDocumentView(d))
	}
	return views, nil
}

// CreateTaskInput describes a new task.
type CreateTaskInput struct {
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description,omitempty"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// CreateTask adds a todo task. An assignee must be one of the parties.
func (s *Service) CreateTask(ctx context.Context, conversationID, callerID string, in CreateTaskInput) (*TaskView, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	c, _, err := s.loadActiveParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if in.AssigneeID != nil && *in.AssigneeID == "" {
		in.AssigneeID = nil
	}
	if in.AssigneeID != nil && !IsParty(c, *in.AssigneeID) {
		return nil, errInvalidInput("assignee_id must be a party of the conversation")
	}

	now := s.now()
	t := &store.Task{
		ID:             uuid.New().String(),
		ConversationID: c.ID,
		Title:          in.Title,
		Description:    in.Description,
		Status:         store.TaskTodo,
		AssigneeID:     in.AssigneeID,
		DueAt:          in.DueAt,
		CreatedBy:      callerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, s.storeError(err, "conversation")
	}

	view := newTaskView(t)
	s.Record(ctx, c.ID, store.AuditTaskCreated, callerID, "task="+t.ID)
	s.notifier.Broadcast(ctx, Room(c.ID), EventTaskUpdated, view)
	return view, nil
}

// UpdateTaskStatus moves a task to a new status. Any status may follow any other.
func (s *Service) UpdateTaskStatus(ctx context.Context, conversationID, callerID, taskID string, status store.TaskStatus) (*TaskView, error) {
	if !status.Valid() {
		return nil, errInvalidInput("status must be one of: todo in_progress done")
	}
	c, _, err := s.loadActiveParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, c.ID, taskID)
	if err != nil {
		return nil, s.storeError(err, "task")
	}
	if t.Status == status {
		return newTaskView(t), nil
	}

	now := s.now()
	if err := s.store.UpdateTaskStatus(ctx, c.ID, t.ID, status, now); err != nil {
		return nil, s.storeError(err, "task")
	}
	previous := t.Status
	t.Status = status
	t.UpdatedAt = now

	view := newTaskView(t)
	s.Record(ctx, c.ID, store.AuditTaskUpdated, callerID,
		fmt.Sprintf("task=%s %s -> %s", t.ID, previous, status))
	s.notifier.Broadcast(ctx, Room(c.ID), EventTaskUpdated, view)
	return view, nil
}

// ListTasks returns the workspace tasks.
func (s *Service) ListTasks(ctx context.Context, conversationID, callerID string) ([]*TaskView, error) {
	c, _, err := s.loadParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListTasks(ctx, c.ID)
	if err != nil {
		return nil, s.storeError(err, "tasks")
	}
	views := make([]*TaskView, 0, len(list))
	for _, t := range list {
		views = append(views, newTaskView(t))
	}
	return views, nil
}

// StartScreenShare opens a screen-share session when screen sharing is allowed.
func (s *Service) StartScreenShare(ctx context.Context, conversationID, callerID string) (*ScreenShareView, error) {
	c, _, err := s.loadActiveParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if !c.Settings.AllowScreenShare {
		return nil, errInvalidState("screen sharing is disabled for this conversation")
	}

	sess := &store.ScreenShareSession{
		ID:             uuid.New().String(),
		ConversationID: c.ID,
		StartedBy:      callerID,
		StartedAt:      s.now(),
	}
	if err := s.store.StartScreenShare(ctx, sess); err != nil {
		return nil, s.storeError(err, "conversation")
	}

	view := newScreenShareView(sess)
	s.Record(ctx, c.ID, store.AuditScreenShareStarted, callerID, "session="+sess.ID)
	s.notifier.Broadcast(ctx, Room(c.ID), EventScreenShareChange, view)
	return view, nil
}

// EndScreenShare closes an open session. Either party may end it.
func (s *Service) EndScreenShare(ctx context.Context, conversationID, callerID, sessionID string) (*ScreenShareView, error) {
	c, _, err := s.loadActiveParty(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.EndScreenShare(ctx, c.ID, sessionID, now); err != nil {
		return nil, s.storeError(err, "screen share session")
	}

	var view *ScreenShareView
	sessions, err := s.store.ListScreenShares(ctx, c.ID)
	if err != nil {
		return nil, s.storeError(err, "screen share session")
	}
	for _, sess := range sessions {
		if sess.ID == sessionID {
			view = newScreenShareView(sess)
			break
		}
	}
	if view == nil {
		return nil, errNotFound("screen share session")
	}

	s.Record(ctx, c.ID, store.AuditScreenShareEnded, callerID, "session="+sessionID)
	s.notifier.Broadcast(ctx, Room(c.ID), EventScreenShareChange, view)
	return view, nil
}
