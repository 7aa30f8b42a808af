// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while honouring the same conditional-update rules

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	byProposal    map[string]string        // proposal ID -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, append order
	messageIndex  map[string]*Message      // keyed by message ID
	audit         map[string][]*AuditEntry // keyed by conversation ID
	meetings      map[string][]*Meeting
	documents     map[string][]*SharedDocument
	tasks         map[string][]*Task
	screenShares  map[string][]*ScreenShareSession
	principals    map[string]*Principal
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		byProposal:    make(map[string]string),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
		audit:         make(map[string][]*AuditEntry),
		meetings:      make(map[string][]*Meeting),
		documents:     make(map[string][]*SharedDocument),
		tasks:         make(map[string][]*Task),
		screenShares:  make(map[string][]*ScreenShareSession),
		principals:    make(map[string]*Principal),
	}
}

func copyMessage(msg *Message) *Message {
	c := *msg
	c.Attachments = slices.Clone(msg.Attachments)
	return &c
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byProposal[c.ProposalID]; exists {
		return ErrDuplicateConversation
	}
	if _, exists := m.conversations[c.ID]; exists {
		return ErrDuplicateConversation
	}

	// Make a copy to avoid external modification
	stored := *c
	m.conversations[c.ID] = &stored
	m.byProposal[c.ProposalID] = c.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetConversationByProposal retrieves the conversation created for a proposal.
func (m *MockStore) GetConversationByProposal(ctx context.Context, proposalID string) (*Conversation, error) {
	m.mu.RLock()
	id, ok := m.byProposal[proposalID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetConversation(ctx, id)
}

// ListConversationsForParty returns non-closed conversations for a principal.
func (m *MockStore) ListConversationsForParty(ctx context.Context, principalID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Conversation{}
	for _, c := range m.conversations {
		if c.Status == ConversationClosed {
			continue
		}
		if c.ClientID != principalID && c.CounterpartyID != principalID {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastActivityAt.Equal(result[j].LastActivityAt) {
			return result[i].LastActivityAt.After(result[j].LastActivityAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// UpdateConversationStatus moves a conversation from one status to another.
func (m *MockStore) UpdateConversationStatus(ctx context.Context, id string, from, to ConversationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != from || c.Status == ConversationClosed {
		return ErrStatusConflict
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// SetPublicKey fills the key slot for role and returns the key it replaced.
func (m *MockStore) SetPublicKey(ctx context.Context, conversationID string, role Role, key string, overwrite bool) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	slot := &c.ClientPublicKey
	if role == RoleCounterparty {
		slot = &c.CounterpartyPublicKey
	}
	var previous *string
	if *slot != nil {
		p := **slot
		previous = &p
		if p == key {
			return previous, nil
		}
		if !overwrite {
			return nil, ErrKeyConflict
		}
	}

	k := key
	*slot = &k
	c.UpdatedAt = time.Now().UTC()
	return previous, nil
}

// AppendMessage appends a message to its conversation's log.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := m.messageIndex[msg.ID]; exists {
		return ErrDuplicateMessage
	}
	if msg.IdempotencyKey != nil {
		for _, existing := range m.messages[msg.ConversationID] {
			if existing.SenderID == msg.SenderID && existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *msg.IdempotencyKey {
				return ErrDuplicateMessage
			}
		}
	}

	stored := copyMessage(msg)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], stored)
	m.messageIndex[msg.ID] = stored

	if msg.CreatedAt.After(c.LastActivityAt) {
		c.LastActivityAt = msg.CreatedAt
	}
	return nil
}

func (m *MockStore) lookupMessage(conversationID, messageID string) (*Message, bool) {
	msg, ok := m.messageIndex[messageID]
	if !ok || msg.ConversationID != conversationID {
		return nil, false
	}
	return msg, true
}

// GetMessage retrieves one message of a conversation.
func (m *MockStore) GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.lookupMessage(conversationID, messageID)
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// GetMessageByIdempotencyKey finds the message a sender submitted with key.
func (m *MockStore) GetMessageByIdempotencyKey(ctx context.Context, conversationID, senderID, key string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages[conversationID] {
		if msg.SenderID == senderID && msg.IdempotencyKey != nil && *msg.IdempotencyKey == key {
			return copyMessage(msg), nil
		}
	}
	return nil, ErrNotFound
}

// ListMessages returns messages newest first.
func (m *MockStore) ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[q.ConversationID]
	result := []*Message{}
	// Walk the log backwards so equal timestamps keep reverse append order.
	for i := len(log) - 1; i >= 0; i-- {
		msg := log[i]
		if msg.Deleted && !q.IncludeDeleted {
			continue
		}
		if q.Before != nil && !msg.CreatedAt.Before(*q.Before) {
			continue
		}
		result = append(result, copyMessage(msg))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// MarkMessageDelivered moves a message from sent to delivered.
func (m *MockStore) MarkMessageDelivered(ctx context.Context, conversationID, messageID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.lookupMessage(conversationID, messageID)
	if !ok || msg.Status != MessageSent {
		return false, nil
	}
	t := at
	msg.Status = MessageDelivered
	msg.DeliveredAt = &t
	return true, nil
}

// MarkMessagesRead moves the listed messages addressed to recipientID to read.
func (m *MockStore) MarkMessagesRead(ctx context.Context, conversationID, recipientID string, messageIDs []string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := []string{}
	for _, id := range messageIDs {
		msg, ok := m.lookupMessage(conversationID, id)
		if !ok || msg.RecipientID != recipientID || msg.Status == MessageRead {
			continue
		}
		t := at
		msg.Status = MessageRead
		msg.ReadAt = &t
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &t
		}
		changed = append(changed, id)
	}
	return changed, nil
}

// SoftDeleteMessage hides a message without removing it.
func (m *MockStore) SoftDeleteMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.lookupMessage(conversationID, messageID)
	if !ok {
		return ErrNotFound
	}
	msg.Deleted = true
	if msg.DeletedAt == nil {
		t := at
		msg.DeletedAt = &t
	}
	return nil
}

// CountUnread counts visible unread messages addressed to recipientID.
func (m *MockStore) CountUnread(ctx context.Context, conversationID, recipientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, msg := range m.messages[conversationID] {
		if msg.RecipientID == recipientID && msg.Status != MessageRead && !msg.Deleted {
			n++
		}
	}
	return n, nil
}

// AppendAuditEntry appends an entry to a conversation's audit log.
func (m *MockStore) AppendAuditEntry(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[e.ConversationID]; !ok {
		return ErrNotFound
	}
	prepareAuditEntry(e)
	stored := *e
	m.audit[e.ConversationID] = append(m.audit[e.ConversationID], &stored)
	return nil
}

// ListAuditEntries returns the audit log oldest first.
func (m *MockStore) ListAuditEntries(ctx context.Context, conversationID string) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*AuditEntry, 0, len(m.audit[conversationID]))
	for _, e := range m.audit[conversationID] {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// CreateMeeting stores a meeting.
func (m *MockStore) CreateMeeting(ctx context.Context, meeting *Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *meeting
	m.meetings[meeting.ConversationID] = append(m.meetings[meeting.ConversationID], &stored)
	return nil
}

// ListMeetings returns meetings ordered by scheduled time.
func (m *MockStore) ListMeetings(ctx context.Context, conversationID string) ([]*Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Meeting, 0, len(m.meetings[conversationID]))
	for _, meeting := range m.meetings[conversationID] {
		cp := *meeting
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	return result, nil
}

// CreateDocument stores a shared document.
func (m *MockStore) CreateDocument(ctx context.Context, d *SharedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *d
	m.documents[d.ConversationID] = append(m.documents[d.ConversationID], &stored)
	return nil
}

// ListDocuments returns documents oldest first.
func (m *MockStore) ListDocuments(ctx context.Context, conversationID string) ([]*SharedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*SharedDocument, 0, len(m.documents[conversationID]))
	for _, d := range m.documents[conversationID] {
		cp := *d
		result = append(result, &cp)
	}
	return result, nil
}

// CreateTask stores a task.
func (m *MockStore) CreateTask(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *t
	m.tasks[t.ConversationID] = append(m.tasks[t.ConversationID], &stored)
	return nil
}

// GetTask retrieves one task.
func (m *MockStore) GetTask(ctx context.Context, conversationID, taskID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tasks[conversationID] {
		if t.ID == taskID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateTaskStatus sets a task's status.
func (m *MockStore) UpdateTaskStatus(ctx context.Context, conversationID, taskID string, status TaskStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks[conversationID] {
		if t.ID == taskID {
			t.Status = status
			t.UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

// ListTasks returns tasks oldest first.
func (m *MockStore) ListTasks(ctx context.Context, conversationID string) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Task, 0, len(m.tasks[conversationID]))
	for _, t := range m.tasks[conversationID] {
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

// StartScreenShare stores a screen-share session.
func (m *MockStore) StartScreenShare(ctx context.Context, s *ScreenShareSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *s
	m.screenShares[s.ConversationID] = append(m.screenShares[s.ConversationID], &stored)
	return nil
}

// EndScreenShare stamps the end time of a running session.
func (m *MockStore) EndScreenShare(ctx context.Context, conversationID, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.screenShares[conversationID] {
		if s.ID == sessionID && s.EndedAt == nil {
			t := at
			s.EndedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

// ListScreenShares returns sessions oldest first.
func (m *MockStore) ListScreenShares(ctx context.Context, conversationID string) ([]*ScreenShareSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ScreenShareSession, 0, len(m.screenShares[conversationID]))
	for _, s := range m.screenShares[conversationID] {
		cp := *s
		result = append(result, &cp)
	}
	return result, nil
}

// CreatePrincipal stores a principal.
func (m *MockStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.principals[p.ID]; exists {
		return ErrDuplicatePrincipal
	}
	stored := *p
	m.principals[p.ID] = &stored
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (m *MockStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
