package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// backends returns every Store implementation that can run in this environment.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	b := map[string]func(t *testing.T) Store{
		"mock": func(t *testing.T) Store { return NewMockStore() },
		"sqlite": func(t *testing.T) Store {
			return setupTestStore(t)
		},
		"sqlite3": func(t *testing.T) Store {
			s, err := NewSQLiteStoreWithDriver(DriverCGO, filepath.Join(t.TempDir(), "cgo.db"))
			if err != nil {
				t.Skipf("mattn/go-sqlite3 unavailable: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv("WORKROOM_TEST_POSTGRES_URL"); url != "" {
		b["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(t.Context(), url)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

// forEachBackend runs fn as a subtest against every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

var idCounter struct {
	sync.Mutex
	n int
}

// uniqueID returns an ID that does not collide across subtests sharing a Postgres database.
func uniqueID(prefix string) string {
	idCounter.Lock()
	defer idCounter.Unlock()
	idCounter.n++
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idCounter.n)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func createTestConversation(t *testing.T, s Store) *Conversation {
	t.Helper()
	ts := now()
	c := &Conversation{
		ID:             uniqueID("conv"),
		JobID:          uniqueID("job"),
		ProposalID:     uniqueID("proposal"),
		ClientID:       "client-1",
		CounterpartyID: "freelancer-1",
		Status:         ConversationActive,
		Settings:       DefaultConversationSettings(),
		CreatedAt:      ts,
		UpdatedAt:      ts,
		LastActivityAt: ts,
	}
	require.NoError(t, s.CreateConversation(t.Context(), c))
	return c
}

func newTestMessage(c *Conversation, sender, recipient string, createdAt time.Time) *Message {
	return &Message{
		ID:             uniqueID("msg"),
		ConversationID: c.ID,
		SenderID:       sender,
		RecipientID:    recipient,
		Ciphertext:     "Y2lwaGVydGV4dA==",
		IntegrityHash:  "sha256:abc",
		MessageType:    "text",
		Status:         MessageSent,
		CreatedAt:      createdAt,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(t.Context()))
}

func TestNewSQLiteStoreWithDriver_RejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLiteStoreWithDriver("mysql", ":memory:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sqlite driver")
}

func TestSQLiteStore_FreshSchemaHasExpiresAt(t *testing.T) {
	s := setupTestStore(t)

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('messages') WHERE name = 'expires_at'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c := createTestConversation(t, s)
	msg := newTestMessage(c, c.ClientID, c.CounterpartyID, now())
	expires := now().Add(24 * time.Hour)
	msg.ExpiresAt = &expires
	require.NoError(t, s.AppendMessage(t.Context(), msg))

	got, err := s.GetMessage(t.Context(), c.ID, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	c := createTestConversation(t, s1)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetConversation(t.Context(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ProposalID, got.ProposalID)
}

func TestStore_Conversations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)

		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.JobID, got.JobID)
		assert.Equal(t, c.ClientID, got.ClientID)
		assert.Equal(t, c.CounterpartyID, got.CounterpartyID)
		assert.Equal(t, ConversationActive, got.Status)
		assert.Equal(t, DefaultConversationSettings(), got.Settings)
		assert.Nil(t, got.ClientPublicKey)
		assert.False(t, got.EncryptionReady())
		assert.True(t, c.CreatedAt.Equal(got.CreatedAt))

		byProposal, err := s.GetConversationByProposal(ctx, c.ProposalID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, byProposal.ID)

		_, err = s.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_CreateConversation_DuplicateProposal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		c := createTestConversation(t, s)

		dup := *c
		dup.ID = uniqueID("conv")
		err := s.CreateConversation(t.Context(), &dup)
		assert.ErrorIs(t, err, ErrDuplicateConversation)
	})
}

func TestStore_ListConversationsForParty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		party := uniqueID("party")
		base := now()

		mk := func(offset time.Duration, status ConversationStatus) *Conversation {
			ts := base.Add(offset)
			c := &Conversation{
				ID:             uniqueID("conv"),
				JobID:          "job",
				ProposalID:     uniqueID("proposal"),
				ClientID:       party,
				CounterpartyID: uniqueID("other"),
				Status:         status,
				Settings:       DefaultConversationSettings(),
				CreatedAt:      ts,
				UpdatedAt:      ts,
				LastActivityAt: ts,
			}
			require.NoError(t, s.CreateConversation(ctx, c))
			return c
		}

		older := mk(0, ConversationActive)
		newer := mk(time.Minute, ConversationArchived)
		mk(2*time.Minute, ConversationClosed)

		list, err := s.ListConversationsForParty(ctx, party)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)

		// New activity moves the older conversation to the front.
		msg := newTestMessage(older, party, older.CounterpartyID, base.Add(5*time.Minute))
		require.NoError(t, s.AppendMessage(ctx, msg))

		list, err = s.ListConversationsForParty(ctx, party)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, older.ID, list[0].ID)
	})
}

func TestStore_UpdateConversationStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)

		require.NoError(t, s.UpdateConversationStatus(ctx, c.ID, ConversationActive, ConversationArchived))
		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, ConversationArchived, got.Status)

		// A stale expected status matches nothing.
		err = s.UpdateConversationStatus(ctx, c.ID, ConversationActive, ConversationSuspended)
		assert.ErrorIs(t, err, ErrStatusConflict)

		require.NoError(t, s.UpdateConversationStatus(ctx, c.ID, ConversationArchived, ConversationClosed))

		// Closed is terminal even when the caller expects it.
		err = s.UpdateConversationStatus(ctx, c.ID, ConversationClosed, ConversationActive)
		assert.ErrorIs(t, err, ErrStatusConflict)
		got, err = s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, ConversationClosed, got.Status)

		err = s.UpdateConversationStatus(ctx, "missing", ConversationActive, ConversationArchived)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_SetPublicKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)

		prev, err := s.SetPublicKey(ctx, c.ID, RoleClient, "key-c", false)
		require.NoError(t, err)
		assert.Nil(t, prev)

		// Same key again is accepted and reports itself as the previous value.
		prev, err = s.SetPublicKey(ctx, c.ID, RoleClient, "key-c", false)
		require.NoError(t, err)
		require.NotNil(t, prev)
		assert.Equal(t, "key-c", *prev)

		// A different key without overwrite is a conflict.
		_, err = s.SetPublicKey(ctx, c.ID, RoleClient, "key-c2", false)
		assert.ErrorIs(t, err, ErrKeyConflict)

		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ClientPublicKey)
		assert.Equal(t, "key-c", *got.ClientPublicKey)
		assert.False(t, got.EncryptionReady())

		prev, err = s.SetPublicKey(ctx, c.ID, RoleCounterparty, "key-f", false)
		require.NoError(t, err)
		assert.Nil(t, prev)

		prev, err = s.SetPublicKey(ctx, c.ID, RoleClient, "key-c2", true)
		require.NoError(t, err)
		require.NotNil(t, prev)
		assert.Equal(t, "key-c", *prev)

		got, err = s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, got.EncryptionReady())
		assert.Equal(t, "key-c2", *got.PublicKey(RoleClient))
		assert.Equal(t, "key-f", *got.PublicKey(RoleCounterparty))

		_, err = s.SetPublicKey(ctx, "missing", RoleClient, "k", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_SetPublicKey_ConcurrentOverwritesReportEachReplacement(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)

		const n = 10
		var wg sync.WaitGroup
		prevs := make([]*string, n)
		errs := make([]error, n)
		for i := range n {
			wg.Go(func() {
				prevs[i], errs[i] = s.SetPublicKey(ctx, c.ID, RoleClient, fmt.Sprintf("key-%d", i), true)
			})
		}
		wg.Wait()

		// Every write replaced a distinct value, so exactly one saw an empty slot.
		empty := 0
		replaced := make(map[string]bool)
		for i := range n {
			require.NoError(t, errs[i])
			if prevs[i] == nil {
				empty++
				continue
			}
			assert.False(t, replaced[*prevs[i]], "key %s replaced twice", *prevs[i])
			replaced[*prevs[i]] = true
		}
		assert.Equal(t, 1, empty)
		assert.Len(t, replaced, n-1)
	})
}

func TestStore_Messages_AppendAndList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)
		base := now()

		var ids []string
		for i := range 5 {
			msg := newTestMessage(c, c.ClientID, c.CounterpartyID, base.Add(time.Duration(i)*time.Second))
			if i == 0 {
				sig := "sig"
				msg.Signature = &sig
				msg.Attachments = []Attachment{{Name: "contract.pdf", URL: "https://files/contract.pdf", Size: 42}}
			}
			require.NoError(t, s.AppendMessage(ctx, msg))
			ids = append(ids, msg.ID)
		}

		all, err := s.ListMessages(ctx, MessageQuery{ConversationID: c.ID, Limit: 50})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, ids[4], all[0].ID, "newest first")
		assert.Equal(t, ids[0], all[4].ID)
		require.NotNil(t, all[4].Signature)
		assert.Equal(t, "sig", *all[4].Signature)
		assert.Nil(t, all[0].Signature)
		require.Len(t, all[4].Attachments, 1)
		assert.Equal(t, "contract.pdf", all[4].Attachments[0].Name)

		limited, err := s.ListMessages(ctx, MessageQuery{ConversationID: c.ID, Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, ids[4], limited[0].ID)

		before := base.Add(2 * time.Second)
		page, err := s.ListMessages(ctx, MessageQuery{ConversationID: c.ID, Limit: 50, Before: &before})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[1], page[0].ID)
		assert.Equal(t, ids[0], page[1].ID)

		got, err := s.GetMessage(ctx, c.ID, ids[2])
		require.NoError(t, err)
		assert.Equal(t, MessageSent, got.Status)
		assert.Equal(t, c.ClientID, got.SenderID)

		_, err = s.GetMessage(ctx, c.ID, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Messages_IdempotencyKeyUnique(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)
		key := "retry-1"

		first := newTestMessage(c, c.ClientID, c.CounterpartyID, now())
		first.IdempotencyKey = &key
		require.NoError(t, s.AppendMessage(ctx, first))

		second := newTestMessage(c, c.ClientID, c.CounterpartyID, now())
		second.IdempotencyKey = &key
		assert.ErrorIs(t, s.AppendMessage(ctx, second), ErrDuplicateMessage)

		// The other party may use the same key.
		other := newTestMessage(c, c.CounterpartyID, c.ClientID, now())
		other.IdempotencyKey = &key
		require.NoError(t, s.AppendMessage(ctx, other))

		found, err := s.GetMessageByIdempotencyKey(ctx, c.ID, c.ClientID, key)
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)

		_, err = s.GetMessageByIdempotencyKey(ctx, c.ID, c.ClientID, "unknown")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Messages_ForwardOnlyStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)
		msg := newTestMessage(c, c.ClientID, c.CounterpartyID, now())
		require.NoError(t, s.AppendMessage(ctx, msg))

		changed, err := s.MarkMessageDelivered(ctx, c.ID, msg.ID, now())
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.MarkMessageDelivered(ctx, c.ID, msg.ID, now())
		require.NoError(t, err)
		assert.False(t, changed, "second delivery is a no-op")

		read, err := s.MarkMessagesRead(ctx, c.ID, c.CounterpartyID, []string{msg.ID}, now())
		require.NoError(t, err)
		assert.Equal(t, []string{msg.ID}, read)

		changed, err = s.MarkMessageDelivered(ctx, c.ID, msg.ID, now())
		require.NoError(t, err)
		assert.False(t, changed, "delivered after read must not regress")

		got, err := s.GetMessage(ctx, c.ID, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, MessageRead, got.Status)
		require.NotNil(t, got.DeliveredAt)
		require.NotNil(t, got.ReadAt)

		readAgain, err := s.MarkMessagesRead(ctx, c.ID, c.CounterpartyID, []string{msg.ID}, now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, readAgain)

		again, err := s.GetMessage(ctx, c.ID, msg.ID)
		require.NoError(t, err)
		assert.True(t, got.ReadAt.Equal(*again.ReadAt), "read_at is set once")
	})
}

func TestStore_MarkMessagesRead_OnlyRecipient(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)

		toF := newTestMessage(c, c.ClientID, c.CounterpartyID, now())
		toC := newTestMessage(c, c.CounterpartyID, c.ClientID, now())
		require.NoError(t, s.AppendMessage(ctx, toF))
		require.NoError(t, s.AppendMessage(ctx, toC))

		changed, err := s.MarkMessagesRead(ctx, c.ID, c.CounterpartyID, []string{toF.ID, toC.ID, "missing"}, now())
		require.NoError(t, err)
		assert.Equal(t, []string{toF.ID}, changed)

		unread, err := s.CountUnread(ctx, c.ID, c.ClientID)
		require.NoError(t, err)
		assert.Equal(t, 1, unread)

		empty, err := s.MarkMessagesRead(ctx, c.ID, c.CounterpartyID, nil, now())
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStore_SoftDeleteMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)
		msg := newTestMessage(c, c.ClientID, c.CounterpartyID, now())
		require.NoError(t, s.AppendMessage(ctx, msg))

		require.NoError(t, s.SoftDeleteMessage(ctx, c.ID, msg.ID, now()))

		visible, err := s.ListMessages(ctx, MessageQuery{ConversationID: c.ID, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, visible)

		all, err := s.ListMessages(ctx, MessageQuery{ConversationID: c.ID, Limit: 10, IncludeDeleted: true})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.True(t, all[0].Deleted)
		assert.NotNil(t, all[0].DeletedAt)
		assert.Equal(t, msg.Ciphertext, all[0].Ciphertext, "envelope is kept")

		unread, err := s.CountUnread(ctx, c.ID, c.CounterpartyID)
		require.NoError(t, err)
		assert.Equal(t, 0, unread)

		assert.ErrorIs(t, s.SoftDeleteMessage(ctx, c.ID, "missing", now()), ErrNotFound)
	})
}

func TestStore_ConcurrentAppend(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)
		const n = 25

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			sender, recipient := c.ClientID, c.CounterpartyID
			if i%2 == 1 {
				sender, recipient = recipient, sender
			}
			wg.Go(func() {
				errs <- s.AppendMessage(ctx, newTestMessage(c, sender, recipient, now()))
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		all, err := s.ListMessages(ctx, MessageQuery{ConversationID: c.ID, Limit: 100})
		require.NoError(t, err)
		require.Len(t, all, n)

		seen := make(map[string]bool)
		for _, m := range all {
			seen[m.ID] = true
		}
		assert.Len(t, seen, n)
	})
}

func TestStore_AuditLogIsAppendOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)

		actions := []AuditAction{AuditConversationCreated, AuditKeyExchanged, AuditMeetingScheduled}
		for _, action := range actions {
			require.NoError(t, s.AppendAuditEntry(ctx, &AuditEntry{
				ConversationID:   c.ID,
				Action:           action,
				ActorID:          c.ClientID,
				Detail:           string(action),
				Origin:           "203.0.113.7",
				ClientDescriptor: "test-agent/1.0",
			}))
		}

		entries, err := s.ListAuditEntries(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, e := range entries {
			assert.Equal(t, actions[i], e.Action)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
			assert.Equal(t, "203.0.113.7", e.Origin)
			assert.Equal(t, "test-agent/1.0", e.ClientDescriptor)
		}

		empty, err := s.ListAuditEntries(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStore_Workspace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		c := createTestConversation(t, s)
		ts := now()

		late := &Meeting{ID: uniqueID("m"), ConversationID: c.ID, Title: "Review", ScheduledAt: ts.Add(48 * time.Hour), CreatedBy: c.ClientID, CreatedAt: ts}
		early := &Meeting{ID: uniqueID("m"), ConversationID: c.ID, Title: "Kickoff", ScheduledAt: ts.Add(time.Hour), DurationMinutes: 30, CreatedBy: c.ClientID, CreatedAt: ts}
		require.NoError(t, s.CreateMeeting(ctx, late))
		require.NoError(t, s.CreateMeeting(ctx, early))

		meetings, err := s.ListMeetings(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, meetings, 2)
		assert.Equal(t, "Kickoff", meetings[0].Title)
		assert.Equal(t, 30, meetings[0].DurationMinutes)

		doc := &SharedDocument{ID: uniqueID("d"), ConversationID: c.ID, Name: "brief.pdf", URL: "https://files/brief.pdf", Size: 1024, UploadedBy: c.CounterpartyID, CreatedAt: ts}
		require.NoError(t, s.CreateDocument(ctx, doc))
		docs, err := s.ListDocuments(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, int64(1024), docs[0].Size)

		assignee := c.CounterpartyID
		task := &Task{ID: uniqueID("t"), ConversationID: c.ID, Title: "Draft", Status: TaskTodo, AssigneeID: &assignee, CreatedBy: c.ClientID, CreatedAt: ts, UpdatedAt: ts}
		require.NoError(t, s.CreateTask(ctx, task))
		require.NoError(t, s.UpdateTaskStatus(ctx, c.ID, task.ID, TaskInProgress, ts.Add(time.Minute)))

		gotTask, err := s.GetTask(ctx, c.ID, task.ID)
		require.NoError(t, err)
		assert.Equal(t, TaskInProgress, gotTask.Status)
		require.NotNil(t, gotTask.AssigneeID)
		assert.Equal(t, assignee, *gotTask.AssigneeID)
		assert.Nil(t, gotTask.DueAt)

		tasks, err := s.ListTasks(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)

		_, err = s.GetTask(ctx, c.ID, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateTaskStatus(ctx, c.ID, "missing", TaskDone, ts), ErrNotFound)

		share := &ScreenShareSession{ID: uniqueID("s"), ConversationID: c.ID, StartedBy: c.ClientID, StartedAt: ts}
		require.NoError(t, s.StartScreenShare(ctx, share))
		require.NoError(t, s.EndScreenShare(ctx, c.ID, share.ID, ts.Add(time.Minute)))
		assert.ErrorIs(t, s.EndScreenShare(ctx, c.ID, share.ID, ts.Add(2*time.Minute)), ErrNotFound, "already ended")

		shares, err := s.ListScreenShares(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, shares, 1)
		require.NotNil(t, shares[0].EndedAt)
	})
}

func TestStore_Principals(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		p := &Principal{
			ID:          uniqueID("principal"),
			DisplayName: "Marketplace backend",
			Kind:        PrincipalService,
			Status:      PrincipalActive,
			CreatedAt:   now(),
		}
		require.NoError(t, s.CreatePrincipal(ctx, p))
		assert.ErrorIs(t, s.CreatePrincipal(ctx, p), ErrDuplicatePrincipal)

		got, err := s.GetPrincipal(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, PrincipalService, got.Kind)
		assert.Equal(t, PrincipalActive, got.Status)

		_, err = s.GetPrincipal(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessageStatus_Rank(t *testing.T) {
	assert.Less(t, MessageSent.Rank(), MessageDelivered.Rank())
	assert.Less(t, MessageDelivered.Rank(), MessageRead.Rank())
	assert.Equal(t, 0, MessageStatus("bogus").Rank())
}

func TestConversationStatus_Valid(t *testing.T) {
	for _, s := range []ConversationStatus{ConversationActive, ConversationArchived, ConversationSuspended, ConversationClosed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, ConversationStatus("deleted").Valid())
	assert.False(t, TaskStatus("blocked").Valid())
}
