package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"taskroom/api/internal/store"
)

type fakeMessages struct {
	InsertMessageFn        func(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error)
	GetMessageFn           func(ctx context.Context, id int64) (store.ChatMessage, error)
	UpdateMessageContentFn func(ctx context.Context, id int64, content string) (store.ChatMessage, error)
	SoftDeleteMessageFn    func(ctx context.Context, id int64) error

	mu      sync.Mutex
	inserts []store.ChatMessage
}

func (f *fakeMessages) InsertMessage(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error) {
	f.mu.Lock()
	f.inserts = append(f.inserts, m)
	f.mu.Unlock()
	if f.InsertMessageFn != nil {
		return f.InsertMessageFn(ctx, m)
	}
	m.ID = int64(len(f.inserts))
	m.Status = store.MessageStatusSent
	m.CreatedAt = time.Now().UTC()
	return m, nil
}

func (f *fakeMessages) GetMessage(ctx context.Context, id int64) (store.ChatMessage, error) {
	if f.GetMessageFn != nil {
		return f.GetMessageFn(ctx, id)
	}
	return store.ChatMessage{}, sql.ErrNoRows
}

func (f *fakeMessages) UpdateMessageContent(ctx context.Context, id int64, content string) (store.ChatMessage, error) {
	if f.UpdateMessageContentFn != nil {
		return f.UpdateMessageContentFn(ctx, id, content)
	}
	return store.ChatMessage{ID: id, Content: content}, nil
}

func (f *fakeMessages) SoftDeleteMessage(ctx context.Context, id int64) error {
	if f.SoftDeleteMessageFn != nil {
		return f.SoftDeleteMessageFn(ctx, id)
	}
	return nil
}

func (f *fakeMessages) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

type fakeMembers struct {
	IsApprovedMemberFn func(ctx context.Context, projectID, userID string) (bool, error)
}

func (f *fakeMembers) IsApprovedMember(ctx context.Context, projectID, userID string) (bool, error) {
	if f.IsApprovedMemberFn != nil {
		return f.IsApprovedMemberFn(ctx, projectID, userID)
	}
	return true, nil
}

type broadcastCall struct {
	projectID string
	event     any
	excludeID string
}

type recordingRooms struct {
	mu     sync.Mutex
	joins  []string
	events []broadcastCall
}

func (r *recordingRooms) JoinRoom(c *Client, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, projectID)
}

func (r *recordingRooms) Broadcast(projectID string, event any, excludeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, broadcastCall{projectID: projectID, event: event, excludeID: excludeID})
}

func (r *recordingRooms) calls() []broadcastCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcastCall, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingRooms) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newTestService(msgs *fakeMessages, members *fakeMembers) (*Service, *recordingRooms) {
	rooms := &recordingRooms{}
	return NewService(rooms, msgs, members, Config{TypingTTL: time.Hour}), rooms
}

func newTestClient() *Client {
	return NewClient("conn_1", NewHub(), nil)
}

// recvError pops the next unicast frame off the client and decodes it
// as an error event.
func recvError(t *testing.T, c *Client) ErrorEvent {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode error event: %v", err)
		}
		if ev.Type != EventError {
			t.Fatalf("expected error event, got %q", ev.Type)
		}
		return ev
	default:
		t.Fatal("expected a unicast error event, got none")
		return ErrorEvent{}
	}
}

func requireNoUnicast(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected unicast frame: %s", data)
	default:
	}
}

func join(t *testing.T, s *Service, c *Client) {
	t.Helper()
	s.HandleJoin(context.Background(), c, JoinPayload{
		ProjectID: "proj_1", UserID: "user_a", UserName: "Alice",
	})
	if !c.InRoom() {
		t.Fatal("join should have been accepted")
	}
	requireNoUnicast(t, c)
}

func TestJoinRejectsNonMember(t *testing.T) {
	s, rooms := newTestService(&fakeMessages{}, &fakeMembers{
		IsApprovedMemberFn: func(ctx context.Context, projectID, userID string) (bool, error) {
			return false, nil
		},
	})
	c := newTestClient()

	s.HandleJoin(context.Background(), c, JoinPayload{ProjectID: "proj_1", UserID: "user_x", UserName: "Mallory"})

	if c.InRoom() {
		t.Fatal("non-member must not enter the room")
	}
	if len(rooms.joins) != 0 {
		t.Fatal("hub must not see a room join for a rejected user")
	}
	if ev := recvError(t, c); ev.Code != ErrCodeForbidden {
		t.Fatalf("expected %s, got %s", ErrCodeForbidden, ev.Code)
	}
}

func TestJoinRejectsMissingFields(t *testing.T) {
	s, _ := newTestService(&fakeMessages{}, &fakeMembers{})
	c := newTestClient()

	s.HandleJoin(context.Background(), c, JoinPayload{ProjectID: "proj_1"})

	if ev := recvError(t, c); ev.Code != ErrCodeValidation {
		t.Fatalf("expected %s, got %s", ErrCodeValidation, ev.Code)
	}
}

func TestJoinAnnouncesToPeersOnly(t *testing.T) {
	s, rooms := newTestService(&fakeMessages{}, &fakeMembers{})
	c := newTestClient()

	join(t, s, c)

	calls := rooms.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(calls))
	}
	ev, ok := calls[0].event.(PresenceEvent)
	if !ok || ev.Type != EventUserJoined {
		t.Fatalf("expected user-joined, got %#v", calls[0].event)
	}
	if calls[0].excludeID != c.ID {
		t.Fatal("the joiner must not receive its own join announcement")
	}
}

func TestSendRequiresRoom(t *testing.T) {
	msgs := &fakeMessages{}
	s, _ := newTestService(msgs, &fakeMembers{})
	c := newTestClient()

	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "hello"})

	if ev := recvError(t, c); ev.Code != ErrCodeNotInRoom {
		t.Fatalf("expected %s, got %s", ErrCodeNotInRoom, ev.Code)
	}
	if msgs.insertCount() != 0 {
		t.Fatal("nothing should be persisted before a join")
	}
}

func TestSendRejectsWhitespaceContent(t *testing.T) {
	msgs := &fakeMessages{}
	s, _ := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)

	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "   \n\t "})

	if ev := recvError(t, c); ev.Code != ErrCodeValidation {
		t.Fatalf("expected %s, got %s", ErrCodeValidation, ev.Code)
	}
	if msgs.insertCount() != 0 {
		t.Fatal("whitespace-only message must not be persisted")
	}
}

func TestSendBroadcastsToWholeRoomIncludingSender(t *testing.T) {
	msgs := &fakeMessages{}
	s, rooms := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	rooms.reset()

	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "  ship it  "})

	requireNoUnicast(t, c)
	if msgs.insertCount() != 1 {
		t.Fatalf("expected one insert, got %d", msgs.insertCount())
	}
	if got := msgs.inserts[0].Content; got != "ship it" {
		t.Fatalf("content should be trimmed, got %q", got)
	}

	calls := rooms.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(calls))
	}
	ev, ok := calls[0].event.(MessageEvent)
	if !ok || ev.Type != EventNewMessage {
		t.Fatalf("expected new-message, got %#v", calls[0].event)
	}
	if calls[0].excludeID != "" {
		t.Fatal("the sender must receive its own new-message broadcast")
	}
}

func TestSendThrottlesSixthMessage(t *testing.T) {
	msgs := &fakeMessages{}
	s, _ := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)

	for i := 0; i < 5; i++ {
		s.HandleSend(context.Background(), c, SendPayload{MessageContent: "m"})
		requireNoUnicast(t, c)
	}
	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "m"})

	if ev := recvError(t, c); ev.Code != ErrCodeRateLimited {
		t.Fatalf("expected %s, got %s", ErrCodeRateLimited, ev.Code)
	}
	if msgs.insertCount() != 5 {
		t.Fatalf("throttled message must not be persisted, got %d inserts", msgs.insertCount())
	}
}

func TestSendRechecksMembership(t *testing.T) {
	msgs := &fakeMessages{}
	approved := true
	s, _ := newTestService(msgs, &fakeMembers{
		IsApprovedMemberFn: func(ctx context.Context, projectID, userID string) (bool, error) {
			return approved, nil
		},
	})
	c := newTestClient()
	join(t, s, c)

	// Membership revoked after the join.
	approved = false
	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "hello"})

	if ev := recvError(t, c); ev.Code != ErrCodeForbidden {
		t.Fatalf("expected %s, got %s", ErrCodeForbidden, ev.Code)
	}
	if msgs.insertCount() != 0 {
		t.Fatal("revoked member's message must not be persisted")
	}
}

func TestSendSnapshotsReplyTarget(t *testing.T) {
	target := store.ChatMessage{
		ID: 42, ProjectID: "proj_1", SenderID: "user_b",
		SenderName: "Bob", Content: "original words",
	}
	msgs := &fakeMessages{
		GetMessageFn: func(ctx context.Context, id int64) (store.ChatMessage, error) {
			if id == target.ID {
				return target, nil
			}
			return store.ChatMessage{}, sql.ErrNoRows
		},
	}
	s, _ := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)

	replyTo := int64(42)
	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "agreed", ReplyToMessageID: &replyTo})

	requireNoUnicast(t, c)
	got := msgs.inserts[0]
	if got.ReplyToMessageID == nil || *got.ReplyToMessageID != 42 {
		t.Fatal("reply target id should be snapshotted")
	}
	if got.ReplyToUserName == nil || *got.ReplyToUserName != "Bob" {
		t.Fatal("reply target sender name should be snapshotted")
	}
	if got.ReplyToContent == nil || *got.ReplyToContent != "original words" {
		t.Fatal("reply target content should be snapshotted")
	}
}

func TestSendToleratesMissingReplyTarget(t *testing.T) {
	msgs := &fakeMessages{}
	s, rooms := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	rooms.reset()

	replyTo := int64(9999)
	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "still goes out", ReplyToMessageID: &replyTo})

	requireNoUnicast(t, c)
	if msgs.insertCount() != 1 {
		t.Fatal("message should be persisted without the snapshot")
	}
	if msgs.inserts[0].ReplyToMessageID != nil {
		t.Fatal("missing target must not leave a dangling reference")
	}
	if len(rooms.calls()) != 1 {
		t.Fatal("message should still be broadcast")
	}
}

func TestSendPersistFailureStaysUnicast(t *testing.T) {
	msgs := &fakeMessages{
		InsertMessageFn: func(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error) {
			return store.ChatMessage{}, sql.ErrConnDone
		},
	}
	s, rooms := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	rooms.reset()

	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "hello"})

	if ev := recvError(t, c); ev.Code != ErrCodePersistence {
		t.Fatalf("expected %s, got %s", ErrCodePersistence, ev.Code)
	}
	if len(rooms.calls()) != 0 {
		t.Fatal("a failed send must not reach the room")
	}
}

func TestSendClearsTypingState(t *testing.T) {
	msgs := &fakeMessages{}
	s, rooms := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	s.HandleTyping(context.Background(), c, TypingPayload{})
	rooms.reset()

	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "done typing"})

	calls := rooms.calls()
	if len(calls) != 2 {
		t.Fatalf("expected new-message plus stopped-typing, got %d broadcasts", len(calls))
	}
	stop, ok := calls[1].event.(TypingEvent)
	if !ok || stop.Type != EventUserStoppedTyping {
		t.Fatalf("expected user-stopped-typing, got %#v", calls[1].event)
	}
	if s.typing.Active("proj_1", "user_a") {
		t.Fatal("typing entry should be gone after a send")
	}
}

func TestTypingBroadcastsOnlyOnTransition(t *testing.T) {
	s, rooms := newTestService(&fakeMessages{}, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	rooms.reset()

	s.HandleTyping(context.Background(), c, TypingPayload{})
	s.HandleTyping(context.Background(), c, TypingPayload{})
	s.HandleTyping(context.Background(), c, TypingPayload{})

	calls := rooms.calls()
	if len(calls) != 1 {
		t.Fatalf("repeat typing must not re-broadcast, got %d events", len(calls))
	}
	ev, ok := calls[0].event.(TypingEvent)
	if !ok || ev.Type != EventUserTyping {
		t.Fatalf("expected user-typing, got %#v", calls[0].event)
	}
	if ev.UserName != "Alice" {
		t.Fatalf("typing start should carry the user name, got %q", ev.UserName)
	}
	if calls[0].excludeID != c.ID {
		t.Fatal("the typist must not receive its own typing event")
	}
}

func TestStopTypingIsIdempotent(t *testing.T) {
	s, rooms := newTestService(&fakeMessages{}, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	s.HandleTyping(context.Background(), c, TypingPayload{})
	rooms.reset()

	s.HandleStopTyping(context.Background(), c, StopTypingPayload{})
	s.HandleStopTyping(context.Background(), c, StopTypingPayload{})

	if got := len(rooms.calls()); got != 1 {
		t.Fatalf("only the first stop should broadcast, got %d events", got)
	}
}

func TestEditRejectsNonOwner(t *testing.T) {
	msgs := &fakeMessages{
		GetMessageFn: func(ctx context.Context, id int64) (store.ChatMessage, error) {
			return store.ChatMessage{ID: id, ProjectID: "proj_1", SenderID: "user_b", Content: "theirs"}, nil
		},
	}
	s, rooms := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	rooms.reset()

	s.HandleEdit(context.Background(), c, EditPayload{MessageID: 7, MessageContent: "mine now"})

	if ev := recvError(t, c); ev.Code != ErrCodeForbidden {
		t.Fatalf("expected %s, got %s", ErrCodeForbidden, ev.Code)
	}
	if len(rooms.calls()) != 0 {
		t.Fatal("a rejected edit must not reach the room")
	}
}

func TestEditUnknownMessage(t *testing.T) {
	s, _ := newTestService(&fakeMessages{}, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)

	s.HandleEdit(context.Background(), c, EditPayload{MessageID: 404, MessageContent: "x"})

	if ev := recvError(t, c); ev.Code != ErrCodeNotFound {
		t.Fatalf("expected %s, got %s", ErrCodeNotFound, ev.Code)
	}
}

func TestEditMessageFromAnotherProjectLooksAbsent(t *testing.T) {
	msgs := &fakeMessages{
		GetMessageFn: func(ctx context.Context, id int64) (store.ChatMessage, error) {
			return store.ChatMessage{ID: id, ProjectID: "proj_other", SenderID: "user_a"}, nil
		},
	}
	s, _ := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)

	s.HandleEdit(context.Background(), c, EditPayload{MessageID: 7, MessageContent: "x"})

	if ev := recvError(t, c); ev.Code != ErrCodeNotFound {
		t.Fatalf("expected %s, got %s", ErrCodeNotFound, ev.Code)
	}
}

func TestEditBroadcastsUpdatedRow(t *testing.T) {
	edited := time.Now().UTC()
	msgs := &fakeMessages{
		GetMessageFn: func(ctx context.Context, id int64) (store.ChatMessage, error) {
			return store.ChatMessage{ID: id, ProjectID: "proj_1", SenderID: "user_a", Content: "old"}, nil
		},
		UpdateMessageContentFn: func(ctx context.Context, id int64, content string) (store.ChatMessage, error) {
			return store.ChatMessage{ID: id, ProjectID: "proj_1", SenderID: "user_a", Content: content, EditedAt: &edited}, nil
		},
	}
	s, rooms := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	rooms.reset()

	s.HandleEdit(context.Background(), c, EditPayload{MessageID: 7, MessageContent: " new words "})

	requireNoUnicast(t, c)
	calls := rooms.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(calls))
	}
	ev, ok := calls[0].event.(MessageEvent)
	if !ok || ev.Type != EventMessageEdited {
		t.Fatalf("expected message-edited, got %#v", calls[0].event)
	}
	if ev.Message.Content != "new words" {
		t.Fatalf("edited content should be trimmed, got %q", ev.Message.Content)
	}
	if ev.Message.EditedAt == nil {
		t.Fatal("edited row should carry its edit timestamp")
	}
	if calls[0].excludeID != "" {
		t.Fatal("everyone, editor included, should see the edit")
	}
}

func TestDeleteBroadcastsMessageID(t *testing.T) {
	msgs := &fakeMessages{
		GetMessageFn: func(ctx context.Context, id int64) (store.ChatMessage, error) {
			return store.ChatMessage{ID: id, ProjectID: "proj_1", SenderID: "user_a", Content: "going away"}, nil
		},
	}
	s, rooms := newTestService(msgs, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	rooms.reset()

	s.HandleDelete(context.Background(), c, DeletePayload{MessageID: 7})

	requireNoUnicast(t, c)
	calls := rooms.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(calls))
	}
	ev, ok := calls[0].event.(MessageDeletedEvent)
	if !ok || ev.Type != EventMessageDeleted {
		t.Fatalf("expected message-deleted, got %#v", calls[0].event)
	}
	if ev.MessageID != 7 {
		t.Fatalf("expected message id 7, got %d", ev.MessageID)
	}
}

func TestDisconnectClearsTypingAndAnnouncesLeave(t *testing.T) {
	s, rooms := newTestService(&fakeMessages{}, &fakeMembers{})
	c := newTestClient()
	join(t, s, c)
	s.HandleTyping(context.Background(), c, TypingPayload{})
	rooms.reset()

	s.HandleDisconnect(c)

	calls := rooms.calls()
	if len(calls) != 2 {
		t.Fatalf("expected stopped-typing plus user-left, got %d events", len(calls))
	}
	stop, ok := calls[0].event.(TypingEvent)
	if !ok || stop.Type != EventUserStoppedTyping {
		t.Fatalf("expected user-stopped-typing first, got %#v", calls[0].event)
	}
	left, ok := calls[1].event.(PresenceEvent)
	if !ok || left.Type != EventUserLeft {
		t.Fatalf("expected user-left, got %#v", calls[1].event)
	}
	if left.UserID != "user_a" || left.UserName != "Alice" {
		t.Fatalf("user-left should carry the stamped identity, got %#v", left)
	}
}

func TestDisconnectBeforeJoinIsQuiet(t *testing.T) {
	s, rooms := newTestService(&fakeMessages{}, &fakeMembers{})
	c := newTestClient()

	s.HandleDisconnect(c)

	if len(rooms.calls()) != 0 {
		t.Fatal("a connection that never joined has nothing to announce")
	}
}

type recordingIndex struct {
	mu      sync.Mutex
	indexed []store.ChatMessage
	removed []int64
}

func (r *recordingIndex) IndexChatMessage(m store.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, m)
}

func (r *recordingIndex) RemoveChatMessage(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func TestSendAndDeleteFeedSearchIndex(t *testing.T) {
	msgs := &fakeMessages{
		GetMessageFn: func(ctx context.Context, id int64) (store.ChatMessage, error) {
			return store.ChatMessage{ID: id, ProjectID: "proj_1", SenderID: "user_a"}, nil
		},
	}
	s, _ := newTestService(msgs, &fakeMembers{})
	index := &recordingIndex{}
	s.WithIndex(index)
	c := newTestClient()
	join(t, s, c)

	s.HandleSend(context.Background(), c, SendPayload{MessageContent: "find me later"})
	requireNoUnicast(t, c)
	if len(index.indexed) != 1 || index.indexed[0].Content != "find me later" {
		t.Fatalf("expected the saved message in the index, got %#v", index.indexed)
	}

	saved := index.indexed[0]
	s.HandleDelete(context.Background(), c, DeletePayload{MessageID: saved.ID})
	requireNoUnicast(t, c)
	if len(index.removed) != 1 || index.removed[0] != saved.ID {
		t.Fatalf("expected message %d removed from the index, got %v", saved.ID, index.removed)
	}
}
