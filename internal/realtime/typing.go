package realtime

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTypingWindow is how long a typing indicator stays on without a new
// typing:start from the same user.
const DefaultTypingWindow = 5 * time.Second

const typingShards = 16

// TypingManager keeps the per-conversation set of users currently typing and
// expires each membership after a quiescence window. Conversations are
// sharded so unrelated rooms never share a lock.
type TypingManager struct {
	clock  clockwork.Clock
	rooms  *Rooms
	window time.Duration

	shards [typingShards]typingShard

	userMu sync.Mutex
	byUser map[int64]map[int64]struct{} // user id -> conversations they type in
}

type typingShard struct {
	mu    sync.Mutex
	convs map[int64]map[int64]*typingEntry // conversation id -> user id -> entry
}

type typingEntry struct {
	seq   uint64
	timer clockwork.Timer
}

func NewTypingManager(clock clockwork.Clock, rooms *Rooms, window time.Duration) *TypingManager {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	m := &TypingManager{
		clock:  clock,
		rooms:  rooms,
		window: window,
		byUser: make(map[int64]map[int64]struct{}),
	}
	for i := range m.shards {
		m.shards[i].convs = make(map[int64]map[int64]*typingEntry)
	}
	return m
}

func (m *TypingManager) shard(conversationID int64) *typingShard {
	return &m.shards[uint64(conversationID)%typingShards]
}

// Start marks the user as typing and (re)schedules the auto-stop. A repeat
// start resets the window; the superseded timer is cancelled so it cannot
// fire a duplicate stop broadcast.
func (m *TypingManager) Start(conversationID, userID int64) {
	s := m.shard(conversationID)

	s.mu.Lock()
	users := s.convs[conversationID]
	if users == nil {
		users = make(map[int64]*typingEntry)
		s.convs[conversationID] = users
	}

	entry, already := users[userID]
	if already {
		entry.timer.Stop()
		entry.seq++
	} else {
		entry = &typingEntry{}
		users[userID] = entry
	}
	seq := entry.seq
	entry.timer = m.clock.AfterFunc(m.window, func() {
		m.expire(conversationID, userID, seq)
	})
	s.mu.Unlock()

	if already {
		return
	}

	m.userMu.Lock()
	convs := m.byUser[userID]
	if convs == nil {
		convs = make(map[int64]struct{})
		m.byUser[userID] = convs
	}
	convs[conversationID] = struct{}{}
	m.userMu.Unlock()

	m.rooms.Broadcast(conversationID, Event{Event: EventTypingStart, Data: TypingChange{
		ConversationID: conversationID,
		UserID:         userID,
	}}, userID)
}

// Stop clears the user's typing state and broadcasts typing:stop. Calling it
// for a user who is not typing is a silent no-op.
func (m *TypingManager) Stop(conversationID, userID int64) {
	s := m.shard(conversationID)

	s.mu.Lock()
	users := s.convs[conversationID]
	entry, ok := users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(s.convs, conversationID)
	}
	s.mu.Unlock()

	m.forget(conversationID, userID)
	m.broadcastStop(conversationID, userID)
}

// CleanupUser removes the user from every typing set they belong to,
// broadcasting typing:stop for each. Called on disconnect so indicators
// cannot stay stuck on for departed users.
func (m *TypingManager) CleanupUser(userID int64) {
	m.userMu.Lock()
	convs := make([]int64, 0, len(m.byUser[userID]))
	for conversationID := range m.byUser[userID] {
		convs = append(convs, conversationID)
	}
	m.userMu.Unlock()

	for _, conversationID := range convs {
		m.Stop(conversationID, userID)
	}
}

// IsTyping reports whether the user is currently marked typing.
func (m *TypingManager) IsTyping(conversationID, userID int64) bool {
	s := m.shard(conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.convs[conversationID][userID]
	return ok
}

func (m *TypingManager) expire(conversationID, userID int64, seq uint64) {
	s := m.shard(conversationID)

	s.mu.Lock()
	users := s.convs[conversationID]
	entry, ok := users[userID]
	if !ok || entry.seq != seq {
		// Superseded by a newer start or an explicit stop.
		s.mu.Unlock()
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.convs, conversationID)
	}
	s.mu.Unlock()

	m.forget(conversationID, userID)
	m.broadcastStop(conversationID, userID)
}

func (m *TypingManager) forget(conversationID, userID int64) {
	m.userMu.Lock()
	if convs := m.byUser[userID]; convs != nil {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(m.byUser, userID)
		}
	}
	m.userMu.Unlock()
}

func (m *TypingManager) broadcastStop(conversationID, userID int64) {
	m.rooms.Broadcast(conversationID, Event{Event: EventTypingStop, Data: TypingChange{
		ConversationID: conversationID,
		UserID:         userID,
	}}, userID)
}
