package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/metrics"
)

// Rooms groups live connections by conversation id and fans events out to
// room members. Each room guards its own member set; the outer map lock is
// held only to find or create a room.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[int64]*room
}

type room struct {
	mu      sync.Mutex
	members map[string]Conn // session id -> connection
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[int64]*room)}
}

// Join subscribes conn to the conversation's broadcasts and notifies the
// members already present. It does not touch durable participant state; the
// control API decides who may become a participant.
func (r *Rooms) Join(conversationID int64, conn Conn) {
	// The room lock is taken before the map lock is released so a concurrent
	// Leave cannot prune the room and strand the joiner in a detached
	// instance no Broadcast can reach.
	r.mu.Lock()
	rm := r.rooms[conversationID]
	if rm == nil {
		rm = &room{members: make(map[string]Conn)}
		r.rooms[conversationID] = rm
	}
	rm.mu.Lock()
	r.mu.Unlock()

	others := make([]Conn, 0, len(rm.members))
	for _, member := range rm.members {
		others = append(others, member)
	}
	rm.members[conn.SessionID()] = conn
	rm.mu.Unlock()

	notice := Event{Event: EventConversationJoined, Data: MemberJoined{
		ConversationID: conversationID,
		UserID:         conn.UserID(),
	}}

	for _, member := range others {
		if err := member.Send(notice); err != nil {
			log.Debug().Err(err).Int64("conversation_id", conversationID).Msg("join notice dropped")
		}
	}
}

// Leave removes conn from the room. Empty rooms are pruned.
func (r *Rooms) Leave(conversationID int64, conn Conn) {
	r.mu.Lock()
	rm := r.rooms[conversationID]
	if rm == nil {
		r.mu.Unlock()
		return
	}

	rm.mu.Lock()
	delete(rm.members, conn.SessionID())
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, conversationID)
	}
	r.mu.Unlock()
}

// Broadcast delivers ev to every connection in the conversation's room.
// exceptUserID excludes that user's connection; pass 0 to deliver to all,
// which is how message:deleted loops back to the actor.
func (r *Rooms) Broadcast(conversationID int64, ev Event, exceptUserID int64) int {
	r.mu.RLock()
	rm := r.rooms[conversationID]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}

	rm.mu.Lock()
	targets := make([]Conn, 0, len(rm.members))
	for _, member := range rm.members {
		if exceptUserID != 0 && member.UserID() == exceptUserID {
			continue
		}
		targets = append(targets, member)
	}
	rm.mu.Unlock()

	delivered := 0
	for _, member := range targets {
		if err := member.Send(ev); err == nil {
			delivered++
		}
	}
	metrics.RoomBroadcasts.Inc()
	return delivered
}

// DetachAll removes conn from every room it joined and returns the affected
// conversation ids. Called once on disconnect.
func (r *Rooms) DetachAll(conn Conn) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []int64
	for conversationID, rm := range r.rooms {
		rm.mu.Lock()
		_, member := rm.members[conn.SessionID()]
		if member {
			delete(rm.members, conn.SessionID())
			left = append(left, conversationID)
		}
		empty := len(rm.members) == 0
		rm.mu.Unlock()

		if empty {
			delete(r.rooms, conversationID)
		}
	}
	return left
}

// MemberCount reports the current room size, 0 for an absent room.
func (r *Rooms) MemberCount(conversationID int64) int {
	r.mu.RLock()
	rm := r.rooms[conversationID]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// RoomCount reports how many rooms currently exist, used by leak checks.
func (r *Rooms) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
