package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/metrics"
)

const registryShards = 16

// Registry tracks the single live connection per user and owns presence.
// It is sharded by user id so concurrent connects for unrelated users do not
// contend on one lock.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu    sync.Mutex
	conns map[int64]Conn
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[int64]Conn)
	}
	return r
}

func (r *Registry) shard(userID int64) *registryShard {
	return &r.shards[uint64(userID)%registryShards]
}

// Register makes conn the active connection for its user, evicting and
// closing any prior one (last writer wins). A user going from zero to one
// connection is announced to every other live connection.
func (r *Registry) Register(conn Conn) {
	s := r.shard(conn.UserID())

	s.mu.Lock()
	previous := s.conns[conn.UserID()]
	s.conns[conn.UserID()] = conn
	s.mu.Unlock()

	if previous != nil {
		// Presence is continuous across a replacement: observers never saw
		// the user go offline, so no second online notice.
		previous.Close(CloseSessionReplaced, "session replaced")
		log.Info().Int64("user_id", conn.UserID()).Msg("replaced existing live connection")
		return
	}

	metrics.LiveConnections.Inc()
	r.broadcast(Event{Event: EventUserOnline, Data: UserPresence{UserID: conn.UserID()}}, conn.UserID())
}

// Unregister removes conn and announces the user offline, but only when conn
// is still the registered connection. A stale disconnect racing a fresh
// reconnect for the same user is a no-op.
func (r *Registry) Unregister(conn Conn) bool {
	s := r.shard(conn.UserID())

	s.mu.Lock()
	current, ok := s.conns[conn.UserID()]
	if !ok || current.SessionID() != conn.SessionID() {
		s.mu.Unlock()
		return false
	}
	delete(s.conns, conn.UserID())
	s.mu.Unlock()

	metrics.LiveConnections.Dec()
	r.broadcast(Event{Event: EventUserOffline, Data: UserPresence{UserID: conn.UserID()}}, conn.UserID())
	return true
}

// Lookup returns the user's current connection, for targeted notifications
// that must reach users who are not members of any relevant room.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	s := r.shard(userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[userID]
	return conn, ok
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.conns)
		s.mu.Unlock()
	}
	return n
}

func (r *Registry) broadcast(ev Event, exceptUserID int64) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		conns := make([]Conn, 0, len(s.conns))
		for userID, conn := range s.conns {
			if userID == exceptUserID {
				continue
			}
			conns = append(conns, conn)
		}
		s.mu.Unlock()

		for _, conn := range conns {
			if err := conn.Send(ev); err != nil {
				log.Debug().Err(err).Int64("user_id", conn.UserID()).Str("event", ev.Event).Msg("presence broadcast dropped")
			}
		}
	}
}
