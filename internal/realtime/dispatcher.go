package realtime

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/metrics"
)

// Dispatcher is the live-protocol state machine. A connection it sees is
// already authenticated; it moves through room membership changes until
// Disconnect, which releases everything the connection held.
//
// The dispatcher never touches the durable store. Messages are persisted and
// participant-authorized by the control API before the client emits
// message:send here.
type Dispatcher struct {
	registry *Registry
	rooms    *Rooms
	typing   *TypingManager
	clock    clockwork.Clock
}

func NewDispatcher(registry *Registry, rooms *Rooms, typing *TypingManager, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		rooms:    rooms,
		typing:   typing,
		clock:    clock,
	}
}

// Connect registers the connection and announces presence.
func (d *Dispatcher) Connect(c Conn) {
	d.registry.Register(c)
	log.Info().Int64("user_id", c.UserID()).Str("session_id", c.SessionID()).Msg("live connection established")
}

// Disconnect tears down every resource the connection held: room
// memberships, typing indicators, the registry entry and presence. Rooms are
// keyed by session id, so detaching an evicted connection cannot touch its
// replacement; typing state is keyed by user id and is only cleared when the
// disconnecting session is still the user's current one, otherwise a stale
// teardown would wipe the fresh session's indicators.
func (d *Dispatcher) Disconnect(c Conn) {
	left := d.rooms.DetachAll(c)
	if current, ok := d.registry.Lookup(c.UserID()); !ok || current.SessionID() == c.SessionID() {
		d.typing.CleanupUser(c.UserID())
	}
	if d.registry.Unregister(c) {
		log.Info().Int64("user_id", c.UserID()).Ints64("rooms", left).Msg("live connection closed")
	}
}

// HandleEvent decodes and applies one inbound event. An error is isolated to
// this connection; shared state is never left half-mutated.
func (d *Dispatcher) HandleEvent(c Conn, env Envelope) error {
	payload, err := DecodeInbound(env)
	if err != nil {
		return err
	}
	metrics.LiveEvents.WithLabelValues(env.Event).Inc()

	switch p := payload.(type) {
	case ConversationRef:
		switch env.Event {
		case EventConversationJoin:
			d.rooms.Join(p.ConversationID, c)
		case EventConversationLeave:
			d.rooms.Leave(p.ConversationID, c)
			d.typing.Stop(p.ConversationID, c.UserID())
		case EventTypingStart:
			d.typing.Start(p.ConversationID, c.UserID())
		case EventTypingStop:
			d.typing.Stop(p.ConversationID, c.UserID())
		}
	case SendMessage:
		d.rooms.Broadcast(p.ConversationID, Event{Event: EventMessageNew, Data: MessageNew{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			Message:        p.Message,
			SenderID:       c.UserID(),
			Timestamp:      d.clock.Now(),
		}}, c.UserID())
	case ReadMessage:
		d.rooms.Broadcast(p.ConversationID, Event{Event: EventMessageRead, Data: MessageRead{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			ReadBy:         c.UserID(),
			ReadAt:         d.clock.Now(),
		}}, c.UserID())
	case DeleteMessage:
		// Deliberately includes the actor so every displayed copy, the
		// deleting client's included, updates in lockstep.
		d.rooms.Broadcast(p.ConversationID, Event{Event: EventMessageDeleted, Data: MessageDeleted{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			DeletedBy:      c.UserID(),
		}}, 0)
	case GroupCreated:
		d.notifyDirect(p.MemberIDs, Event{Event: EventGroupCreated, Data: GroupNotice{
			ConversationID: p.ConversationID,
			GroupName:      p.GroupName,
			MemberIDs:      p.MemberIDs,
			ActorID:        c.UserID(),
		}})
	case GroupMemberAdded:
		notice := GroupNotice{
			ConversationID: p.ConversationID,
			NewMemberID:    p.NewMemberID,
			ActorID:        c.UserID(),
		}
		d.rooms.Broadcast(p.ConversationID, Event{Event: EventGroupMemberAdded, Data: notice}, 0)
		d.notifyDirect([]int64{p.NewMemberID}, Event{Event: EventGroupAdded, Data: notice})
	default:
		return fmt.Errorf("unhandled event %q", env.Event)
	}
	return nil
}

// notifyDirect delivers ev to each user's registered connection, reaching
// users who have not joined any relevant room.
func (d *Dispatcher) notifyDirect(userIDs []int64, ev Event) {
	for _, userID := range userIDs {
		conn, ok := d.registry.Lookup(userID)
		if !ok {
			continue
		}
		if err := conn.Send(ev); err != nil {
			log.Debug().Err(err).Int64("user_id", userID).Str("event", ev.Event).Msg("direct notification dropped")
		}
	}
}
