package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func dispatcherFixture(t *testing.T) (*Dispatcher, *Registry, *Rooms, *TypingManager, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	registry := NewRegistry()
	rooms := NewRooms()
	typing := NewTypingManager(clock, rooms, DefaultTypingWindow)
	return NewDispatcher(registry, rooms, typing, clock), registry, rooms, typing, clock
}

func envelope(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Event: event, Data: data}
}

func TestDispatcherMessageSendExcludesSender(t *testing.T) {
	d, _, _, _, clock := dispatcherFixture(t)

	sender := newFakeConn(1)
	receiver := newFakeConn(2)
	d.Connect(sender)
	d.Connect(receiver)
	require.NoError(t, d.HandleEvent(sender, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))
	require.NoError(t, d.HandleEvent(receiver, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))

	err := d.HandleEvent(sender, envelope(t, EventMessageSend, SendMessage{
		ConversationID: 10,
		MessageID:      77,
		Message:        "see you at the workshop",
	}))
	require.NoError(t, err)

	require.Zero(t, sender.countEvents(EventMessageNew))
	require.Equal(t, 1, receiver.countEvents(EventMessageNew))
	ev, _ := receiver.lastEvent(EventMessageNew)
	require.Equal(t, MessageNew{
		ConversationID: 10,
		MessageID:      77,
		Message:        "see you at the workshop",
		SenderID:       1,
		Timestamp:      clock.Now(),
	}, ev.Data)
}

func TestDispatcherReadExcludesActorDeleteIncludesActor(t *testing.T) {
	d, _, _, _, _ := dispatcherFixture(t)

	actor := newFakeConn(1)
	peer := newFakeConn(2)
	d.Connect(actor)
	d.Connect(peer)
	require.NoError(t, d.HandleEvent(actor, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))
	require.NoError(t, d.HandleEvent(peer, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))

	require.NoError(t, d.HandleEvent(actor, envelope(t, EventMessageRead, ReadMessage{ConversationID: 10, MessageID: 5})))
	require.Zero(t, actor.countEvents(EventMessageRead))
	require.Equal(t, 1, peer.countEvents(EventMessageRead))

	// message:delete must round-trip to the deleting client so every
	// displayed copy updates together.
	require.NoError(t, d.HandleEvent(actor, envelope(t, EventMessageDelete, DeleteMessage{ConversationID: 10, MessageID: 5})))
	require.Equal(t, 1, actor.countEvents(EventMessageDeleted))
	require.Equal(t, 1, peer.countEvents(EventMessageDeleted))
	ev, _ := peer.lastEvent(EventMessageDeleted)
	require.Equal(t, MessageDeleted{ConversationID: 10, MessageID: 5, DeletedBy: 1}, ev.Data)
}

func TestDispatcherGroupNotificationsReachRoomAbsentUsers(t *testing.T) {
	d, _, _, _, _ := dispatcherFixture(t)

	creator := newFakeConn(1)
	invitee := newFakeConn(2)
	offlineless := newFakeConn(3)
	d.Connect(creator)
	d.Connect(invitee)
	d.Connect(offlineless)

	// Nobody has joined the room; delivery goes through the registry.
	err := d.HandleEvent(creator, envelope(t, EventGroupCreated, GroupCreated{
		ConversationID: 20,
		MemberIDs:      []int64{2, 3, 4}, // 4 is offline
		GroupName:      "Night Class",
	}))
	require.NoError(t, err)

	for _, c := range []*fakeConn{invitee, offlineless} {
		require.Equal(t, 1, c.countEvents(EventGroupCreated))
		ev, _ := c.lastEvent(EventGroupCreated)
		require.Equal(t, GroupNotice{
			ConversationID: 20,
			GroupName:      "Night Class",
			MemberIDs:      []int64{2, 3, 4},
			ActorID:        1,
		}, ev.Data)
	}
}

func TestDispatcherGroupMemberAdded(t *testing.T) {
	d, _, _, _, _ := dispatcherFixture(t)

	admin := newFakeConn(1)
	member := newFakeConn(2)
	newcomer := newFakeConn(3)
	d.Connect(admin)
	d.Connect(member)
	d.Connect(newcomer)
	require.NoError(t, d.HandleEvent(admin, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 20})))
	require.NoError(t, d.HandleEvent(member, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 20})))

	err := d.HandleEvent(admin, envelope(t, EventGroupMemberAdded, GroupMemberAdded{ConversationID: 20, NewMemberID: 3}))
	require.NoError(t, err)

	require.Equal(t, 1, member.countEvents(EventGroupMemberAdded))
	require.Equal(t, 1, newcomer.countEvents(EventGroupAdded), "new member gets a direct notice without being in the room")
	require.Zero(t, newcomer.countEvents(EventGroupMemberAdded))
}

func TestDispatcherLeaveStopsTyping(t *testing.T) {
	d, _, rooms, typing, _ := dispatcherFixture(t)

	actor := newFakeConn(1)
	observer := newFakeConn(2)
	d.Connect(actor)
	d.Connect(observer)
	require.NoError(t, d.HandleEvent(actor, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))
	require.NoError(t, d.HandleEvent(observer, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))

	require.NoError(t, d.HandleEvent(actor, envelope(t, EventTypingStart, ConversationRef{ConversationID: 10})))
	require.True(t, typing.IsTyping(10, 1))

	require.NoError(t, d.HandleEvent(actor, envelope(t, EventConversationLeave, ConversationRef{ConversationID: 10})))
	require.False(t, typing.IsTyping(10, 1))
	require.Equal(t, 1, observer.countEvents(EventTypingStop))
	require.Equal(t, 1, rooms.MemberCount(10))
}

func TestDispatcherDisconnectReleasesEverything(t *testing.T) {
	d, registry, rooms, typing, clock := dispatcherFixture(t)

	actor := newFakeConn(1)
	observerA := newFakeConn(2)
	observerB := newFakeConn(3)
	d.Connect(observerA)
	d.Connect(observerB)
	d.Connect(actor)

	for _, conv := range []int64{1, 2} {
		require.NoError(t, d.HandleEvent(actor, envelope(t, EventConversationJoin, ConversationRef{ConversationID: conv})))
	}
	require.NoError(t, d.HandleEvent(observerA, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 1})))
	require.NoError(t, d.HandleEvent(observerB, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 2})))
	require.NoError(t, d.HandleEvent(actor, envelope(t, EventTypingStart, ConversationRef{ConversationID: 1})))

	d.Disconnect(actor)

	require.Equal(t, 1, observerA.countEvents(EventTypingStop), "typing indicator cleared on disconnect")
	require.Equal(t, 1, observerA.countEvents(EventUserOffline))
	require.Equal(t, 1, observerB.countEvents(EventUserOffline))
	require.False(t, typing.IsTyping(1, 1))
	_, ok := registry.Lookup(1)
	require.False(t, ok)

	// No further broadcasts may target the departed connection.
	before := len(actor.sent())
	rooms.Broadcast(1, Event{Event: EventMessageNew}, 0)
	rooms.Broadcast(2, Event{Event: EventMessageNew}, 0)
	require.Len(t, actor.sent(), before)

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, observerA.countEvents(EventTypingStop))
}

func TestDispatcherStaleDisconnectKeepsFreshTyping(t *testing.T) {
	d, registry, _, typing, _ := dispatcherFixture(t)

	observer := newFakeConn(2)
	d.Connect(observer)
	require.NoError(t, d.HandleEvent(observer, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))

	stale := newFakeConn(1)
	d.Connect(stale)
	fresh := newFakeConn(1)
	d.Connect(fresh) // evicts stale; its read loop has not unwound yet

	require.NoError(t, d.HandleEvent(fresh, envelope(t, EventConversationJoin, ConversationRef{ConversationID: 10})))
	require.NoError(t, d.HandleEvent(fresh, envelope(t, EventTypingStart, ConversationRef{ConversationID: 10})))

	d.Disconnect(stale)

	require.True(t, typing.IsTyping(10, 1), "stale teardown must not wipe the fresh session's typing state")
	require.Zero(t, observer.countEvents(EventTypingStop))
	current, ok := registry.Lookup(1)
	require.True(t, ok)
	require.Equal(t, fresh.SessionID(), current.SessionID())
}

func TestDispatcherReconnectAfterDisconnect(t *testing.T) {
	d, registry, _, _, _ := dispatcherFixture(t)

	observer := newFakeConn(2)
	d.Connect(observer)

	first := newFakeConn(1)
	d.Connect(first)
	d.Disconnect(first)

	fresh := newFakeConn(1)
	d.Connect(fresh)

	require.Equal(t, 1, observer.countEvents(EventUserOffline))
	require.Equal(t, 2, observer.countEvents(EventUserOnline))
	current, ok := registry.Lookup(1)
	require.True(t, ok)
	require.Equal(t, fresh.SessionID(), current.SessionID())
}

func TestDispatcherRejectsUnknownEvent(t *testing.T) {
	d, _, _, _, _ := dispatcherFixture(t)

	conn := newFakeConn(1)
	d.Connect(conn)

	err := d.HandleEvent(conn, Envelope{Event: "weird:event", Data: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestDispatcherRejectsMalformedPayload(t *testing.T) {
	d, _, _, _, _ := dispatcherFixture(t)

	conn := newFakeConn(1)
	d.Connect(conn)

	err := d.HandleEvent(conn, Envelope{Event: EventMessageSend, Data: json.RawMessage(`"nope"`)})
	require.Error(t, err)
}
