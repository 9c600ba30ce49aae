package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/auth"
	"CampusConnect/server/internal/realtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler performs the authenticated handshake and runs the live
// connection's read loop. The credential is verified before the upgrade, so
// a failed handshake leaves no state behind.
type WebSocketHandler struct {
	verifier   auth.Verifier
	dispatcher *realtime.Dispatcher
}

func NewWebSocketHandler(verifier auth.Verifier, dispatcher *realtime.Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{verifier: verifier, dispatcher: dispatcher}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConnection(identity.UserID, identity.Username, ws)
	conn.Start()
	h.dispatcher.Connect(conn)
	defer h.dispatcher.Disconnect(conn)

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Int64("user_id", identity.UserID).Msg("websocket read failed")
			}
			return
		}

		if err := h.dispatcher.HandleEvent(conn, env); err != nil {
			// A bad event from one client must not degrade anyone else's
			// connection; report it back and keep reading.
			log.Warn().Err(err).Int64("user_id", identity.UserID).Str("event", env.Event).Msg("rejected live event")
			if sendErr := conn.Send(realtime.Event{Event: "error", Data: map[string]string{
				"event": env.Event,
				"error": err.Error(),
			}}); sendErr != nil {
				return
			}
		}
	}
}
