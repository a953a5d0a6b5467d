package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/transcript"
)

// CommandToggleMic asks the session to flip the microphone
const CommandToggleMic = "toggle_mic"

// Command is a control message sent by a connected view
type Command struct {
	Type string `json:"type"`
}

// SnapshotSource publishes session state
type SnapshotSource interface {
	Subscribe() (<-chan transcript.Snapshot, func())
}

var upgrader = websocket.Upgrader{
	// Local views only; the hub binds to the interviewer's own listener
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Hub streams snapshots to WebSocket views and forwards their commands
type Hub struct {
	source       SnapshotSource
	commands     chan<- Command
	logger       zerolog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration
}

func NewHub(source SnapshotSource, commands chan<- Command, logger zerolog.Logger) *Hub {
	return &Hub{
		source:       source,
		commands:     commands,
		logger:       logger,
		writeTimeout: 5 * time.Second,
		pingInterval: 20 * time.Second,
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(4096)

	snapshots, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	h.logger.Info().Str("remote", r.RemoteAddr).Msg("View connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, snapshots)
	}()

	h.readLoop(conn, writerDone)
	unsubscribe()
	<-writerDone

	h.logger.Info().Str("remote", r.RemoteAddr).Msg("View disconnected")
}

// writeLoop is the connection's only writer
func (h *Hub) writeLoop(conn *websocket.Conn, snapshots <-chan transcript.Snapshot) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case snapshot, ok := <-snapshots:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(snapshot); err != nil {
				h.logger.Debug().Err(err).Msg("Snapshot write failed")
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(conn *websocket.Conn, writerDone <-chan struct{}) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to parse view command")
			continue
		}

		switch cmd.Type {
		case CommandToggleMic:
			select {
			case h.commands <- cmd:
			case <-writerDone:
				return
			}
		default:
			h.logger.Debug().Str("type", cmd.Type).Msg("Unknown view command")
		}
	}
}
