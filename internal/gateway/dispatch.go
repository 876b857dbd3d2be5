package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/room"
)

// Inbound frame types.
const (
	TypeJoin                 = "join"
	TypeLeave                = "leave"
	TypeSubmitMultipleChoice = "submitMultipleChoice"
	TypeSubmitLongAnswer     = "submitLongAnswer"
	TypeSelectChoice         = "selectChoice"
	TypeUpdateInteraction    = "updateInteraction"
	TypeStart                = "start"
	TypeReady                = "ready"
	TypeSubmitGrades         = "submitGrades"
	TypeToggleLock           = "toggleLock"
	TypeKick                 = "kick"
	TypeMute                 = "mute"
	TypePause                = "pause"
	TypePanic                = "panic"
)

// Outbound events owned by the gateway.
const (
	EventJoined = "joined"
	EventError  = "error"
)

// Frame is one inbound websocket message.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type ChoicesRequest struct {
	Choices []int `json:"choices"`
}

type TextRequest struct {
	Text string `json:"text"`
}

type GradesRequest struct {
	Grades []game.Grade `json:"grades"`
}

type UsernameRequest struct {
	Username string `json:"username"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Sessions is the registry side the dispatcher routes to.
type Sessions interface {
	Join(ctx context.Context, conn domain.ConnID, id, username string) game.JoinResult
	Leave(ctx context.Context, conn domain.ConnID, reason string)
	Kick(ctx context.Context, caller domain.ConnID, username string) bool
	Mute(ctx context.Context, caller domain.ConnID, username string) bool
	Game(conn domain.ConnID) (*game.Game, bool)
}

// Dispatcher decodes frames and applies them to the caller's session. Frames from connections
// that are not in a session, or that do not decode, are dropped.
type Dispatcher struct {
	sessions Sessions
	sender   room.Sender
}

func NewDispatcher(sessions Sessions, sender room.Sender) *Dispatcher {
	return &Dispatcher{sessions: sessions, sender: sender}
}

func (d *Dispatcher) Handle(ctx context.Context, conn domain.ConnID, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.fail(conn, "", "malformed frame")
		return
	}

	switch f.Type {
	case TypeJoin:
		var req JoinRequest
		if !d.decode(conn, f, &req) {
			return
		}
		res := d.sessions.Join(ctx, conn, req.ID, req.Username)
		d.sender.Send(conn, domain.Message{Event: EventJoined, Data: res})
		return

	case TypeLeave:
		d.sessions.Leave(ctx, conn, "left")
		return

	case TypeKick:
		var req UsernameRequest
		if d.decode(conn, f, &req) {
			d.sessions.Kick(ctx, conn, req.Username)
		}
		return

	case TypeMute:
		var req UsernameRequest
		if d.decode(conn, f, &req) {
			d.sessions.Mute(ctx, conn, req.Username)
		}
		return
	}

	g, ok := d.sessions.Game(conn)
	if !ok {
		slog.DebugContext(ctx, fmt.Sprintf("gateway: %s from %s outside a game dropped", f.Type, conn))
		return
	}

	switch f.Type {
	case TypeSubmitMultipleChoice:
		var req ChoicesRequest
		if d.decode(conn, f, &req) {
			g.SubmitMultipleChoice(conn, req.Choices)
		}

	case TypeSubmitLongAnswer:
		var req TextRequest
		if d.decode(conn, f, &req) {
			g.SubmitLongAnswer(conn, req.Text)
		}

	case TypeSelectChoice:
		var req game.Selection
		if d.decode(conn, f, &req) {
			g.SelectChoice(conn, req)
		}

	case TypeUpdateInteraction:
		var req game.Interaction
		if d.decode(conn, f, &req) {
			g.UpdateInteraction(conn, req)
		}

	case TypeStart:
		if !g.Start(conn) {
			d.fail(conn, f.Type, "The game cannot be started: lock the room with at least one player in it")
		}

	case TypeReady:
		g.Ready(conn)

	case TypeSubmitGrades:
		var req GradesRequest
		if d.decode(conn, f, &req) {
			g.SubmitGrades(conn, req.Grades)
		}

	case TypeToggleLock:
		g.ToggleLock(conn)

	case TypePause:
		g.PauseTimer(conn)

	case TypePanic:
		g.PanicTimer(conn)

	default:
		d.fail(conn, f.Type, "unknown frame type")
	}
}

// Disconnected treats a closed socket as leaving.
func (d *Dispatcher) Disconnected(ctx context.Context, conn domain.ConnID) {
	d.sessions.Leave(ctx, conn, "disconnected")
}

func (d *Dispatcher) decode(conn domain.ConnID, f Frame, v any) bool {
	if len(f.Data) == 0 {
		d.fail(conn, f.Type, "missing data")
		return false
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		d.fail(conn, f.Type, "malformed data")
		return false
	}
	return true
}

func (d *Dispatcher) fail(conn domain.ConnID, typ, msg string) {
	d.sender.Send(conn, domain.Message{Event: EventError, Data: ErrorPayload{Type: typ, Message: msg}})
}
