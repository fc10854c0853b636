package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

// Player is the play surface driven by remote commands.
type Player interface {
	Start(ctx context.Context, graphID string, state forge.GameState, mode orchestrator.Mode) (orchestrator.Session, error)
	Choose(ctx context.Context, sessionID, choiceID string) (orchestrator.Session, error)
}

// Command is a remote play request.
//
//	{"action":"start","graphId":"intro","flags":{"gold":3}}
//	{"action":"choose","sessionId":"...","choiceId":"c1"}
type Command struct {
	Action    string         `json:"action"`
	GraphID   string         `json:"graphId,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	Flags     map[string]any `json:"flags,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	ChoiceID  string         `json:"choiceId,omitempty"`
}

// CommandSubscriber feeds commands from a topic into a Player.
// Subscribing is idempotent across reconnects.
type CommandSubscriber struct {
	broker  Broker
	player  Player
	topic   string
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	subscribed bool
}

// NewCommandSubscriber listens on topic.
func NewCommandSubscriber(broker Broker, player Player, topic string, logger *slog.Logger) *CommandSubscriber {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CommandSubscriber{
		broker:  broker,
		player:  player,
		topic:   topic,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// Subscribe registers the handler if not already subscribed.
func (s *CommandSubscriber) Subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil
	}
	if err := s.broker.Subscribe(s.topic, s.handle); err != nil {
		return err
	}
	s.subscribed = true
	return nil
}

// IsSubscribed reports whether the handler is registered.
func (s *CommandSubscriber) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// Reset clears subscription tracking so the next Subscribe registers
// again. Call it when the broker session was lost.
func (s *CommandSubscriber) Reset() {
	s.mu.Lock()
	s.subscribed = false
	s.mu.Unlock()
}

func (s *CommandSubscriber) handle(_ paho.Client, msg paho.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		events.Emit("warn", "mqtt.command", "invalid command payload", map[string]any{
			"topic": msg.Topic(),
			"error": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	fields := map[string]any{"topic": msg.Topic(), "action": cmd.Action}
	sess, err := s.Dispatch(ctx, cmd)
	if err != nil {
		fields["error"] = err.Error()
		events.Emit("warn", "mqtt.command", "command failed", fields)
		return
	}
	fields["session_id"] = sess.ID
	events.Emit("info", "mqtt.command", "", fields)
}

// Dispatch runs one command against the player.
func (s *CommandSubscriber) Dispatch(ctx context.Context, cmd Command) (orchestrator.Session, error) {
	switch cmd.Action {
	case "start":
		if cmd.GraphID == "" {
			return orchestrator.Session{}, fmt.Errorf("start: graphId is required")
		}
		state := forge.GameState{Flags: cmd.Flags}.Clone()
		return s.player.Start(ctx, cmd.GraphID, state, orchestrator.Mode(cmd.Mode))
	case "choose":
		if cmd.SessionID == "" || cmd.ChoiceID == "" {
			return orchestrator.Session{}, fmt.Errorf("choose: sessionId and choiceId are required")
		}
		return s.player.Choose(ctx, cmd.SessionID, cmd.ChoiceID)
	default:
		return orchestrator.Session{}, fmt.Errorf("unknown action %q", cmd.Action)
	}
}
