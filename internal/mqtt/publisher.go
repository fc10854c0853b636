package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// FramePublisher sends play frames to downstream renderers, one JSON
// message per frame on <topic>/<sessionID>.
type FramePublisher struct {
	broker Broker
	topic  string
}

// FrameMessage is the published payload.
type FrameMessage struct {
	SessionID string      `json:"sessionId"`
	Frame     forge.Frame `json:"frame"`
}

// NewFramePublisher publishes under topic.
func NewFramePublisher(broker Broker, topic string) *FramePublisher {
	return &FramePublisher{broker: broker, topic: strings.TrimSuffix(topic, "/")}
}

// Topic returns the topic frames of sessionID are published on.
func (p *FramePublisher) Topic(sessionID string) string {
	return p.topic + "/" + sessionID
}

// PublishFrames implements orchestrator.FramePublisher. It stops at the
// first failed publish.
func (p *FramePublisher) PublishFrames(sessionID string, frames []forge.Frame) error {
	topic := p.Topic(sessionID)
	for _, f := range frames {
		payload, err := json.Marshal(FrameMessage{SessionID: sessionID, Frame: f})
		if err != nil {
			return fmt.Errorf("marshal frame %s: %w", f.ID, err)
		}
		if err := p.broker.Publish(topic, payload); err != nil {
			return fmt.Errorf("publish frame %s: %w", f.ID, err)
		}
	}
	return nil
}
