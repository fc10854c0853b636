package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// play sessions
	"play.started":          {},
	"play.choice_selected":  {},
	"play.awaiting_choice":  {},
	"play.completed":        {},
	"play.failed":           {},
	"play.ended":            {},
	"play.restored":         {},
	"play.frames_published": {},

	// graphs
	"graph.loaded":    {},
	"graph.stored":    {},
	"graph.deleted":   {},
	"graph.validated": {},

	// yarn
	"yarn.exported": {},
	"yarn.imported": {},

	// mqtt
	"mqtt.connected":    {},
	"mqtt.disconnected": {},
	"mqtt.command":      {},

	// system
	"system.startup":         {},
	"system.startup_restore": {},
	"system.shutdown":        {},
	"system.error":           {},
}

// Validate rejects event names outside the allow-list.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
