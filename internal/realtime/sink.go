package realtime

import (
	"context"
	"encoding/json"

	"BookNet-backend/internal/platform/notify"
)

// Sink は notify.Sink として Hub に流す。接続が無ければ捨てる
type Sink struct {
	hub *Hub
}

func NewSink(hub *Hub) *Sink { return &Sink{hub: hub} }

func (s *Sink) Name() string { return "websocket" }

func (s *Sink) Deliver(ctx context.Context, ev notify.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(ev.Recipients)+1)
	for _, id := range append([]string{ev.ActorID}, ev.Recipients...) {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s.hub.Publish(UserChannel(id), payload)
	}
	return nil
}
