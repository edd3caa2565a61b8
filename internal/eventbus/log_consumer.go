package eventbus

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/payoutrules/internal/event"
	"github.com/matthewbaird/payoutrules/internal/logger"
)

// LogConsumer logs all domain events for observability.
type LogConsumer struct {
	log *logrus.Logger
}

// NewLogConsumer logs through l, or the process logger when l is nil.
func NewLogConsumer(l *logrus.Logger) *LogConsumer {
	if l == nil {
		l = logger.Log
	}
	return &LogConsumer{log: l}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	entities := make([]string, len(evt.AffectedEntities))
	for i, ref := range evt.AffectedEntities {
		entities[i] = ref.EntityType + ":" + ref.EntityID
	}
	c.log.WithFields(logrus.Fields{
		"event_type": evt.EventType,
		"event_id":   evt.ID,
		"owner_id":   evt.OwnerID,
		"category":   evt.Category,
		"entities":   entities,
	}).Info(evt.Summary)
	return nil
}
