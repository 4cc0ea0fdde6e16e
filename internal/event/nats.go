package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/civicflow/civicflow/pkg/models"
)

const (
	// EventSubjectPrefix is the subject tree events are mirrored to:
	// civicflow.events.<EVENT_TYPE>.<workflow_id>.
	EventSubjectPrefix = "civicflow.events"

	// IntakeSubject is where external systems inject events (entity
	// creation, external approvals) into the platform.
	IntakeSubject = "civicflow.intake.events"
)

// NATSBridge mirrors published events onto NATS subjects and injects
// externally produced events into the bus.
type NATSBridge struct {
	nc  *nats.Conn
	bus *Bus

	intakeSub *nats.Subscription
}

// NewNATSBridge connects to NATS and binds the bridge to a bus.
func NewNATSBridge(natsURL string, bus *Bus) (*NATSBridge, error) {
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Println("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &NATSBridge{nc: nc, bus: bus}
	bus.RegisterSink(b.mirror)
	return b, nil
}

// mirror publishes one bus event onto its NATS subject.
func (b *NATSBridge) mirror(_ context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	subject := fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, event.Type, event.WorkflowID)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", event.ID, subject, err)
	}
	return nil
}

// StartIntake subscribes to the intake subject and republishes decoded
// events through the bus, making them visible to hooks.
func (b *NATSBridge) StartIntake(ctx context.Context) error {
	sub, err := b.nc.Subscribe(IntakeSubject, func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Dropping malformed intake event: %v", err)
			return
		}
		if event.Type == "" || event.WorkflowID == "" {
			log.Printf("Dropping intake event %s without type or workflow", event.ID)
			return
		}
		if err := b.bus.Publish(ctx, &event); err != nil {
			log.Printf("Failed to republish intake event %s: %v", event.ID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", IntakeSubject, err)
	}
	b.intakeSub = sub
	return nil
}

// Close drains the intake subscription and the connection.
func (b *NATSBridge) Close() {
	if b.intakeSub != nil {
		if err := b.intakeSub.Drain(); err != nil {
			log.Printf("Failed to drain NATS intake subscription: %v", err)
		}
	}
	b.nc.Close()
}
