package events

import (
	"context"
	"log"

	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Publisher interface {
	PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant, grantedBy bson.ObjectID) error
	PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant, revokedBy bson.ObjectID) error
	PublishTemplateApplied(ctx context.Context, template *models.PermissionTemplate, entityType models.EntityType, entityID, appliedBy bson.ObjectID) error
	PublishAccessDenied(ctx context.Context, principalID bson.ObjectID, permissionKey string) error

	// Close closes the publisher and releases resources
	Close() error
}

type EventPublisher struct {
	rabbitMQ *RabbitMQClient
	enabled  bool
}

func NewEventPublisher(rabbitURI string) (*EventPublisher, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{
			rabbitMQ: nil,
			enabled:  false,
		}, nil
	}

	client, err := NewRabbitMQClient(rabbitURI)
	if err != nil {
		return nil, err
	}

	if err := client.setupExchanges(); err != nil {
		client.Close()
		return nil, err
	}

	return &EventPublisher{
		rabbitMQ: client,
		enabled:  true,
	}, nil
}

func (p *EventPublisher) PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant, grantedBy bson.ObjectID) error {
	return p.publishChange(PermissionGranted, grant, grantedBy)
}

func (p *EventPublisher) PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant, revokedBy bson.ObjectID) error {
	return p.publishChange(PermissionRevoked, grant, revokedBy)
}

func (p *EventPublisher) publishChange(eventType EventType, grant *models.PermissionGrant, actor bson.ObjectID) error {
	if !p.enabled {
		log.Printf("Event publishing is disabled, skipping %s", eventType)
		return nil
	}

	event := NewPermissionChangedEvent(
		eventType,
		grant.ID.Hex(),
		grant.PermissionKey,
		string(grant.EntityType),
		grant.EntityID.Hex(),
		actor.Hex(),
	)

	eventData, err := event.ToJSON()
	if err != nil {
		return err
	}

	if err := p.rabbitMQ.PublishEvent("permission-events", string(eventType), eventData); err != nil {
		return err
	}

	log.Printf("Published %s event for %s/%s key %s", eventType, grant.EntityType, grant.EntityID.Hex(), grant.PermissionKey)
	return nil
}

// PublishAccessDenied announces a recorded enforcement denial, mainly for
// security dashboards. The denied principal doubles as the target entity.
func (p *EventPublisher) PublishAccessDenied(ctx context.Context, principalID bson.ObjectID, permissionKey string) error {
	if !p.enabled {
		log.Printf("Event publishing is disabled, skipping %s", AccessDenied)
		return nil
	}

	event := NewPermissionChangedEvent(
		AccessDenied,
		"",
		permissionKey,
		string(models.EntityUser),
		principalID.Hex(),
		principalID.Hex(),
	)

	eventData, err := event.ToJSON()
	if err != nil {
		return err
	}

	return p.rabbitMQ.PublishEvent("permission-events", string(AccessDenied), eventData)
}

func (p *EventPublisher) PublishTemplateApplied(ctx context.Context, template *models.PermissionTemplate, entityType models.EntityType, entityID, appliedBy bson.ObjectID) error {
	if !p.enabled {
		log.Printf("Event publishing is disabled, skipping %s", TemplateApplied)
		return nil
	}

	event := NewTemplateAppliedEvent(
		template.ID.Hex(),
		template.Name,
		template.PermissionKeys,
		string(entityType),
		entityID.Hex(),
		appliedBy.Hex(),
	)

	eventData, err := event.ToJSON()
	if err != nil {
		return err
	}

	if err := p.rabbitMQ.PublishEvent("permission-events", string(TemplateApplied), eventData); err != nil {
		return err
	}

	log.Printf("Published %s event for template %q on %s/%s", TemplateApplied, template.Name, entityType, entityID.Hex())
	return nil
}

// Close releases resources
func (p *EventPublisher) Close() error {
	if !p.enabled || p.rabbitMQ == nil {
		return nil
	}

	return p.rabbitMQ.Close()
}
