package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"permission_service/internal/models"
	"permission_service/internal/repository"

	"github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Consumer defines the interface for event consumption
type Consumer interface {
	Start() error
	Close() error
}

// EventConsumer keeps the portal user mirror current and retires grants
// when upstream users go away.
type EventConsumer struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	redisRepo *repository.RedisRepo
	userRepo  *repository.PortalUserRepository
	grantRepo *repository.GrantRepository
	auditRepo *repository.AuditRepository
	shutdown  chan struct{}
	wg        sync.WaitGroup
	enabled   bool
}

type ExchangeConfig struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Args       amqp091.Table
}

type BindingConfig struct {
	Exchange   string
	RoutingKey string
}

func NewEventConsumer(rabbitURI string, repos *repository.Repositories) (*EventConsumer, error) {
	consumer := &EventConsumer{
		queueName: "permission-service-events",
		redisRepo: repos.RedisRepository,
		userRepo:  repos.PortalUserRepository,
		grantRepo: repos.GrantRepository,
		auditRepo: repos.AuditRepository,
		shutdown:  make(chan struct{}),
	}

	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event consumption is disabled")
		return consumer, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = channel.Qos(
		10,    // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	consumer.conn = conn
	consumer.channel = channel
	consumer.enabled = true
	return consumer, nil
}

// Start starts consuming events
func (c *EventConsumer) Start() error {
	if !c.enabled {
		log.Println("Event consumption is disabled, not starting consumer")
		return nil
	}

	exchanges := []ExchangeConfig{
		{Name: "user-events", Type: "topic", Durable: true},
		{Name: "department-events", Type: "topic", Durable: true},
	}

	for _, exchange := range exchanges {
		err := c.channel.ExchangeDeclare(
			exchange.Name,
			exchange.Type,
			exchange.Durable,
			exchange.AutoDelete,
			exchange.Internal,
			exchange.NoWait,
			exchange.Args,
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange.Name, err)
		}
		log.Printf("Declared exchange: %s", exchange.Name)
	}

	_, err := c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	log.Printf("Declared queue: %s", c.queueName)

	bindings := []BindingConfig{
		{Exchange: "user-events", RoutingKey: "user.registered"},
		{Exchange: "user-events", RoutingKey: "user.updated"},
		{Exchange: "user-events", RoutingKey: "user.deactivated"},
		{Exchange: "department-events", RoutingKey: "department.member_added"},
		{Exchange: "department-events", RoutingKey: "department.member_removed"},
	}

	for _, binding := range bindings {
		err := c.channel.QueueBind(
			c.queueName,        // queue name
			binding.RoutingKey, // routing key
			binding.Exchange,   // exchange
			false,              // no-wait
			nil,                // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue to exchange %s with key %s: %w",
				binding.Exchange, binding.RoutingKey, err)
		}
		log.Printf("Bound queue %s to exchange %s with routing key %s",
			c.queueName, binding.Exchange, binding.RoutingKey)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(msgs)
	}()

	log.Println("Event consumer started")
	return nil
}

func (c *EventConsumer) consume(msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-c.shutdown:
			log.Println("Stopping event consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Println("Message channel closed, reconnecting...")
				time.Sleep(5 * time.Second)
				return
			}

			err := c.processMessage(msg)
			if err != nil {
				log.Printf("FAILED to process message - Exchange: %s, RoutingKey: %s, Error: %v",
					msg.Exchange, msg.RoutingKey, err)
				log.Printf("Failed message body: %s", string(msg.Body))

				// Ack anyway so a poison message does not requeue forever.
				if ackErr := msg.Ack(false); ackErr != nil {
					log.Printf("Error acknowledging failed message: %v", ackErr)
				}
			} else {
				if err := msg.Ack(false); err != nil {
					log.Printf("Error acknowledging successful message: %v", err)
				}
			}
		}
	}
}

func (c *EventConsumer) processMessage(msg amqp091.Delivery) error {
	log.Printf("Processing message from exchange '%s' with routing key: %s", msg.Exchange, msg.RoutingKey)

	switch msg.RoutingKey {
	case "user.registered", "user.updated":
		return c.handleUserUpserted(msg.Body)
	case "user.deactivated":
		return c.handleUserDeactivated(msg.Body)
	case "department.member_added":
		return c.handleMembershipChanged(msg.Body, true)
	case "department.member_removed":
		return c.handleMembershipChanged(msg.Body, false)
	default:
		log.Printf("Unknown routing key: %s from exchange: %s", msg.RoutingKey, msg.Exchange)
		return nil
	}
}

func (c *EventConsumer) handleUserUpserted(body []byte) error {
	var event UserEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal user event: %w", err)
	}

	userID, err := bson.ObjectIDFromHex(event.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", event.UserID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	role := event.Role
	if role == "" {
		role = models.RoleEmployee
	}

	if err := c.userRepo.Upsert(ctx, &models.PortalUser{
		ID:       userID,
		Username: event.Username,
		Email:    event.Email,
		Role:     role,
		IsActive: event.IsActive,
	}); err != nil {
		return err
	}

	// A role change alters the resolver's answers; drop the snapshot.
	if err := c.redisRepo.DeleteKey(ctx, repository.PermissionSnapshotKey(userID)); err != nil {
		log.Printf("Error invalidating snapshot for updated user %s: %s", event.UserID, err)
	}
	return nil
}

func (c *EventConsumer) handleUserDeactivated(body []byte) error {
	var event UserEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal user event: %w", err)
	}

	userID, err := bson.ObjectIDFromHex(event.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", event.UserID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.userRepo.SetActive(ctx, userID, false); err != nil {
		return err
	}

	revoked, err := c.grantRepo.DeactivateForEntity(ctx, models.EntityUser, userID)
	if err != nil {
		return err
	}
	if revoked > 0 {
		if _, err := c.auditRepo.Append(ctx, &models.AuditLogEntry{
			Actor:      userID,
			Action:     models.AuditRevoke,
			EntityType: models.EntityUser,
			EntityID:   userID,
			Notes:      fmt.Sprintf("retired %d grants after upstream user deactivation", revoked),
		}); err != nil {
			log.Printf("Error appending deactivation audit entry: %s", err)
		}
	}

	if err := c.redisRepo.DeleteKey(ctx, repository.PermissionSnapshotKey(userID)); err != nil {
		log.Printf("Error invalidating snapshot for deactivated user %s: %s", event.UserID, err)
	}

	log.Printf("User %s deactivated upstream, retired %d grants", event.UserID, revoked)
	return nil
}

func (c *EventConsumer) handleMembershipChanged(body []byte, added bool) error {
	var event DepartmentMembershipEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal membership event: %w", err)
	}

	userID, err := bson.ObjectIDFromHex(event.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", event.UserID, err)
	}
	departmentID, err := bson.ObjectIDFromHex(event.DepartmentID)
	if err != nil {
		return fmt.Errorf("invalid department id %q: %w", event.DepartmentID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if added {
		err = c.userRepo.AddDepartment(ctx, userID, departmentID)
	} else {
		err = c.userRepo.RemoveDepartment(ctx, userID, departmentID)
	}
	if err != nil {
		return err
	}

	// Membership moves inherited grants with it.
	if err := c.redisRepo.DeleteKey(ctx, repository.PermissionSnapshotKey(userID)); err != nil {
		log.Printf("Error invalidating snapshot for user %s: %s", event.UserID, err)
	}
	return nil
}

// Close stops the consumer and releases resources
func (c *EventConsumer) Close() error {
	close(c.shutdown)
	c.wg.Wait()

	var err error
	if c.channel != nil {
		err = c.channel.Close()
	}
	if c.conn != nil {
		err = c.conn.Close()
	}
	return err
}
