package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RegistryEventsChannel carries registry and cache events between instances
const RegistryEventsChannel = "registry:events"

// EventContextInvalidated asks peers to drop cached context entries
const EventContextInvalidated = "context_invalidated"

// PubSubService manages Redis pub/sub for cross-instance communication
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	handlers   map[string][]MessageHandler
	mu         sync.RWMutex
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// MessageHandler is a callback for handling pub/sub messages
type MessageHandler func(message *PubSubMessage)

// PubSubMessage represents a message sent via pub/sub
type PubSubMessage struct {
	Type       string                 `json:"type"`
	ModuleID   string                 `json:"moduleId,omitempty"`
	UserID     string                 `json:"userId,omitempty"`
	InstanceID string                 `json:"instanceId"` // Source instance ID
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewPubSubService creates a new pub/sub service
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		handlers:   make(map[string][]MessageHandler),
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID returns the id this instance stamps on published messages
func (s *PubSubService) InstanceID() string {
	return s.instanceID
}

// On registers a handler for a message type
func (s *PubSubService) On(msgType string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[msgType] = append(s.handlers[msgType], handler)
	log.Printf("📡 [PUBSUB] Registered handler for: %s", msgType)
}

// Start begins listening on the registry events channel
func (s *PubSubService) Start() error {
	s.pubsub = s.redis.Client().Subscribe(s.ctx, RegistryEventsChannel)

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", RegistryEventsChannel, err)
	}

	s.wg.Add(1)
	go s.processMessages()

	log.Printf("✅ [PUBSUB] Started listening for registry events (instance: %s)", s.instanceID)
	return nil
}

// processMessages handles incoming pub/sub messages
func (s *PubSubService) processMessages() {
	defer s.wg.Done()
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handlePayload([]byte(msg.Payload))
		}
	}
}

// handlePayload decodes one message and dispatches it to its handlers
func (s *PubSubService) handlePayload(payload []byte) {
	var message PubSubMessage
	if err := json.Unmarshal(payload, &message); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message: %v", err)
		return
	}

	// Skip messages from this instance (avoid loops)
	if message.InstanceID == s.instanceID {
		return
	}

	s.mu.RLock()
	handlers := s.handlers[message.Type]
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(&message)
	}
}

// Publish sends an event to every other instance
func (s *PubSubService) Publish(ctx context.Context, message *PubSubMessage) error {
	message.InstanceID = s.instanceID

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return s.redis.Publish(ctx, RegistryEventsChannel, data)
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	var err error
	if s.pubsub != nil {
		err = s.pubsub.Close()
	}
	s.wg.Wait()
	return err
}
