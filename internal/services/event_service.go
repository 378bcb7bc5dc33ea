package services

import (
	"context"
	"log"
	"time"

	"power-backend/internal/models"
)

// EventSink receives device events. Implementations must be safe to call from
// the EventService goroutine only; no concurrent calls are made.
type EventSink interface {
	Name() string
	WriteEvent(ctx context.Context, ev *models.DeviceEvent) error
}

// EventServiceConfig holds configuration for the event service
type EventServiceConfig struct {
	ChannelSize  int
	WriteTimeout time.Duration
	// OnDrop is called when the buffer is full and an event is discarded. Optional.
	OnDrop func(ev models.DeviceEvent)
	// OnSinkError is called when a sink rejects an event. Optional.
	OnSinkError func(sink string, err error)
}

// DefaultEventServiceConfig returns default configuration
func DefaultEventServiceConfig() EventServiceConfig {
	return EventServiceConfig{
		ChannelSize:  256,
		WriteTimeout: 5 * time.Second,
	}
}

// EventService fans device events out to every configured sink
type EventService struct {
	sinks  []EventSink
	config EventServiceConfig

	EventChan chan *models.DeviceEvent
}

// NewEventService creates a new event service
func NewEventService(config EventServiceConfig, sinks ...EventSink) *EventService {
	defaults := DefaultEventServiceConfig()
	if config.ChannelSize <= 0 {
		config.ChannelSize = defaults.ChannelSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	return &EventService{
		sinks:     sinks,
		config:    config,
		EventChan: make(chan *models.DeviceEvent, config.ChannelSize),
	}
}

// Publish queues an event without blocking. A full buffer drops the event.
func (s *EventService) Publish(ev models.DeviceEvent) {
	select {
	case s.EventChan <- &ev:
	default:
		log.Printf("Warning: Event channel full, dropping %s event for %s", ev.Type, ev.DeviceID)
		if s.config.OnDrop != nil {
			s.config.OnDrop(ev)
		}
	}
}

// Start delivers events until the context is cancelled, then drains whatever
// is still buffered
func (s *EventService) Start(ctx context.Context) {
	log.Printf("EventService: Starting with %d sinks...", len(s.sinks))

	for {
		select {
		case <-ctx.Done():
			log.Println("EventService: Context cancelled, draining buffered events...")
			s.drain()
			log.Println("EventService: Shutdown complete")
			return
		case ev := <-s.EventChan:
			s.deliver(ctx, ev)
		}
	}
}

func (s *EventService) drain() {
	for {
		select {
		case ev := <-s.EventChan:
			s.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (s *EventService) deliver(ctx context.Context, ev *models.DeviceEvent) {
	for _, sink := range s.sinks {
		writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
		err := sink.WriteEvent(writeCtx, ev)
		cancel()
		if err != nil {
			log.Printf("EventService: Error writing %s event to %s: %v", ev.Type, sink.Name(), err)
			if s.config.OnSinkError != nil {
				s.config.OnSinkError(sink.Name(), err)
			}
		}
	}
}
