package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"apx-claims-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventClaimCompleted is emitted after a claim is committed to the ledger
	EventClaimCompleted EventType = "claim.completed"
	// EventAvailabilityChecked is emitted when a user's claims are previewed
	EventAvailabilityChecked EventType = "availability.checked"
	// EventProgramUpdated is emitted when an admin replaces a reward program
	EventProgramUpdated EventType = "program.updated"
	// EventStreaksSwept is emitted after a lapsed streak sweep
	EventStreaksSwept EventType = "streaks.swept"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// ClaimCompletedData contains data for claim completed events.
type ClaimCompletedData struct {
	Receipt models.ClaimReceipt
}

// AvailabilityCheckedData contains data for availability checked events.
type AvailabilityCheckedData struct {
	Address   string
	Source    string
	Claims    []models.CadenceAvailability
	CheckedAt time.Time
}

// ProgramUpdatedData contains data for program updated events.
type ProgramUpdatedData struct {
	Program models.Program
}

// StreaksSweptData contains data for streak sweep events.
type StreaksSweptData struct {
	Reset map[string]int64 // per cadence
	At    time.Time
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run in
// their own goroutines and never see the request context's cancellation.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled || len(m.handlers[eventType]) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	ctx = context.WithoutCancel(ctx)
	for _, handler := range m.handlers[eventType] {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil {
				log.WithError(err).WithField("event", string(event.Type)).Warn("event handler failed")
			}
		}(handler)
	}
}

// PublishClaimCompleted publishes a claim completed event.
func (m *Manager) PublishClaimCompleted(ctx context.Context, receipt models.ClaimReceipt) {
	m.Publish(ctx, EventClaimCompleted, ClaimCompletedData{Receipt: receipt})
}

// PublishAvailabilityChecked publishes an availability checked event.
func (m *Manager) PublishAvailabilityChecked(ctx context.Context, response models.AvailabilityResponse) {
	m.Publish(ctx, EventAvailabilityChecked, AvailabilityCheckedData{
		Address:   response.Address,
		Source:    response.Source,
		Claims:    response.Claims,
		CheckedAt: response.CheckedAt,
	})
}

// PublishProgramUpdated publishes a program updated event.
func (m *Manager) PublishProgramUpdated(ctx context.Context, program models.Program) {
	m.Publish(ctx, EventProgramUpdated, ProgramUpdatedData{Program: program})
}

// PublishStreaksSwept publishes a streak sweep event.
func (m *Manager) PublishStreaksSwept(ctx context.Context, reset map[string]int64, at time.Time) {
	m.Publish(ctx, EventStreaksSwept, StreaksSweptData{Reset: reset, At: at})
}

// Shutdown stops publishing and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
