package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
)

const globalKey = "*"

type Event struct {
	JobID     string
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

// StatusPayload is the JSON body of a status event.
type StatusPayload struct {
	Status   domain.JobStatus   `json:"status"`
	Stage    string             `json:"stage,omitempty"`
	Progress int                `json:"progress"`
	Kind     domain.FailureKind `json:"kind,omitempty"`
	Message  string             `json:"message,omitempty"`
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // Key: JobID, or "*" for every job
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific job
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[jobID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}

	return ch, unsub
}

// SubscribeGlobal receives events of every job.
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	return b.Subscribe(globalKey)
}

// Publish sends an event to all subscribers of the job and to global subscribers.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subs[e.JobID], e)
	if e.JobID != globalKey {
		b.deliver(b.subs[globalKey], e)
	}
}

func (b *EventBus) deliver(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			// If channel is full, drop event to prevent blocking application
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID)
		}
	}
}

// PublishStatus encodes a StatusPayload and publishes it.
func (b *EventBus) PublishStatus(id domain.JobID, p StatusPayload) {
	data, err := json.Marshal(p)
	if err != nil {
		b.logger.Error("failed to encode status event", "job_id", id, "error", err)
		return
	}
	b.Publish(Event{
		JobID:     string(id),
		Type:      EventTypeStatus,
		Data:      string(data),
		Timestamp: time.Now().UnixMilli(),
	})
}
