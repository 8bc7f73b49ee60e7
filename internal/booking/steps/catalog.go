package steps

import (
	"context"
	"fmt"
	"sync"
)

// Service is one bookable service.
type Service struct {
	ID    string
	Name  string
	Price float64
}

// Slot is one bookable appointment window.
type Slot struct {
	ID    string
	Label string
}

// ServiceCatalog lists bookable services. Backed by the garage's ERP in
// production; a static catalog ships for local runs and tests.
type ServiceCatalog interface {
	List(ctx context.Context) ([]Service, error)
}

// SlotProvider lists open appointment windows for a service, optionally
// narrowed by a normalised date preference token.
type SlotProvider interface {
	Available(ctx context.Context, serviceID, datePreference string) ([]Slot, error)
}

// BookingRequest carries everything the backend needs to create a booking.
type BookingRequest struct {
	ConversationID string
	CustomerName   string
	Phone          string
	VehicleBrand   string
	ServiceID      string
	SlotID         string
	TotalPrice     float64
}

// BookingBackend creates bookings. CreateBooking must be idempotent per
// conversation: retrying a turn must not create a duplicate booking.
type BookingBackend interface {
	CreateBooking(ctx context.Context, req BookingRequest) (string, error)
}

// StaticCatalog serves a fixed service list.
type StaticCatalog struct {
	Services []Service
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{Services: []Service{
		{ID: "svc-basic", Name: "Basic service (₹1,999)", Price: 1999},
		{ID: "svc-full", Name: "Full service (₹3,499)", Price: 3499},
		{ID: "svc-ac", Name: "AC check & top-up (₹1,299)", Price: 1299},
		{ID: "svc-wash", Name: "Wash & detailing (₹899)", Price: 899},
	}}
}

func (c *StaticCatalog) List(context.Context) ([]Service, error) {
	return c.Services, nil
}

// StaticSlots serves a fixed slot grid regardless of service.
type StaticSlots struct {
	Slots []Slot
}

func NewStaticSlots() *StaticSlots {
	return &StaticSlots{Slots: []Slot{
		{ID: "slot-1", Label: "Tomorrow, 10:00–11:00"},
		{ID: "slot-2", Label: "Tomorrow, 15:00–16:00"},
		{ID: "slot-3", Label: "Day after, 10:00–11:00"},
	}}
}

func (s *StaticSlots) Available(context.Context, string, string) ([]Slot, error) {
	return s.Slots, nil
}

// MemoryBackend records bookings in memory, idempotent per conversation.
type MemoryBackend struct {
	mu       sync.Mutex
	byConv   map[string]string
	sequence int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{byConv: map[string]string{}}
}

func (b *MemoryBackend) CreateBooking(_ context.Context, req BookingRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.byConv[req.ConversationID]; ok {
		return id, nil
	}
	b.sequence++
	id := fmt.Sprintf("SRV-%04d", b.sequence)
	b.byConv[req.ConversationID] = id
	return id, nil
}

var (
	_ ServiceCatalog = (*StaticCatalog)(nil)
	_ SlotProvider   = (*StaticSlots)(nil)
	_ BookingBackend = (*MemoryBackend)(nil)
)
