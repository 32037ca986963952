package events

import (
	"encoding/json"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
)

// Topic names double as event types; the publisher routes each event to the
// topic matching its EventType.
const (
	AppointmentConfirmed = "scheduling.appointment.confirmed.v1"
	AppointmentCancelled = "scheduling.appointment.cancelled.v1"
	SlotFreed            = "scheduling.slot.freed.v1"
	WaitlistPromoted     = "scheduling.waitlist.promoted.v1"
)

type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	CustomerID    string `json:"customer_id"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
}

type cancelledPayload struct {
	appointmentPayload
	CancelMinNoticeHours int    `json:"cancel_min_notice_hours"`
	RefundTier           string `json:"refund_tier"`
	NoticeGiven          string `json:"notice_given"`
}

type slotFreedPayload struct {
	BusinessID string `json:"business_id"`
	StaffID    string `json:"staff_id"`
	ServiceID  string `json:"service_id"`
	StartsAt   string `json:"starts_at"`
	EndsAt     string `json:"ends_at"`
}

type waitlistPromotedPayload struct {
	EntryID       string `json:"entry_id"`
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	CustomerID    string `json:"customer_id"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
}

func appointmentBody(a model.Appointment) appointmentPayload {
	return appointmentPayload{
		AppointmentID: a.ID,
		BusinessID:    a.BusinessID,
		StaffID:       a.StaffID,
		ServiceID:     a.ServiceID,
		CustomerID:    a.CustomerID,
		StartsAt:      a.Start.UTC().Format(time.RFC3339),
		EndsAt:        a.End.UTC().Format(time.RFC3339),
	}
}

func NewAppointmentConfirmed(a model.Appointment) outbox.Event {
	payload, _ := json.Marshal(appointmentBody(a))
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     AppointmentConfirmed,
		Payload:       payload,
	}
}

// NewAppointmentCancelled stamps the service's cancellation policy and the
// notice the customer actually gave so downstream billing can pick a refund
// tier without a lookup.
func NewAppointmentCancelled(a model.Appointment, svc model.Service, now time.Time) outbox.Event {
	body := cancelledPayload{
		appointmentPayload:   appointmentBody(a),
		CancelMinNoticeHours: svc.CancelMinNoticeHours,
		RefundTier:           svc.RefundTier,
		NoticeGiven:          a.Start.Sub(now).Truncate(time.Minute).String(),
	}
	payload, _ := json.Marshal(body)
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     AppointmentCancelled,
		Payload:       payload,
	}
}

// NewSlotFreed is keyed by staff so the waitlist worker processes frees for
// one calendar in order.
func NewSlotFreed(a model.Appointment) outbox.Event {
	body := slotFreedPayload{
		BusinessID: a.BusinessID,
		StaffID:    a.StaffID,
		ServiceID:  a.ServiceID,
		StartsAt:   a.Start.UTC().Format(time.RFC3339),
		EndsAt:     a.End.UTC().Format(time.RFC3339),
	}
	payload, _ := json.Marshal(body)
	return outbox.Event{
		AggregateType: "staff",
		AggregateID:   a.StaffID,
		EventType:     SlotFreed,
		Payload:       payload,
	}
}

func NewWaitlistPromoted(entry model.WaitlistEntry, appt model.Appointment) outbox.Event {
	body := waitlistPromotedPayload{
		EntryID:       entry.ID,
		AppointmentID: appt.ID,
		BusinessID:    entry.BusinessID,
		StaffID:       entry.StaffID,
		ServiceID:     entry.ServiceID,
		CustomerID:    entry.CustomerID,
		StartsAt:      appt.Start.UTC().Format(time.RFC3339),
		EndsAt:        appt.End.UTC().Format(time.RFC3339),
	}
	payload, _ := json.Marshal(body)
	return outbox.Event{
		AggregateType: "waitlist_entry",
		AggregateID:   entry.ID,
		EventType:     WaitlistPromoted,
		Payload:       payload,
	}
}

// SlotFreedMessage is the consumer-side view of a slot.freed payload.
type SlotFreedMessage struct {
	BusinessID string `json:"business_id"`
	StaffID    string `json:"staff_id"`
	ServiceID  string `json:"service_id"`
	StartsAt   string `json:"starts_at"`
	EndsAt     string `json:"ends_at"`
}

func DecodeSlotFreed(raw []byte) (SlotFreedMessage, error) {
	var m SlotFreedMessage
	err := json.Unmarshal(raw, &m)
	return m, err
}
