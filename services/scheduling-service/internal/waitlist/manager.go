package waitlist

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bookline/schedcore/services/scheduling-service/internal/booking"
	"github.com/bookline/schedcore/services/scheduling-service/internal/clock"
	"github.com/bookline/schedcore/services/scheduling-service/internal/events"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/observability"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
)

// Store persists waitlist entries. ListWaiting returns entries in
// registration order, oldest first. CancelEntry withdraws a waiting entry
// and reports anything no longer waiting as not found.
type Store interface {
	CreateEntry(ctx context.Context, entry model.WaitlistEntry) error
	ListWaiting(ctx context.Context, businessID, staffID, serviceID string) ([]model.WaitlistEntry, error)
	SetEntryStatus(ctx context.Context, entryID string, status model.WaitlistStatus, evts []outbox.Event) error
	CancelEntry(ctx context.Context, businessID, entryID string) error
}

// Manager registers customers for slots that are currently full and promotes
// the oldest matching entry when a slot frees. Promotion books through the
// regular booking path, so a promoted entry can still lose the slot to a
// direct booking that got there first; the next matching entry is tried.
type Manager struct {
	store   Store
	booker  *booking.Manager
	clk     clock.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewManager(store Store, booker *booking.Manager, clk clock.Clock, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	return &Manager{store: store, booker: booker, clk: clk, metrics: metrics, logger: logger}
}

type RegisterRequest struct {
	BusinessID string
	StaffID    string
	ServiceID  string
	CustomerID string
	RangeStart time.Time
	RangeEnd   time.Time
}

// Register adds a waiting entry for any slot inside [RangeStart, RangeEnd).
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (model.WaitlistEntry, error) {
	now := m.clk.Now()
	if !req.RangeEnd.After(req.RangeStart) {
		return model.WaitlistEntry{}, model.Invalid("waitlist range end must be after range start")
	}
	if !req.RangeEnd.After(now) {
		return model.WaitlistEntry{}, model.Invalid("waitlist range is entirely in the past")
	}

	entry := model.WaitlistEntry{
		ID:           uuid.NewString(),
		BusinessID:   req.BusinessID,
		StaffID:      req.StaffID,
		ServiceID:    req.ServiceID,
		CustomerID:   req.CustomerID,
		RangeStart:   req.RangeStart,
		RangeEnd:     req.RangeEnd,
		RegisteredAt: now,
		Status:       model.WaitlistWaiting,
	}
	if err := m.store.CreateEntry(ctx, entry); err != nil {
		return model.WaitlistEntry{}, err
	}
	m.logger.Info("waitlist entry registered",
		"entry_id", entry.ID,
		"staff_id", entry.StaffID,
		"service_id", entry.ServiceID,
	)
	return entry, nil
}

// PromoteFor reacts to a freed slot. Entries whose desired range has lapsed
// are expired in passing. Matching entries are tried oldest first; every
// failed attempt leaves its entry Waiting and moves on to the next-oldest
// match, including a slot_taken race lost to a direct booking.
func (m *Manager) PromoteFor(ctx context.Context, freed events.SlotFreedMessage) error {
	slotStart, err := time.Parse(time.RFC3339, freed.StartsAt)
	if err != nil {
		return model.Invalid("slot.freed starts_at: %v", err)
	}

	entries, err := m.store.ListWaiting(ctx, freed.BusinessID, freed.StaffID, freed.ServiceID)
	if err != nil {
		return err
	}

	now := m.clk.Now()
	for _, entry := range entries {
		if !entry.RangeEnd.After(now) {
			if err := m.store.SetEntryStatus(ctx, entry.ID, model.WaitlistExpired, nil); err != nil {
				return err
			}
			m.metrics.RecordExpiry()
			m.logger.Info("waitlist entry expired", "entry_id", entry.ID)
			continue
		}
		if slotStart.Before(entry.RangeStart) || !slotStart.Before(entry.RangeEnd) {
			continue
		}

		appt, bookErr := m.booker.AttemptBook(ctx, booking.BookRequest{
			BusinessID: entry.BusinessID,
			ServiceID:  entry.ServiceID,
			StaffID:    entry.StaffID,
			CustomerID: entry.CustomerID,
			Start:      slotStart,
		})
		if bookErr != nil {
			if reason, ok := model.ConflictReasonOf(bookErr); ok && reason == model.ReasonSlotTaken {
				m.logger.Info("freed slot rebooked before promotion", "entry_id", entry.ID)
			} else {
				m.logger.Warn("waitlist promotion attempt failed",
					"entry_id", entry.ID, "err", bookErr)
			}
			continue
		}

		evt := events.NewWaitlistPromoted(entry, appt)
		if err := m.store.SetEntryStatus(ctx, entry.ID, model.WaitlistPromoted, []outbox.Event{evt}); err != nil {
			return err
		}
		m.metrics.RecordPromotion()
		m.logger.Info("waitlist entry promoted",
			"entry_id", entry.ID,
			"appointment_id", appt.ID,
		)
		return nil
	}
	return nil
}

// Cancel withdraws a waiting entry. Entries that were already promoted,
// expired, or cancelled read as not found.
func (m *Manager) Cancel(ctx context.Context, businessID, entryID string) error {
	if err := m.store.CancelEntry(ctx, businessID, entryID); err != nil {
		return err
	}
	m.logger.Info("waitlist entry cancelled", "entry_id", entryID)
	return nil
}
