package model

import "time"

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// Occupies reports whether an appointment in this status blocks its time
// range. Only scheduled rows do; completed and no-show appointments vacate
// their slot for rebooking.
func (s AppointmentStatus) Occupies() bool {
	return s == AppointmentScheduled
}

type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistPromoted  WaitlistStatus = "promoted"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// Staff is a bookable member of a business. Timezone is an IANA name; all
// slot arithmetic for this staff member happens in that location.
type Staff struct {
	ID         string
	BusinessID string
	Name       string
	Timezone   string
	ServiceIDs []string
	IsActive   bool
}

// CanPerform reports whether the staff member offers the given service.
func (s Staff) CanPerform(serviceID string) bool {
	for _, id := range s.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Service is something a business sells in fixed-length appointments.
// BufferMinutes is mandatory idle time after each instance before the next
// slot may start. CancelMinNoticeHours and RefundTier describe the business's
// cancellation policy; the engine carries them on events but does not enforce
// them.
type Service struct {
	ID                  string
	BusinessID          string
	Name                string
	DurationMinutes     int
	BufferMinutes       int
	MaxAdvanceDays      int
	CancelMinNoticeHours int
	RefundTier          string
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

func (s Service) Buffer() time.Duration {
	return time.Duration(s.BufferMinutes) * time.Minute
}

// Appointment is a committed reservation. End is always Start plus the
// service duration at booking time; BufferMinutes is snapshotted from the
// service so later service edits do not move existing exclusion ranges.
type Appointment struct {
	ID            string
	BusinessID    string
	ServiceID     string
	StaffID       string
	CustomerID    string
	Start         time.Time
	End           time.Time
	BufferMinutes int
	Status        AppointmentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BlockedUntil is the instant until which the appointment occupies the
// staff member's calendar, trailing buffer included.
func (a Appointment) BlockedUntil() time.Time {
	return a.End.Add(time.Duration(a.BufferMinutes) * time.Minute)
}

// WorkingHour is one row of a staff member's weekly template: an open block
// on a weekday, in minutes from local midnight. Several rows per weekday
// model breaks (e.g. 09:00-12:00 and 13:00-17:00).
type WorkingHour struct {
	StaffID     string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// DateException replaces the weekly template for one calendar date. A closed
// exception (no intervals) means the staff member is unavailable that day.
type DateException struct {
	StaffID   string
	Date      string // YYYY-MM-DD in the staff timezone
	Closed    bool
	Intervals []MinuteRange
}

// MinuteRange is an open block in minutes from local midnight.
type MinuteRange struct {
	StartMinute int
	EndMinute   int
}

// WaitlistEntry is a customer waiting for any slot for (staff, service)
// inside the desired range. RegisteredAt defines promotion order.
type WaitlistEntry struct {
	ID           string
	BusinessID   string
	StaffID      string
	ServiceID    string
	CustomerID   string
	RangeStart   time.Time
	RangeEnd     time.Time
	RegisteredAt time.Time
	Status       WaitlistStatus
}
