package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/availability"
	"github.com/bookline/schedcore/services/scheduling-service/internal/booking"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/policy"
	"github.com/bookline/schedcore/services/scheduling-service/internal/recurrence"
	"github.com/bookline/schedcore/services/scheduling-service/internal/storage"
	"github.com/bookline/schedcore/services/scheduling-service/internal/waitlist"
	"github.com/bookline/schedcore/services/scheduling-service/internal/workinghours"
)

type SchedulingHandler struct {
	booking   *booking.Manager
	recurring *recurrence.Scheduler
	waitlist  *waitlist.Manager
	index     *availability.Index
	registry  *workinghours.Registry
	store     booking.Store
	idem      *storage.IdempotencyRepository // nil disables replay protection
	policy    policy.Provider
	logger    *slog.Logger
}

func NewSchedulingHandler(
	bookingMgr *booking.Manager,
	recurring *recurrence.Scheduler,
	waitlistMgr *waitlist.Manager,
	index *availability.Index,
	registry *workinghours.Registry,
	store booking.Store,
	idem *storage.IdempotencyRepository,
	policyProvider policy.Provider,
	logger *slog.Logger,
) *SchedulingHandler {
	return &SchedulingHandler{
		booking:   bookingMgr,
		recurring: recurring,
		waitlist:  waitlistMgr,
		index:     index,
		registry:  registry,
		store:     store,
		idem:      idem,
		policy:    policyProvider,
		logger:    logger,
	}
}

func (h *SchedulingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appointments", h.Create)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/recurring", h.CreateRecurring)
	mux.HandleFunc("/api/v1/availability", h.Availability)
	mux.HandleFunc("/api/v1/waitlist", h.WaitlistRegister)
	mux.HandleFunc("/api/v1/waitlist/cancel", h.WaitlistCancel)
}

type createAppointmentRequest struct {
	BusinessID string `json:"business_id"`
	ServiceID  string `json:"service_id"`
	StaffID    string `json:"staff_id"`
	CustomerID string `json:"customer_id"`
	StartTime  string `json:"start_time"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		AppointmentID: a.ID,
		StaffID:       a.StaffID,
		ServiceID:     a.ServiceID,
		StartTime:     a.Start.UTC().Format(time.RFC3339),
		EndTime:       a.End.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
	}
}

func (h *SchedulingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.BusinessID == "" || req.ServiceID == "" || req.StaffID == "" || req.CustomerID == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	if h.idem != nil && idempotencyKey != "" {
		tx, err := h.idem.Begin(ctx)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()

		rec, done, err := h.idem.Claim(ctx, tx, req.BusinessID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if done {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}

		status, body := h.attempt(w, r, req, start)
		if status == 0 {
			return
		}
		if err := h.idem.Finalize(ctx, tx, req.BusinessID, idempotencyKey, appointmentIDOf(body), status, body); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
		if err := tx.Commit(ctx); err != nil {
			http.Error(w, "failed to commit", http.StatusInternalServerError)
			return
		}
		writeRaw(w, status, body)
		return
	}

	status, body := h.attempt(w, r, req, start)
	if status != 0 {
		writeRaw(w, status, body)
	}
}

// attempt runs one booking and renders the outcome to a status and JSON
// body. A zero status means the response was already written (transient
// failures that must not be replayed from the idempotency store).
func (h *SchedulingHandler) attempt(w http.ResponseWriter, r *http.Request, req createAppointmentRequest, start time.Time) (int, []byte) {
	appt, err := h.booking.AttemptBook(r.Context(), booking.BookRequest{
		BusinessID: req.BusinessID,
		ServiceID:  req.ServiceID,
		StaffID:    req.StaffID,
		CustomerID: req.CustomerID,
		Start:      start,
	})
	if err != nil {
		if errors.Is(err, model.ErrBusy) || !isTerminal(err) {
			h.writeError(w, err)
			return 0, nil
		}
		return renderError(err)
	}
	body, _ := json.Marshal(toAppointmentResponse(appt))
	return http.StatusCreated, body
}

type cancelAppointmentRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
}

type cancelAppointmentResponse struct {
	appointmentResponse
	Policy policy.CancellationPolicy `json:"cancellation_policy"`
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, err := h.booking.Cancel(ctx, req.BusinessID, req.AppointmentID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := cancelAppointmentResponse{appointmentResponse: toAppointmentResponse(appt)}
	if h.policy != nil {
		svc, svcErr := h.store.GetService(ctx, req.BusinessID, appt.ServiceID)
		if svcErr == nil {
			if pol, polErr := h.policy.CancellationPolicy(ctx, req.BusinessID, svc); polErr == nil {
				resp.Policy = pol
			} else {
				h.logger.Warn("cancellation policy fetch failed", "err", polErr)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type rescheduleRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	NewStartTime  string `json:"new_start_time"`
}

func (h *SchedulingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.NewStartTime)
	if err != nil {
		http.Error(w, "invalid new_start_time", http.StatusBadRequest)
		return
	}

	appt, err := h.booking.Reschedule(r.Context(), req.BusinessID, req.AppointmentID, newStart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type recurringRequest struct {
	createAppointmentRequest
	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
	Count     int    `json:"count"`
	Until     string `json:"until"`
}

type occurrenceItem struct {
	StartTime     string `json:"start_time"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Error         string `json:"error,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type recurringResponse struct {
	Booked      int              `json:"booked"`
	Failed      int              `json:"failed"`
	Occurrences []occurrenceItem `json:"occurrences"`
}

func (h *SchedulingHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req recurringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.BusinessID == "" || req.ServiceID == "" || req.StaffID == "" || req.CustomerID == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	rule := recurrence.Rule{
		Frequency: recurrence.Frequency(req.Frequency),
		Interval:  req.Interval,
		Count:     req.Count,
	}
	if req.Until != "" {
		until, err := time.Parse(time.RFC3339, req.Until)
		if err != nil {
			http.Error(w, "invalid until", http.StatusBadRequest)
			return
		}
		rule.Until = until
	}

	results, err := h.recurring.ScheduleAll(r.Context(), booking.BookRequest{
		BusinessID: req.BusinessID,
		ServiceID:  req.ServiceID,
		StaffID:    req.StaffID,
		CustomerID: req.CustomerID,
		Start:      start,
	}, rule)
	if err != nil && len(results) == 0 {
		h.writeError(w, err)
		return
	}

	resp := recurringResponse{Occurrences: make([]occurrenceItem, 0, len(results))}
	for _, res := range results {
		item := occurrenceItem{StartTime: res.Start.UTC().Format(time.RFC3339)}
		if res.Err != nil {
			resp.Failed++
			item.Error = res.Err.Error()
			if reason, ok := model.ConflictReasonOf(res.Err); ok {
				item.Reason = string(reason)
			}
		} else {
			resp.Booked++
			item.AppointmentID = res.Appointment.ID
		}
		resp.Occurrences = append(resp.Occurrences, item)
	}

	status := http.StatusCreated
	if resp.Booked == 0 {
		status = http.StatusConflict
	} else if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func (h *SchedulingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := q.Get("business_id")
	staffID := q.Get("staff_id")
	serviceID := q.Get("service_id")
	if businessID == "" || staffID == "" || serviceID == "" {
		http.Error(w, "business_id, staff_id and service_id required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	staff, err := h.registry.ResolveStaff(ctx, businessID, staffID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	svc, err := h.store.GetService(ctx, businessID, serviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	slots, err := h.index.Slots(ctx, staff, svc, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

type waitlistRegisterRequest struct {
	BusinessID string `json:"business_id"`
	StaffID    string `json:"staff_id"`
	ServiceID  string `json:"service_id"`
	CustomerID string `json:"customer_id"`
	RangeStart string `json:"range_start"`
	RangeEnd   string `json:"range_end"`
}

func (h *SchedulingHandler) WaitlistRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req waitlistRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.BusinessID == "" || req.StaffID == "" || req.ServiceID == "" || req.CustomerID == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	rangeStart, err := time.Parse(time.RFC3339, req.RangeStart)
	if err != nil {
		http.Error(w, "invalid range_start", http.StatusBadRequest)
		return
	}
	rangeEnd, err := time.Parse(time.RFC3339, req.RangeEnd)
	if err != nil {
		http.Error(w, "invalid range_end", http.StatusBadRequest)
		return
	}

	entry, err := h.waitlist.Register(r.Context(), waitlist.RegisterRequest{
		BusinessID: req.BusinessID,
		StaffID:    req.StaffID,
		ServiceID:  req.ServiceID,
		CustomerID: req.CustomerID,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"entry_id": entry.ID,
		"status":   string(entry.Status),
	})
}

type waitlistCancelRequest struct {
	BusinessID string `json:"business_id"`
	EntryID    string `json:"entry_id"`
}

func (h *SchedulingHandler) WaitlistCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req waitlistCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.BusinessID == "" || req.EntryID == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	if err := h.waitlist.Cancel(r.Context(), req.BusinessID, req.EntryID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"entry_id": req.EntryID,
		"status":   string(model.WaitlistCancelled),
	})
}

// isTerminal reports whether the error is a stable verdict worth storing for
// idempotent replay, as opposed to a transient failure the client should
// retry.
func isTerminal(err error) bool {
	return model.IsConflict(err) || model.IsInvalid(err) || model.IsNotFound(err) || model.IsInvalidState(err)
}

func renderError(err error) (int, []byte) {
	payload := map[string]string{"error": err.Error()}
	status := http.StatusInternalServerError
	switch {
	case model.IsInvalid(err):
		status = http.StatusBadRequest
	case model.IsNotFound(err):
		status = http.StatusNotFound
	case model.IsConflict(err):
		status = http.StatusConflict
		if reason, ok := model.ConflictReasonOf(err); ok {
			payload["reason"] = string(reason)
		}
	case model.IsInvalidState(err):
		status = http.StatusConflict
	}
	body, _ := json.Marshal(payload)
	return status, body
}

func (h *SchedulingHandler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrBusy) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "calendar busy, retry", http.StatusServiceUnavailable)
		return
	}
	if !isTerminal(err) {
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status, body := renderError(err)
	writeRaw(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func appointmentIDOf(body []byte) string {
	var resp appointmentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.AppointmentID
}
