package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/jobs"
	"github.com/mohans/yebragi/internal/otp"
	"github.com/mohans/yebragi/internal/payment"
	"github.com/mohans/yebragi/internal/store"
)

type createAppointmentRequest struct {
	PatientID   string    `json:"patient_id"`
	TherapistID string    `json:"therapist_id"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type jobAccepted struct {
	JobID string `json:"job_id"`
}

// createAppointment stores the appointment and enqueues link generation. The
// appointment is the primary record, so a queue failure only logs a warning;
// reconciliation enqueues the job later.
func (a *API) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.PatientID) == "" || strings.TrimSpace(req.TherapistID) == "" || req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "patient_id, therapist_id and scheduled_at are required")
		return
	}
	apt := &store.Appointment{
		PatientID:   req.PatientID,
		TherapistID: req.TherapistID,
		Title:       req.Title,
		ScheduledAt: req.ScheduledAt,
	}
	if err := a.d.Appointments.Create(r.Context(), apt); err != nil {
		a.log.Error("create appointment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"appointment": apt}
	jobID, err := a.d.Producer.EnqueueMeetingLinkJob(r.Context(), apt.ID, apt.Title)
	if err != nil {
		a.log.Warn("meeting link job not enqueued, reconciliation will retry",
			zap.String("appointment_id", apt.ID), zap.Error(err))
	} else {
		resp["job_id"] = jobID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) getMeetingLink(w http.ResponseWriter, r *http.Request) {
	apt, err := a.d.Appointments.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		a.log.Error("get appointment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if apt.MeetLink == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"appointment_id": apt.ID, "ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": apt.ID, "ready": true, "meet_link": *apt.MeetLink})
}

// requestMeetingLink enqueues link generation on demand. The handler is
// idempotent, so repeated requests are harmless.
func (a *API) requestMeetingLink(w http.ResponseWriter, r *http.Request) {
	apt, err := a.d.Appointments.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		a.log.Error("get appointment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	jobID, err := a.d.Producer.EnqueueMeetingLinkJob(r.Context(), apt.ID, apt.Title)
	if err != nil {
		a.queueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

type otpRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (a *API) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	code, err := a.d.OTPs.Issue(r.Context(), req.Email)
	if errors.Is(err, otp.ErrInvalidEmail) {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if err != nil {
		a.log.Error("issue otp", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	jobID, err := a.d.Producer.EnqueueOTPEmailJob(r.Context(), req.Email, code)
	if err != nil {
		a.queueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

func (a *API) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ok, err := a.d.OTPs.Verify(r.Context(), req.Email, req.OTP)
	switch {
	case errors.Is(err, otp.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid email")
	case errors.Is(err, otp.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too many attempts, request a new code")
	case err != nil:
		a.log.Error("verify otp", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	case !ok:
		writeError(w, http.StatusUnauthorized, "invalid or expired code")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
	}
}

type createPaymentRequest struct {
	AppointmentID string `json:"appointment_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	TxRef         string `json:"tx_ref"`
}

func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "appointment_id and a positive amount_cents are required")
		return
	}
	if _, err := a.d.Appointments.Get(r.Context(), req.AppointmentID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	} else if err != nil {
		a.log.Error("get appointment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	p := &store.Payment{
		AppointmentID: req.AppointmentID,
		TxRef:         req.TxRef,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
	}
	if err := a.d.Payments.Create(r.Context(), p); err != nil {
		a.log.Error("create payment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type chapaWebhook struct {
	TxRef string `json:"tx_ref"`
}

// chapaWebhook only learns which transaction changed. The payload status is
// never trusted; a verify job asks the provider.
func (a *API) chapaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	sig := r.Header.Get("Chapa-Signature")
	if sig == "" {
		sig = r.Header.Get("X-Chapa-Signature")
	}
	if err := payment.CheckWebhookSignature(a.d.WebhookSecret, body, sig); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	var hook chapaWebhook
	if err := json.Unmarshal(body, &hook); err != nil || strings.TrimSpace(hook.TxRef) == "" {
		writeError(w, http.StatusBadRequest, "tx_ref is required")
		return
	}
	if _, err := a.d.Payments.GetByTxRef(r.Context(), hook.TxRef); errors.Is(err, store.ErrNotFound) {
		// Acknowledge so the provider stops retrying a reference we never issued.
		a.log.Warn("webhook for unknown transaction", zap.String("tx_ref", hook.TxRef))
		writeJSON(w, http.StatusOK, map[string]string{"message": "unknown transaction ignored"})
		return
	} else if err != nil {
		a.log.Error("get payment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	jobID, err := a.d.Producer.EnqueueVerifyPaymentJob(r.Context(), hook.TxRef)
	if err != nil {
		a.queueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

type scrapeRequest struct {
	Sources []string `json:"sources"`
}

func (a *API) triggerScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, err := a.d.Producer.EnqueueScrapeJob(r.Context(), req.Sources...)
	if errors.Is(err, jobs.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.queueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

func (a *API) listArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	items, err := a.d.Articles.List(r.Context(), store.ArticleFilter{Source: q.Get("source"), Limit: limit, Offset: offset})
	if err != nil {
		a.log.Error("list articles", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	total, err := a.d.Articles.Count(r.Context())
	if err != nil {
		a.log.Error("count articles", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []store.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (a *API) jobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.d.Jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, asyncx.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		a.log.Error("job status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := a.d.Jobs.List(r.Context(), asyncx.ListFilter{
		Topic: q.Get("topic"),
		State: asyncx.State(q.Get("state")),
		Limit: limit,
	})
	if err != nil {
		a.log.Error("list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []asyncx.JobStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.d.Jobs.Stats(r.Context(), r.URL.Query().Get("topic"))
	if err != nil {
		a.log.Error("job stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) requeueJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.d.Jobs.Requeue(r.Context(), id)
	switch {
	case errors.Is(err, asyncx.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, asyncx.ErrNotRequeueable):
		writeError(w, http.StatusConflict, "only failed jobs can be requeued")
	case err != nil:
		a.queueError(w, err)
	default:
		writeJSON(w, http.StatusAccepted, jobAccepted{JobID: id})
	}
}
