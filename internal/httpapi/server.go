// Package httpapi exposes the booking platform's thin HTTP surface. Handlers
// create primary records and hand slow work to the job queue.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/store"
)

type Appointments interface {
	Create(ctx context.Context, a *store.Appointment) error
	Get(ctx context.Context, id string) (*store.Appointment, error)
}

type Payments interface {
	Create(ctx context.Context, p *store.Payment) error
	GetByTxRef(ctx context.Context, txRef string) (*store.Payment, error)
}

type Articles interface {
	List(ctx context.Context, f store.ArticleFilter) ([]store.Article, error)
	Count(ctx context.Context) (int64, error)
}

type OTPs interface {
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) (bool, error)
}

// Producer is implemented by jobs.Producer.
type Producer interface {
	EnqueueMeetingLinkJob(ctx context.Context, appointmentID, title string) (string, error)
	EnqueueOTPEmailJob(ctx context.Context, email, code string) (string, error)
	EnqueueVerifyPaymentJob(ctx context.Context, txRef string) (string, error)
	EnqueueScrapeJob(ctx context.Context, sources ...string) (string, error)
}

// Jobs is implemented by asyncx.Client.
type Jobs interface {
	Status(ctx context.Context, id string) (*asyncx.JobStatus, error)
	List(ctx context.Context, f asyncx.ListFilter) ([]asyncx.JobStatus, error)
	Stats(ctx context.Context, topic string) (*asyncx.Stats, error)
	Requeue(ctx context.Context, id string) error
	Ping() error
}

// Pinger reports database health. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Appointments  Appointments
	Payments      Payments
	Articles      Articles
	OTPs          OTPs
	Producer      Producer
	Jobs          Jobs
	DB            Pinger
	WebhookSecret string
	Logger        *zap.Logger
}

type API struct {
	d   Deps
	log *zap.Logger
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &API{d: d, log: log.Named("httpapi")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/appointments", a.createAppointment)
		r.Get("/appointments/{id}/meeting-link", a.getMeetingLink)
		r.Post("/appointments/{id}/meeting-link", a.requestMeetingLink)

		r.Post("/auth/otp", a.requestOTP)
		r.Post("/auth/otp/verify", a.verifyOTP)

		r.Post("/payments", a.createPayment)
		r.Post("/webhooks/chapa", a.chapaWebhook)

		r.Get("/articles", a.listArticles)

		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/stats", a.jobStats)
		r.Get("/jobs/{id}", a.jobStatus)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/scrape", a.triggerScrape)
			r.Post("/jobs/{id}/requeue", a.requeueJob)
		})
	})
	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queueError maps an enqueue failure to a response for endpoints whose
// primary action is the job itself.
func (a *API) queueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, asyncx.ErrQueueUnavailable):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable, try again shortly")
	default:
		a.log.Error("enqueue", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "queue": "ok"}
	status := http.StatusOK
	if a.d.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.d.DB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if err := a.d.Jobs.Ping(); err != nil {
		checks["queue"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "checks": checks})
}
