package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/mail"
	"github.com/mohans/yebragi/internal/meet"
	"github.com/mohans/yebragi/internal/payment"
	"github.com/mohans/yebragi/internal/scraper"
	"github.com/mohans/yebragi/internal/store"
)

type AppointmentStore interface {
	Get(ctx context.Context, id string) (*store.Appointment, error)
	SetMeetLink(ctx context.Context, id, link string) (bool, error)
}

type PaymentStore interface {
	GetByTxRef(ctx context.Context, txRef string) (*store.Payment, error)
	SetStatus(ctx context.Context, txRef string, status store.PaymentStatus) (bool, error)
}

type ArticleStore interface {
	Upsert(ctx context.Context, a store.Article) error
}

type ScrapeRunStore interface {
	Start(ctx context.Context, jobID string) (*store.ScrapeRun, error)
	Finish(ctx context.Context, run *store.ScrapeRun) error
}

// Deps are the collaborators of the job handlers.
type Deps struct {
	Appointments AppointmentStore
	Payments     PaymentStore
	Articles     ArticleStore
	ScrapeRuns   ScrapeRunStore
	Meet         meet.Provider
	Verifier     payment.Verifier
	Mail         mail.Sender
	Scraper      *scraper.Scraper
	Sources      []scraper.Source
	AppName      string
	OTPTTL       time.Duration
	Logger       *zap.Logger
}

// Handlers executes jobs. Every handler checks the current state of its
// target record first so that a redelivered job has no further effect.
type Handlers struct {
	d   Deps
	log *zap.Logger
}

func NewHandlers(d Deps) *Handlers {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if d.AppName == "" {
		d.AppName = "Yebragi"
	}
	if d.OTPTTL <= 0 {
		d.OTPTTL = 10 * time.Minute
	}
	return &Handlers{d: d, log: log.Named("jobs.handler")}
}

// NewServeMux routes every topic to its handler.
func NewServeMux(h *Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TopicMeetingLink, h.HandleMeetingLink)
	mux.HandleFunc(TopicOTPEmail, h.HandleOTPEmail)
	mux.HandleFunc(TopicVerifyPayment, h.HandleVerifyPayment)
	mux.HandleFunc(TopicScrapeArticles, h.HandleScrape)
	return mux
}

func (h *Handlers) HandleMeetingLink(ctx context.Context, t *asynq.Task) error {
	var p MeetingLinkPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	log := h.log.With(zap.String("appointment_id", p.AppointmentID))

	apt, err := h.d.Appointments.Get(ctx, p.AppointmentID)
	if errors.Is(err, store.ErrNotFound) {
		return asyncx.Permanent(fmt.Errorf("appointment %s: %w", p.AppointmentID, err))
	}
	if err != nil {
		return err
	}
	if apt.Status == store.AppointmentCancelled {
		log.Info("appointment cancelled, no meeting link needed")
		asyncx.SetResult(ctx, map[string]string{"skipped": "appointment cancelled"})
		return nil
	}
	if apt.MeetLink != nil {
		log.Info("meeting link already set")
		asyncx.SetResult(ctx, map[string]string{"meet_link": *apt.MeetLink})
		return nil
	}

	title := p.Title
	if title == "" {
		title = apt.Title
	}
	link, err := h.d.Meet.CreateLink(ctx, apt.ID, title)
	if err != nil {
		return fmt.Errorf("create meeting link: %w", err)
	}
	set, err := h.d.Appointments.SetMeetLink(ctx, apt.ID, link)
	if err != nil {
		return err
	}
	if !set {
		// Another attempt stored its link first; report the stored one.
		if cur, err := h.d.Appointments.Get(ctx, apt.ID); err == nil && cur.MeetLink != nil {
			link = *cur.MeetLink
		}
	}
	log.Info("meeting link stored", zap.String("meet_link", link))
	asyncx.SetResult(ctx, map[string]string{"meet_link": link})
	return nil
}

func (h *Handlers) HandleOTPEmail(ctx context.Context, t *asynq.Task) error {
	var p OTPEmailPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	msg, err := mail.RenderOTP(p.Email, mail.OTPData{
		AppName: h.d.AppName,
		Code:    p.OTP,
		Minutes: int(h.d.OTPTTL / time.Minute),
	})
	if err != nil {
		return asyncx.Permanent(err)
	}
	if err := h.d.Mail.Send(ctx, msg); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}
	asyncx.SetResult(ctx, map[string]string{"sent_to": p.Email})
	return nil
}

func (h *Handlers) HandleVerifyPayment(ctx context.Context, t *asynq.Task) error {
	var p VerifyPaymentPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	log := h.log.With(zap.String("tx_ref", p.TxRef))

	pay, err := h.d.Payments.GetByTxRef(ctx, p.TxRef)
	if errors.Is(err, store.ErrNotFound) {
		return asyncx.Permanent(fmt.Errorf("payment %s: %w", p.TxRef, err))
	}
	if err != nil {
		return err
	}
	if pay.Status.Settled() {
		log.Info("payment already settled, skipping provider call", zap.String("status", string(pay.Status)))
		asyncx.SetResult(ctx, map[string]string{"status": string(pay.Status)})
		return nil
	}

	res, err := h.d.Verifier.Verify(ctx, p.TxRef)
	if err != nil {
		h.setPaymentStatus(ctx, p.TxRef, store.PaymentError)
		return fmt.Errorf("verify payment: %w", err)
	}

	switch outcome := payment.MapStatus(res.Status); outcome {
	case payment.OutcomeSuccess, payment.OutcomeFailed:
		status := store.PaymentSuccess
		if outcome == payment.OutcomeFailed {
			status = store.PaymentFailed
		}
		if _, err := h.d.Payments.SetStatus(ctx, p.TxRef, status); err != nil {
			return err
		}
		log.Info("payment verified", zap.String("status", string(status)))
		asyncx.SetResult(ctx, map[string]string{"status": string(status)})
		return nil
	case payment.OutcomePending:
		return fmt.Errorf("payment %s still pending at provider", p.TxRef)
	default:
		h.setPaymentStatus(ctx, p.TxRef, store.PaymentError)
		return fmt.Errorf("payment %s: unrecognised provider status %q", p.TxRef, res.Status)
	}
}

func (h *Handlers) setPaymentStatus(ctx context.Context, txRef string, status store.PaymentStatus) {
	if _, err := h.d.Payments.SetStatus(context.WithoutCancel(ctx), txRef, status); err != nil {
		h.log.Error("record payment status", zap.String("tx_ref", txRef), zap.Error(err))
	}
}

// ScrapeResult is stored as the result of a scrape job.
type ScrapeResult struct {
	RunID         string            `json:"run_id"`
	Upserted      int               `json:"articles_upserted"`
	SourcesOK     int               `json:"sources_ok"`
	SourcesFailed int               `json:"sources_failed"`
	Errors        map[string]string `json:"errors,omitempty"`
}

func (h *Handlers) HandleScrape(ctx context.Context, t *asynq.Task) error {
	var p ScrapePayload
	if err := decode(t, &p); err != nil {
		return err
	}
	sources, err := scraper.Select(h.d.Sources, p.Sources)
	if err != nil {
		return asyncx.Permanent(err)
	}
	jobID, _ := asynq.GetTaskID(ctx)
	run, err := h.d.ScrapeRuns.Start(ctx, jobID)
	if err != nil {
		return err
	}

	rep, runErr := h.d.Scraper.Run(ctx, sources, func(ctx context.Context, src scraper.Source, c scraper.Candidate) error {
		return h.d.Articles.Upsert(ctx, store.Article{
			URL:     c.URL,
			Title:   c.Title,
			Summary: c.Summary,
			Source:  src.Key,
		})
	})

	run.ArticlesUpserted = rep.Upserted
	run.SourcesOK = rep.SourcesOK
	run.SourcesFailed = rep.SourcesFailed
	run.Errors = rep.Errors
	run.Status = store.ScrapeRunCompleted
	if runErr != nil || rep.AllFailed() {
		run.Status = store.ScrapeRunFailed
	}
	if err := h.d.ScrapeRuns.Finish(context.WithoutCancel(ctx), run); err != nil {
		h.log.Error("finish scrape run", zap.String("run_id", run.ID), zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	if rep.AllFailed() {
		return fmt.Errorf("all %d sources failed", rep.SourcesFailed)
	}
	h.log.Info("scrape finished",
		zap.String("run_id", run.ID),
		zap.Int("articles_upserted", rep.Upserted),
		zap.Int("sources_failed", rep.SourcesFailed))
	asyncx.SetResult(ctx, ScrapeResult{
		RunID:         run.ID,
		Upserted:      rep.Upserted,
		SourcesOK:     rep.SourcesOK,
		SourcesFailed: rep.SourcesFailed,
		Errors:        rep.Errors,
	})
	return nil
}
