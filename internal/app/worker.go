package app

import (
	"context"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/config"
	"github.com/mohans/yebragi/internal/events"
	"github.com/mohans/yebragi/internal/jobs"
	"github.com/mohans/yebragi/internal/mail"
	"github.com/mohans/yebragi/internal/meet"
	"github.com/mohans/yebragi/internal/payment"
	"github.com/mohans/yebragi/internal/scraper"
	"github.com/mohans/yebragi/internal/store"
)

// Worker runs the job processor and exposes its metrics.
var Worker = fx.Module("worker",
	fx.Provide(
		NewRegistry,
		NewMeetProvider,
		NewVerifier,
		NewMailSender,
		NewScraper,
		NewEventSink,
		NewHandlers,
		NewProcessor,
	),
	fx.Invoke(StartProcessor, StartMetricsServer),
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMeetProvider(cfg *config.Config, log *zap.Logger) meet.Provider {
	if cfg.Meet.Mode == "http" {
		return meet.NewHTTPProvider(cfg.Meet.APIURL, cfg.Meet.APIKey, cfg.Meet.Timeout, log)
	}
	return meet.NewMockProvider(cfg.Meet.BaseURL)
}

func NewVerifier(cfg *config.Config, log *zap.Logger) payment.Verifier {
	if cfg.Payment.Mode == "chapa" {
		return payment.NewChapa(cfg.Payment.ChapaBaseURL, cfg.Payment.ChapaSecret, cfg.Payment.Timeout, log)
	}
	return payment.NewMockVerifier("success")
}

func NewMailSender(cfg *config.Config, log *zap.Logger) (mail.Sender, error) {
	switch cfg.Email.Transport {
	case "mailgun":
		return mail.NewMailgunSender(cfg.Email.MailgunDomain, cfg.Email.MailgunAPIKey, cfg.Email.MailgunAPIBase, cfg.Email.From, log), nil
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mail.NewSESSender(ctx, cfg.Email.SESRegion, cfg.Email.From, log)
	default:
		return mail.NewLogSender(log), nil
	}
}

type scraperOut struct {
	fx.Out

	Scraper *scraper.Scraper
	Sources []scraper.Source
}

func NewScraper(cfg *config.Config, log *zap.Logger) (scraperOut, error) {
	sources, err := scraper.Select(scraper.DefaultSources(), cfg.Scraper.Sources)
	if err != nil {
		return scraperOut{}, err
	}
	fetcher := scraper.NewCollyFetcher(cfg.Scraper.UserAgent, cfg.Scraper.Timeout)
	return scraperOut{Scraper: scraper.New(fetcher, log), Sources: sources}, nil
}

// NewEventSink returns the Kafka sink when brokers are configured and nil
// otherwise.
func NewEventSink(lc fx.Lifecycle, cfg *config.Config) asyncx.EventSink {
	if !cfg.Kafka.Enabled() {
		return nil
	}
	sink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	lc.Append(fx.StopHook(sink.Close))
	return sink
}

type handlerParams struct {
	fx.In

	Config   *config.Config
	Store    *store.Store
	Meet     meet.Provider
	Verifier payment.Verifier
	Mail     mail.Sender
	Scraper  *scraper.Scraper
	Sources  []scraper.Source
	Logger   *zap.Logger
}

func NewHandlers(p handlerParams) *jobs.Handlers {
	return jobs.NewHandlers(jobs.Deps{
		Appointments: p.Store.Appointments,
		Payments:     p.Store.Payments,
		Articles:     p.Store.Articles,
		ScrapeRuns:   p.Store.ScrapeRuns,
		Meet:         p.Meet,
		Verifier:     p.Verifier,
		Mail:         p.Mail,
		Scraper:      p.Scraper,
		Sources:      p.Sources,
		AppName:      p.Config.OTP.AppName,
		OTPTTL:       p.Config.OTP.TTL,
		Logger:       p.Logger,
	})
}

func NewProcessor(cfg *config.Config, opt asynq.RedisConnOpt, records asyncx.Store, topics *asyncx.Topics, reg *prometheus.Registry, sink asyncx.EventSink, log *zap.Logger) *asyncx.Processor {
	return asyncx.NewProcessor(opt, records, topics, asyncx.ProcessorConfig{
		Concurrency:     cfg.Queue.Concurrency,
		ShutdownTimeout: cfg.Queue.ShutdownTimeout,
		Logger:          log,
		Registerer:      reg,
		Events:          sink,
	})
}

func StartProcessor(lc fx.Lifecycle, p *asyncx.Processor, h *jobs.Handlers) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return p.Start(jobs.NewServeMux(h)) },
		OnStop: func(context.Context) error {
			p.Shutdown()
			return nil
		},
	})
}

func StartMetricsServer(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	serveInBackground(lc, srv, cfg.ShutdownTimeout, log.Named("metrics"))
}
