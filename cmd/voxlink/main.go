package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/harunnryd/voxlink/pkg/assistant"
	"github.com/harunnryd/voxlink/pkg/config"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/runner"
)

func main() {
	configPath := flag.String("config", "voxlink.yaml", "path to the YAML config file")
	noBanner := flag.Bool("no-banner", false, "skip the startup banner")
	flag.Parse()

	if err := run(*configPath, !*noBanner); err != nil {
		fmt.Fprintln(os.Stderr, "voxlink:", err)
		os.Exit(1)
	}
}

func run(configPath string, showBanner bool) error {
	slog.SetDefault(logging.InitLogger(slog.LevelInfo))
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("path", configPath), slog.String("error", err.Error()))
		return err
	}

	logger := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     "voxlink@" + runner.Version,
		})
		if err != nil {
			logger.Warn("sentry init failed", slog.String("error", err.Error()))
		} else {
			logger.Info("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	obs, closeMetrics, err := buildObserver(cfg, logger)
	if err != nil {
		return err
	}

	app, err := build(cfg, obs, logger)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
		}
		closeMetrics()
		return err
	}
	if cfg.SentryDSN != "" {
		app.loop.SetReporter(assistant.ReporterFunc(reportToSentry))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.NewLifecycleRunner(app.loop.Run,
		runner.DrainerFunc(func() error { closeMetrics(); return nil }),
		runner.Hooks{
			OnStart: func() {
				logger.Info("voxlink started",
					slog.String("environment", cfg.Environment),
					slog.String("llm", cfg.Vendors.LLM.Provider),
					slog.String("stt", cfg.Vendors.STT.Provider),
					slog.String("voice_id", cfg.Synth.VoiceID),
					slog.String("synth_key", redact.Secret(cfg.Synth.APIKey)))
			},
			OnStop: func() {
				st := app.loop.Stats()
				logger.Info("voxlink stopped",
					slog.Int("completed", st.Completed),
					slog.Int("failed", st.Failed),
					slog.Int("skipped", st.Skipped))
			},
		},
		10*time.Second)
	if showBanner {
		r.SetBannerOutput(os.Stdout)
	}
	return r.Run(ctx)
}

// buildObserver wires the metrics sinks. The returned func flushes and
// closes them.
func buildObserver(cfg config.Config, logger *slog.Logger) (metrics.Observer, func(), error) {
	sinks := []metrics.Observer{metrics.NewLoggerObserver(logger)}
	var file *metrics.JSONLObserver
	if cfg.Observability.MetricsPath != "" {
		f, err := metrics.OpenJSONLFile(cfg.Observability.MetricsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open metrics file: %w", err)
		}
		file = f
		sampled := metrics.NewSamplingObserver(f, cfg.Observability.SampleRate,
			metrics.EventTurnFailed, metrics.EventBreakerOpen, metrics.EventBreakerClose)
		sinks = append(sinks, sampled)
	}
	async := metrics.NewAsyncObserver(metrics.NewMultiObserver(sinks...), 512)
	closeFn := func() {
		async.Close()
		if file != nil {
			_ = file.Flush()
			_ = file.Close()
		}
		if n := async.Dropped(); n > 0 {
			logger.Warn("metrics events dropped", slog.Int64("count", n))
		}
	}
	return async, closeFn, nil
}

func reportToSentry(err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		var te *errorsx.TurnError
		if errors.As(err, &te) {
			scope.SetTag("turn_id", te.TurnID)
			scope.SetTag("turn_state", te.State)
		}
		scope.SetTag("reason", string(errorsx.Reason(err)))
		var pe *errorsx.PlaybackError
		if errors.As(err, &pe) && pe.ServiceMessage != "" {
			scope.SetExtra("service_message", pe.ServiceMessage)
		}
		sentry.CaptureException(err)
	})
}
