// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// asrhubd is the hub daemon: it loads configuration, builds the engine
// pool, the session store and the audio pipeline, and serves the HTTP
// control plane until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/config"
	"github.com/ManuGH/asrhub/internal/dsp/vad"
	"github.com/ManuGH/asrhub/internal/dsp/wakeword"
	"github.com/ManuGH/asrhub/internal/httpapi"
	asrlog "github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/pipeline"
	"github.com/ManuGH/asrhub/internal/provider"
	"github.com/ManuGH/asrhub/internal/provider/sherpa"
	"github.com/ManuGH/asrhub/internal/session/manager"
	"github.com/ManuGH/asrhub/internal/session/store"
	"github.com/ManuGH/asrhub/internal/snapshot"
	"github.com/ManuGH/asrhub/internal/telemetry"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

// Exit codes: 0 clean shutdown, 1 runtime failure, 2 configuration
// error, 3 engine startup failure.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
	exitEngine  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return exitOK
	}

	// Safe logger defaults until the config is loaded.
	asrlog.Configure(asrlog.Config{Level: "info", Service: "asrhub", Version: version})
	logger := asrlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str("config_path", *configPath).
			Msg("failed to load configuration")
		return exitConfig
	}

	asrlog.Configure(asrlog.Config{
		Level:   cfg.Log.Level,
		Service: "asrhub",
		Version: version,
	})
	logger = asrlog.WithComponent("daemon")
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("addr", cfg.Listen).
		Str("config_path", *configPath).
		Msg("starting asrhub")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise telemetry")
		return exitConfig
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	// Model artefacts must exist before we accept sessions; a misspelled
	// path should fail startup, not the first utterance.
	if err := cfg.Engine.Validate(); err != nil {
		logger.Error().Err(err).Msg("engine configuration invalid")
		return exitEngine
	}

	pool := provider.NewPool(provider.Config{
		MinSize:                cfg.Pool.MinSize,
		MaxSize:                cfg.Pool.MaxSize,
		PerSessionQuota:        cfg.Pool.PerSessionQuota,
		MaxConsecutiveFailures: cfg.Pool.MaxConsecutiveFailures,
		LeaseTimeout:           cfg.Pool.LeaseTimeout,
		AgingFactor:            cfg.Pool.AgingFactor,
		DefaultPriority:        cfg.Pool.DefaultPriority,
	}, sherpa.Factory(cfg.Engine))
	defer func() {
		if err := pool.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("pool shutdown failed")
		}
	}()
	if cfg.Pool.MinSize > 0 {
		// Partial prewarm is survivable; missing instances are rebuilt on
		// first lease.
		if err := pool.Prewarm(ctx); err != nil {
			logger.Warn().Err(err).Int("min_size", cfg.Pool.MinSize).Msg("pool prewarm incomplete")
		}
	}

	st := store.New(store.Config{
		MaxSessions:        cfg.Session.MaxSessions,
		AwakeTimeout:       cfg.Session.AwakeTimeout,
		LLMClaimTimeout:    cfg.Session.LLMClaimTimeout,
		TTSClaimTimeout:    cfg.Session.TTSClaimTimeout,
		SessionIdleTimeout: cfg.Session.SessionIdleTimeout,
		LeaseTimeout:       cfg.Pool.LeaseTimeout,
		Language:           cfg.Engine.Language,
	}, pool)

	orch := pipeline.New(pipeline.Config{
		Queue: audio.QueueConfig{
			MaxBytes:  cfg.Pipeline.QueueMaxBytes,
			HighWater: cfg.Pipeline.QueueHighWater,
		},
	}, st.Dispatch, st.Snapshot, dspFactories(cfg))
	st.BindPipeline(orch)

	var archive *snapshot.Archive
	if cfg.Snapshot.Enabled {
		archive, err = snapshot.Open(cfg.Snapshot.Dir, cfg.Snapshot.Retention)
		if err != nil {
			logger.Error().Err(err).Str("dir", cfg.Snapshot.Dir).Msg("failed to open snapshot archive")
			return exitRuntime
		}
		defer func() {
			if err := archive.Close(); err != nil {
				logger.Warn().Err(err).Msg("snapshot archive close failed")
			}
		}()
		st.SetArchiver(archive.Record)
	}

	mgr := manager.New(st, orch)

	srv := httpapi.New(httpapi.Config{
		Listen:          cfg.Listen,
		RateLimit:       cfg.HTTP.RateLimit,
		RateWindow:      cfg.HTTP.RateWindow,
		MaxUploadBytes:  cfg.HTTP.MaxUploadBytes,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Version:         version,
	}, mgr, pool, archive)

	holder := config.NewHolder(cfg, loader, *configPath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
	}
	defer holder.Stop()
	srv.SetConfigHolder(holder)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := st.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("daemon failed")
		return exitRuntime
	}

	logger.Info().Msg("asrhub exiting")
	return exitOK
}

// dspFactories builds the operator constructors from configuration: the
// Silero model when one is configured, the energy scorer otherwise, and
// one openWakeWord scorer per configured phrase.
func dspFactories(cfg config.Config) pipeline.Factories {
	f := pipeline.Factories{}

	if cfg.Pipeline.VADModel != "" {
		f.VAD = func(vad.DetectorConfig) (vad.Scorer, error) {
			return vad.NewSileroScorer(vad.SileroConfig{
				ModelPath: cfg.Pipeline.VADModel,
				OnnxLib:   cfg.Pipeline.OnnxLib,
			})
		}
	} else {
		f.VAD = func(vad.DetectorConfig) (vad.Scorer, error) {
			return vad.NewEnergyScorer(), nil
		}
	}

	if len(cfg.Wake.Models) > 0 {
		models := cfg.Wake.Models
		f.Wake = func() (map[string]wakeword.Scorer, error) {
			scorers := make(map[string]wakeword.Scorer, len(models))
			for _, m := range models {
				sc, err := wakeword.NewOnnxScorer(wakeword.ModelConfig{
					Name:      m.Name,
					Model:     m.Model,
					Melspec:   m.Melspec,
					Embedding: m.Embedding,
					OnnxLib:   cfg.Pipeline.OnnxLib,
				})
				if err != nil {
					for _, s := range scorers {
						_ = s.Close()
					}
					return nil, err
				}
				scorers[m.Name] = sc
			}
			return scorers, nil
		}
	}

	return f
}
