package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/taskpilot-ai/conversational-client/internal/api"
	"github.com/taskpilot-ai/conversational-client/internal/attach"
	"github.com/taskpilot-ai/conversational-client/internal/config"
	"github.com/taskpilot-ai/conversational-client/internal/diag"
	"github.com/taskpilot-ai/conversational-client/internal/realtime"
	"github.com/taskpilot-ai/conversational-client/internal/session"
	"github.com/taskpilot-ai/conversational-client/internal/stream"
	"github.com/taskpilot-ai/conversational-client/pkg/logger"
	"github.com/taskpilot-ai/conversational-client/pkg/tracing"
)

// app holds the wired-up client components for one process.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *session.Manager
	rt      *realtime.Client
	diag    *diag.Server
	tp      *sdktrace.TracerProvider
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetGlobal(log)

	a := &app{cfg: cfg, log: log}

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversational-client", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			a.tp = tp
		}
	}

	apiClient := api.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.HTTPTimeout, log)

	// An expired or undecodable token demotes the whole session to guest;
	// a stale bearer on the run request would only earn a 401 mid-turn.
	streamToken := ""
	if apiClient.Authenticated() {
		streamToken = cfg.APIToken
	}
	streamClient := stream.NewClient(cfg.APIBaseURL, streamToken, cfg.StreamTimeout, log)

	var rtIface session.Realtime
	if apiClient.Authenticated() && cfg.RealtimeURL != "" {
		rt, err := realtime.Connect(realtime.Config{
			URL:   cfg.RealtimeURL,
			Token: cfg.RealtimeToken,
		}, log)
		if err != nil {
			log.Warn("realtime channel unavailable, continuing without push updates", zap.Error(err))
		} else {
			a.rt = rt
			rtIface = rt
		}
	}

	var uploader attach.Uploader
	if cfg.ObjectStoreEndpoint != "" {
		store, err := attach.NewObjectStore(
			cfg.ObjectStoreEndpoint,
			cfg.ObjectStoreAccessKey,
			cfg.ObjectStoreSecretKey,
			cfg.ObjectStoreBucket,
			cfg.ObjectStoreUseSSL,
		)
		if err != nil {
			log.Warn("object store unavailable, binary attachments disabled", zap.Error(err))
		} else {
			uploader = store
		}
	}

	pipeline := attach.NewPipeline(
		uploader,
		docExtractor{client: apiClient},
		cfg.MaxImageDimension,
		cfg.MaxImageBytes,
		cfg.MaxUploadBytes,
		log,
	)

	a.manager = session.New(apiClient, streamClient, rtIface, pipeline, log)

	if cfg.DiagAddr != "" {
		a.diag = diag.New(cfg.DiagAddr, func() any { return a.manager.Snapshot() }, log)
		a.diag.Start()
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.diag != nil {
		a.diag.Shutdown(ctx)
	}
	a.manager.Close()
	if a.rt != nil {
		a.rt.Close()
	}
	if a.tp != nil {
		tracing.Shutdown(ctx, a.tp)
	}
	a.log.Sync()
}

// docExtractor adapts the store client to the pipeline's extraction interface.
type docExtractor struct {
	client *api.Client
}

func (d docExtractor) ExtractText(ctx context.Context, name string, data []byte) (string, error) {
	upload, err := d.client.UploadDocument(ctx, name, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return upload.Content, nil
}
