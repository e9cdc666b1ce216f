// Package app initializes and runs the kiosk daemon. It wires the
// biometric engine, the device session, the subject store and the HTTP
// facade, handles graceful shutdown and keeps trying to bring the capture
// device online.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fpkiosk/fpkiosk/internal/backup"
	"github.com/fpkiosk/fpkiosk/internal/biometric"
	"github.com/fpkiosk/fpkiosk/internal/biometric/afis"
	"github.com/fpkiosk/fpkiosk/internal/biometric/vector"
	"github.com/fpkiosk/fpkiosk/internal/config"
	"github.com/fpkiosk/fpkiosk/internal/device"
	"github.com/fpkiosk/fpkiosk/internal/httpapi"
	"github.com/fpkiosk/fpkiosk/internal/kiosk"
	"github.com/fpkiosk/fpkiosk/internal/logging"
	"github.com/fpkiosk/fpkiosk/internal/repositories/subjects"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	engine  biometric.Engine
	session *kiosk.Session
	events  *kiosk.EventLog
	sensor  *device.RemoteSensor
	server  *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewDefault()

	var engine biometric.Engine
	switch cfg.Engine {
	case config.EngineAfis:
		engine = afis.New()
	case config.EngineVector:
		engine = vector.New(cfg.VectorDims)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}

	events := kiosk.NewEventLog(cfg.EventBuffer)
	session := kiosk.NewSession(kiosk.Options{
		Thresholds: kiosk.Thresholds{
			Duplicate:   cfg.DuplicateThreshold,
			Consistency: cfg.ConsistencyThreshold,
			Identify:    cfg.IdentifyThreshold,
		},
		Engine: engine,
		OpenStore: func(ctx context.Context) (subjects.Repository, io.Closer, error) {
			db, err := subjects.Open(ctx, cfg.DatabaseDSN)
			if err != nil {
				return nil, nil, err
			}
			return subjects.NewSQLiteRepository(db), db, nil
		},
		Listener: events,
		Logger:   logger,
	})

	sensor := device.NewRemoteSensor(device.Info{
		Vendor:  "fpkiosk",
		Product: "capture-bridge",
		Serial:  cfg.KioskID,
	})

	server := httpapi.NewServer(cfg, session, events, backup.NewService(cfg), sensor, logger)

	return &App{
		config:  cfg,
		logger:  logger,
		engine:  engine,
		session: session,
		events:  events,
		sensor:  sensor,
		server:  server,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// connectSensor retries until the device session is up or ctx ends. Store
// problems (locked database, bad path) resolve over time on a kiosk, so
// everything is retryable.
func (app *App) connectSensor(ctx context.Context) error {
	backoff := retry.WithCappedDuration(10*time.Second, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := app.session.Connect(ctx, app.sensor); err != nil {
			app.logger.Warn(ctx, "device connect failed, retrying", "error", err.Error())
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting kiosk daemon", "kiosk_id", app.config.KioskID, "engine", app.config.Engine)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.session.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.connectSensor(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, "giving up on device connect", "error", err.Error())
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(app.config.ListenAddr); err != nil {
			app.logger.Error(ctx, "http server stopped", "error", err.Error())
			cancelFunc()
		}
	}()

	<-ctx.Done()

	if err := app.server.Shutdown(); err != nil {
		app.logger.Error(ctx, "http shutdown failed", "error", err.Error())
	}
	wg.Wait()

	if err := app.engine.Close(); err != nil {
		app.logger.Error(context.Background(), "engine close failed", "error", err.Error())
	}
	app.logger.Info(context.Background(), "kiosk daemon stopped")
}
