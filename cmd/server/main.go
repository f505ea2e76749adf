package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/config"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/metrics"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/repository/memory"
	"github.com/mamadbah2/producao/internal/repository/mongodb"
	"github.com/mamadbah2/producao/internal/repository/sheets"
	"github.com/mamadbah2/producao/internal/repository/sqlite"
	"github.com/mamadbah2/producao/internal/scheduler"
	"github.com/mamadbah2/producao/internal/server/handlers"
	"github.com/mamadbah2/producao/internal/server/router"
	boardsvc "github.com/mamadbah2/producao/internal/service/board"
	commandsvc "github.com/mamadbah2/producao/internal/service/commands"
	ledgersvc "github.com/mamadbah2/producao/internal/service/ledger"
	notifysvc "github.com/mamadbah2/producao/internal/service/notify"
	"github.com/mamadbah2/producao/internal/service/sequencer"
	"github.com/mamadbah2/producao/internal/service/timer"
	whatsappsvc "github.com/mamadbah2/producao/internal/service/whatsapp"
	"github.com/mamadbah2/producao/internal/service/workflow"
	whatsappclient "github.com/mamadbah2/producao/pkg/clients/whatsapp"
	"github.com/mamadbah2/producao/pkg/logger"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Server.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := feed.NewBroker()
	store, err := openStore(ctx, cfg, broker, baseLogger)
	if err != nil {
		baseLogger.Fatal("failed to init record store", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			baseLogger.Error("failed to close record store", zap.Error(err))
		}
	}()

	m := metrics.New()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		baseLogger.Fatal("invalid timezone", zap.Error(err))
	}

	var (
		ledgerMirror ledgersvc.Mirror
		auditMirror  workflow.AuditMirror
	)
	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(ctx, cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		mirror := sheets.NewAuditMirror(sheetsRepo, loc, baseLogger.Named("repo.sheets.mirror"))
		ledgerMirror, auditMirror = mirror, mirror
		baseLogger.Info("ledger mirror enabled")
	}

	var whatsClient whatsappclient.Client
	if cfg.WhatsApp.Enabled() {
		whatsClient = whatsappclient.NewClient(cfg.WhatsApp)
	} else {
		baseLogger.Warn("whatsapp channel not configured, alarms are only logged")
	}
	alarms := notifysvc.NewService(whatsClient, cfg.WhatsApp.AlarmRecipient, m, baseLogger.Named("svc.notify"))

	ledger := ledgersvc.NewService(store, store, ledgerMirror, m, baseLogger.Named("svc.ledger"))
	seq := sequencer.New(store, baseLogger.Named("svc.sequencer"))
	detector := timer.NewDetector(store, seq, alarms, m, baseLogger.Named("svc.timer"))
	wf := workflow.NewService(store, ledger, seq, workflow.Options{
		Alarms:        alarms,
		Mirror:        auditMirror,
		Metrics:       m,
		RetryAttempts: cfg.Workflow.RetryAttempts,
		RetryBase:     cfg.Workflow.RetryBase,
		ClaimTimeout:  cfg.Workflow.ClaimTimeout,
	}, baseLogger.Named("svc.workflow"))

	board := boardsvc.New(store, alarms, cfg.Board.Debounce, cfg.Board.Window, baseLogger.Named("svc.board"))
	detach := board.Attach(broker)
	defer detach()
	defer board.Close()

	routes := router.Handlers{
		Production: handlers.NewProductionHandler(wf, board, baseLogger.Named("handlers.production")),
		Metrics:    m.Handler(),
	}
	if whatsClient != nil {
		dispatcher := commandsvc.NewService(wf, baseLogger.Named("svc.commands"))
		messagingSvc := whatsappsvc.NewMetaWhatsAppService(cfg.WhatsApp, whatsClient, dispatcher, baseLogger.Named("svc.whatsapp"))
		routes.Webhook = handlers.NewWebhookHandler(messagingSvc, baseLogger.Named("handlers.whatsapp"))
	}
	engine := router.New(routes, baseLogger.Named("router"))

	sched, err := scheduler.NewScheduler(cfg.Scheduler, detector, alarms, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openStore opens the configured record store. The mongodb store also
// forwards its change stream so writes of other instances reach the board.
func openStore(ctx context.Context, cfg *config.Config, broker *feed.Broker, log *zap.Logger) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMongoDB:
		repo, err := mongodb.NewMongoDBRepository(ctx, cfg.Store, broker, log.Named("repo.mongodb"))
		if err != nil {
			return nil, err
		}
		go func() {
			if err := repo.Watch(ctx, broker); err != nil {
				log.Warn("mongodb change stream unavailable, board follows local writes only", zap.Error(err))
			}
		}()
		return repo, nil
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.Store.SQLitePath, broker, log.Named("repo.sqlite"))
	default:
		log.Warn("using in-memory record store, data is lost on restart")
		return memory.NewStore(broker), nil
	}
}
