package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"whatsapp-automation/internal/api"
	"whatsapp-automation/internal/autoreply"
	"whatsapp-automation/internal/cache"
	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/events"
	"whatsapp-automation/internal/followup"
	"whatsapp-automation/internal/gateway"
	"whatsapp-automation/internal/groups"
	"whatsapp-automation/internal/messages"
	"whatsapp-automation/internal/notify"
	"whatsapp-automation/internal/router"
	"whatsapp-automation/internal/scheduler"
	"whatsapp-automation/internal/whatsapp"
	"whatsapp-automation/internal/worker"
	"whatsapp-automation/internal/ws"
	"whatsapp-automation/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zlog := logger.New(cfg.LoggerLevel, cfg.LoggerFormat)
	defer logger.Sync(zlog)

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg, zlog)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	if err := database.SyncSettings(db, cfg, zlog); err != nil {
		return err
	}

	var workerOpts []worker.Option
	workerOpts = append(workerOpts, worker.WithTimeout(cfg.WorkerTimeout))
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		workerOpts = append(workerOpts, worker.WithLocker(cache.NewRedisLocker(rdb, cfg.RedisPrefix)))
		zlog.Info("Worker lease enabled", zap.String("redis", cfg.RedisAddr))
	}

	hub := ws.NewHub(zlog)
	sinks := []events.Sink{hub}
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, zlog)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}
	bus := events.NewBus(zlog, sinks...).WithPublishTimeout(cfg.EventPublishTimeout)

	transport, err := whatsapp.NewMeowTransport(ctx, cfg.SessionStoreDialect, cfg.SessionStoreDSN, cfg.DeviceName, zlog)
	if err != nil {
		return err
	}
	manager := whatsapp.NewManager(transport, whatsapp.NewHTTPMediaFetcher(cfg.MediaFetchTimeout), bus, whatsapp.Options{
		StabilizeDelay: cfg.PairStabilizeDelay,
		PairAttempts:   cfg.PairAttempts,
		PairBackoff:    cfg.PairBackoff,
		ReconnectDelay: cfg.ReconnectDelay,
		OpenTimeout:    30 * time.Second,
		InboundBuffer:  256,
	}, zlog)
	defer manager.Close()

	directory := contacts.NewDirectory(db, cfg.VIPThreshold, zlog)
	messageLog := messages.NewLog(db)
	replies := autoreply.NewEngine(db, zlog)
	schedules := scheduler.NewService(db, zlog)
	followUps := followup.NewEngine(db, zlog)
	groupDir := groups.NewDirectory(db, manager, cfg.GroupSendDelay, zlog)
	orders := notify.NewOrders(notify.NewGormOrderStore(db), manager, directory, followUps,
		notify.Options{AdminPhone: cfg.AdminPhone, Currency: cfg.Currency}, zlog)

	scheduleDispatcher := scheduler.NewDispatcher(schedules, manager, bus,
		scheduler.Delays{Individual: cfg.DirectSendDelay, Group: cfg.GroupSendDelay}, zlog)
	followUpDispatcher := followup.NewDispatcher(followUps, manager, bus, cfg.FollowUpSendDelay, zlog)

	scheduleWorker := worker.New("scheduled-messages", cfg.ScheduleInterval, scheduleDispatcher.ProcessDue, zlog, workerOpts...)
	followUpWorker := worker.New("follow-ups", cfg.FollowUpInterval, followUpDispatcher.ProcessDue, zlog, workerOpts...)
	segmentWorker := worker.New("segments", cfg.SegmentInterval, func(ctx context.Context) error {
		_, err := directory.RecalculateAll(ctx)
		return err
	}, zlog, workerOpts...)

	inbound := router.New(router.Deps{
		Directory:  directory,
		Messages:   messageLog,
		Replier:    replies,
		Sender:     manager,
		Bus:        bus,
		ReplyDelay: cfg.AutoReplyDelay,
	}, zlog)

	gw := gateway.New(gateway.Deps{
		Session:        manager,
		Contacts:       directory,
		Messages:       messageLog,
		Scheduler:      schedules,
		FollowUps:      followUps,
		Replies:        replies,
		Groups:         groupDir,
		Orders:         orders,
		ScheduleWorker: scheduleWorker,
		FollowUpWorker: followUpWorker,
		BulkDelay:      cfg.DirectSendDelay,
	}, zlog)

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	background(hub.Run)
	background(func(ctx context.Context) { inbound.Run(ctx, manager.Inbound()) })
	background(scheduleWorker.Run)
	background(followUpWorker.Run)
	background(segmentWorker.Run)

	if err := manager.Resume(ctx); err != nil {
		zlog.Warn("Session resume failed", zap.Error(err))
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(gw, api.Options{Hub: hub, WebhookToken: cfg.WebhookToken}, zlog),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		zlog.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	zlog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("HTTP shutdown", zap.Error(err))
	}
	stop()
	wg.Wait()
	return nil
}
