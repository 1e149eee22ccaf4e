// Package app wires repositories, services and handlers into the HTTP
// service.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"marketplace/internal/config"
	"marketplace/internal/domain/audience"
	"marketplace/internal/domain/availability"
	"marketplace/internal/domain/catalog"
	"marketplace/internal/domain/chat"
	"marketplace/internal/domain/notification"
	"marketplace/internal/domain/payment"
	"marketplace/internal/domain/request"
	"marketplace/internal/domain/unread"
	"marketplace/internal/feed"
	"marketplace/internal/middleware"
	"marketplace/internal/pkg/jwt"
	"marketplace/internal/realtime"
)

// broker is a feed both written to and read from.
type broker interface {
	feed.Publisher
	feed.Subscriber
}

type App struct {
	cfg *config.Config
	log *logrus.Logger
	db  *gorm.DB

	JWT        *jwt.Service
	Hub        *realtime.Hub
	Aggregator *unread.Aggregator
	Cleaner    *notification.Cleaner
	router     *gin.Engine

	closers []func() error
}

// New builds the service on db. Redis and RabbitMQ are used when their URLs
// are configured.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logrus.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, db: db}

	var events broker = feed.NewBroker()
	if cfg.Feed.RedisURL != "" {
		rdb, err := feed.DialRedis(ctx, cfg.Feed.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		events = feed.NewRedisBroker(rdb, log.WithField("component", "feed"))
		log.Info("change feed: redis")
	}

	var pusher notification.Pusher
	if cfg.Notify.AMQPURL != "" {
		pub, err := notification.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		pusher = pub
		log.WithField("exchange", cfg.Notify.AMQPExchange).Info("notification push: amqp")
	}

	catalogRepo := catalog.NewRepository(db)
	slots := availability.NewRepository(db)
	audienceRepo := audience.NewRepository(db)

	notices := notification.NewRepository(db, events, log.WithField("component", "notification"))
	dispatcher := notification.NewDispatcher(notices, audienceRepo, pusher, log.WithField("component", "dispatcher"))
	a.Cleaner = notification.NewCleaner(notices, log.WithField("component", "cleanup"))

	requestRepo := request.NewRepository(db)
	requests := request.NewService(requestRepo, catalogRepo, slots, dispatcher, notices, events, log.WithField("component", "request"))

	robokassa := payment.NewRobokassaGateway(payment.RobokassaConfig{
		MerchantLogin: cfg.Payment.RobokassaLogin,
		Password1:     cfg.Payment.RobokassaPassword1,
		Password2:     cfg.Payment.RobokassaPassword2,
		BaseURL:       cfg.Payment.RobokassaBaseURL,
		ResultURL:     cfg.Payment.RobokassaResultURL,
		SuccessURL:    cfg.Payment.RobokassaSuccessURL,
		IsTest:        cfg.Payment.RobokassaIsTest,
		Currency:      cfg.Payment.Currency,
	})
	reconciler := payment.NewReconciler(payment.Deps{
		DB:       db,
		Requests: requestRepo,
		Catalog:  catalogRepo,
		Loader:   requests,
		Orders:   payment.NewOrderRepository(db),
		Intents:  payment.NewIntentRepository(db),
		Gateway:  robokassa,
		Verifier: robokassa,
		Notifier: dispatcher,
		Feed:     events,
		Log:      log.WithField("component", "payment"),
		Currency: cfg.Payment.Currency,
	})

	chatService := chat.NewService(chat.NewRepository(db, events, log.WithField("component", "chat")))

	a.Hub = realtime.NewHub(log.WithField("component", "realtime"))
	agg, err := unread.New(requests, chatService, events, func(userID int64, c unread.Counts) {
		a.Hub.SendToUser(userID, realtime.Event{Type: realtime.EventUnread, Payload: c})
	}, unread.Options{
		TTL:      cfg.Unread.TTL,
		Debounce: cfg.Unread.Debounce,
		MaxWait:  cfg.Unread.MaxWait,
	}, log.WithField("component", "unread"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Aggregator = agg

	a.JWT = jwt.New(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	ws := realtime.NewHandler(a.Hub, a.JWT, func(ctx context.Context, userID int64) (any, error) {
		return agg.Counts(ctx, userID)
	}, cfg.HTTP.CORSOrigins).WithPresence(agg)

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.ErrorLogger(log))
	r.Use(middleware.CORS(cfg.HTTP.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "time": time.Now().UTC()})
	})
	r.GET("/ws", ws.Serve)

	payments := payment.NewHandler(reconciler, log.WithField("component", "payment"))
	v1 := r.Group("/api/v1")
	{
		payments.RegisterPublicRoutes(v1)

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(a.JWT))
		{
			request.NewHandler(requests).RegisterRoutes(protected)
			payments.RegisterRoutes(protected)
			notification.NewHandler(notices).RegisterRoutes(protected)
			chat.NewHandler(chatService, agg).RegisterRoutes(protected)
			unread.NewHandler(agg).RegisterRoutes(protected)
			audience.NewHandler(audience.NewService(audienceRepo), dispatcher).RegisterRoutes(protected)
		}
	}
	a.router = r
	return a, nil
}

func (a *App) Handler() http.Handler { return a.router }

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + a.cfg.HTTP.Port,
		Handler:      a.router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	stopCleanup := a.Cleaner.Schedule(ctx, notification.CleanupConfig{
		RetentionDays: a.cfg.Notify.RetentionDays,
		Interval:      a.cfg.Notify.CleanupInterval,
		Enabled:       true,
	})
	defer func() {
		if stopCleanup != nil {
			close(stopCleanup)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close stops the aggregator and releases broker connections.
func (a *App) Close() {
	if a.Aggregator != nil {
		a.Aggregator.Dispose()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.log.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}
