package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lv-cfd/internal/accounts"
	"lv-cfd/internal/auth"
	"lv-cfd/internal/config"
	"lv-cfd/internal/db"
	"lv-cfd/internal/gate"
	"lv-cfd/internal/httpserver"
	"lv-cfd/internal/instruments"
	"lv-cfd/internal/logging"
	"lv-cfd/internal/margin"
	"lv-cfd/internal/notify"
	"lv-cfd/internal/orders"
	"lv-cfd/internal/positions"
	"lv-cfd/internal/pricing"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logger.WithError(err).Fatal("database connect failed")
	}
	defer pool.Close()

	oracle := pricing.NewClient(cfg.OracleURL, cfg.OracleTimeout)
	quoteCache := pricing.NewCache(cfg.QuoteTTL)
	accountSvc := accounts.NewService(pool, oracle, quoteCache)

	hub := notify.NewHub()
	email := notify.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	notifySvc := notify.NewService(pool, hub, email, logging.Component(logger, "notify"))

	idem := gate.NewIdemStore()
	limiter := gate.NewLimiter(gate.DefaultLimit, gate.DefaultWindow)

	posStore := positions.NewStore()
	engine := positions.NewEngine(pool, posStore, oracle, accountSvc, idem, notifySvc, logging.Component(logger, "positions"))

	marginStore := margin.NewStore()
	monitor := margin.NewMonitor(pool, marginStore, accountSvc, engine, notifySvc, cfg.MarginGracePeriod, logging.Component(logger, "margin"))

	instStore := instruments.NewStore(pool)
	orderStore := orders.NewStore()
	orderSvc := orders.NewService(pool, orderStore, posStore, engine, instStore, accountSvc, oracle, idem, notifySvc, logging.Component(logger, "orders"))

	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:        auth.NewHandler(authSvc),
		AccountsHandler:    accounts.NewHandler(accountSvc),
		InstrumentsHandler: instruments.NewHandler(instStore),
		OrderHandler:       orders.NewHandler(orderSvc, limiter),
		PositionHandler:    positions.NewHandler(engine, posStore, pool, limiter),
		MarginHandler:      margin.NewHandler(monitor, marginStore, pool),
		NotifyHandler:      notify.NewHandler(notifySvc),
		AuthService:        authSvc,
		InternalToken:      cfg.InternalToken,
		WSHandler:          httpserver.NewWSHandler(hub, authSvc, cfg.WebSocketOrigin),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.MarginSweepInterval > 0 {
		go runSweepTicker(sweepCtx, monitor, cfg.MarginSweepInterval, logging.Component(logger, "margin"))
	}

	logger.WithField("addr", cfg.HTTPAddr).Info("server listening")
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		stopSweep()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server failed")
	}
}

// runSweepTicker drives the margin monitor in-process. Deployments with an
// external scheduler leave the interval unset and call the internal endpoint
// instead.
func runSweepTicker(ctx context.Context, monitor *margin.Monitor, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := monitor.Sweep(ctx)
			if err != nil {
				log.WithError(err).Warn("scheduled margin sweep failed")
				continue
			}
			log.WithFields(logrus.Fields{
				"users_checked":          result.UsersChecked,
				"new_margin_calls":       result.NewMarginCalls,
				"escalations":            result.Escalations,
				"liquidations_triggered": result.LiquidationsTriggered,
			}).Info("margin sweep completed")
		}
	}
}
