package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/bed"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/ledger"
	"github.com/hms/hms/internal/domain/payment"
	"github.com/hms/hms/internal/domain/referral"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/gateway"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/notification"
)

const version = "0.1.0"

// stores is the persistence the services run on.
type stores struct {
	dir       catalog.Directory
	beds      bed.Repository
	referrals referral.Repository
	bills     billing.Repository
	ledger    ledger.Repository
	orders    payment.Repository
	tx        db.Transactor
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		dir:       catalog.NewDirectoryPG(pool),
		beds:      bed.NewRepoPG(pool),
		referrals: referral.NewRepoPG(pool),
		bills:     billing.NewRepoPG(pool),
		ledger:    ledger.NewRepoPG(pool),
		orders:    payment.NewRepoPG(pool),
		tx:        db.NewTransactor(pool),
	}
}

func memoryStores(dir catalog.Directory) stores {
	return stores{
		dir:       dir,
		beds:      bed.NewMemoryRepository(),
		referrals: referral.NewMemoryRepository(),
		bills:     billing.NewMemoryRepository(),
		ledger:    ledger.NewMemoryRepository(),
		orders:    payment.NewMemoryRepository(),
		tx:        &db.LockingTransactor{},
	}
}

type services struct {
	beds      *bed.Service
	referrals *referral.Service
	bills     *billing.Service
	payments  *payment.Service
	notifier  *notification.Notifier
}

func newServices(cfg *config.Config, st stores, gw gateway.Gateway, guard cache.Guard,
	sender notification.EmailSender, logger zerolog.Logger) *services {
	notifier := notification.NewNotifier(sender, nil, logger.With().Str("component", "notification").Logger())
	l := ledger.New(st.ledger)
	beds := bed.NewService(st.beds, st.dir, st.tx, logger.With().Str("component", "bed").Logger())
	referrals := referral.NewService(st.referrals, beds, st.dir, l, st.tx, notifier,
		logger.With().Str("component", "referral").Logger())
	bills := billing.NewService(billing.Deps{
		Repo:      st.bills,
		Ledger:    l,
		Directory: st.dir,
		Referrals: referrals,
		Beds:      beds,
		Tx:        st.tx,
		Notifier:  notifier,
		Logger:    logger.With().Str("component", "billing").Logger(),
		DueDays:   cfg.BillDueDays,
	})
	payments := payment.NewService(st.orders, gw, guard, l, bills, referrals, notifier,
		logger.With().Str("component", "payment").Logger(), payment.Config{
			KeySecret: cfg.RazorpayKeySecret,
			Currency:  cfg.PaymentCurrency,
		})
	return &services{beds: beds, referrals: referrals, bills: bills, payments: payments, notifier: notifier}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newGateway picks Razorpay when credentials are configured. Without them
// the in-memory gateway is used, which Validate only permits outside
// production.
func newGateway(cfg *config.Config, logger zerolog.Logger) gateway.Gateway {
	if cfg.GatewayEnabled() {
		return gateway.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	}
	logger.Warn().Msg("RAZORPAY_KEY_ID not set, using the in-memory payment gateway")
	return gateway.NewFake()
}

func newSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.MailEnabled() {
		return notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}
	return notification.LogSender{Logger: logger}
}

// newGuard uses Redis when REDIS_URL is set. The returned client is nil
// otherwise.
func newGuard(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Guard, *redis.Client, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, payment replay guard is process-local")
		return cache.NewMemoryGuard(), nil, nil
	}
	client, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisGuard(client, "hms:guard:"), client, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var jwtMW echo.MiddlewareFunc
	if cfg.AuthSigningKey != "" || cfg.AuthJWKSURL != "" || cfg.AuthIssuer != "" {
		jwtMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtMW)
	}
	return jwtMW
}

// newEcho builds the HTTP server. pool and checks back /health/db and may be
// empty when running on in-memory stores.
func newEcho(cfg *config.Config, svcs *services, logger zerolog.Logger, pool *pgxpool.Pool, checks ...db.Check) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.HeaderActorID, auth.HeaderActorRole},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	if mw := authMiddleware(cfg); mw != nil {
		apiV1.Use(mw)
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	bed.NewHandler(svcs.beds).RegisterRoutes(apiV1)
	referral.NewHandler(svcs.referrals).RegisterRoutes(apiV1)
	billing.NewHandler(svcs.bills).RegisterRoutes(apiV1)
	payment.NewHandler(svcs.payments).RegisterRoutes(apiV1)

	return e
}

func redisCheck(client *redis.Client) db.Check {
	return db.Check{Name: "redis", Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
}

// shutdownTimeout bounds graceful shutdown of the server and the scheduler.
const shutdownTimeout = 10 * time.Second
