package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"time"

	"github.com/renewalhq/crt/auth"
	"github.com/renewalhq/crt/billing"
	"github.com/renewalhq/crt/contract"
	"github.com/renewalhq/crt/db"
	"github.com/renewalhq/crt/external"
	"github.com/renewalhq/crt/extraction"
	"github.com/renewalhq/crt/mail"
	"github.com/renewalhq/crt/storage"
	"github.com/renewalhq/crt/user"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to logger",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	dbInstance, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	defer rdb.Close()
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	s3Client, err := external.NewS3Client(context.Background(), external.S3Options{
		Region:    os.Getenv("S3_REGION"),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize object store client",
			zap.Error(err),
		)
	}

	bucket, err := storage.NewBucket(storage.Options{
		Client: s3Client,
		Logger: logger,
		Name:   os.Getenv("S3_BUCKET"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize document bucket",
			zap.Error(err),
		)
	}

	mailer, err := mail.NewPostmarkMailer(mail.PostmarkOptions{
		Client: external.NewPostmarkClient(os.Getenv("POSTMARK_SERVER_TOKEN")),
		Logger: logger,
		From:   os.Getenv("MAIL_FROM"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize mailer",
			zap.Error(err),
		)
	}

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authManager, err := auth.New(auth.Options{
		Redis:         rdb,
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Environment:   authEnvironment,
		SMTPAuth:      smtpAuth,
		From:          os.Getenv("SMTP_FROM"),
		Hostname:      os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		SiteName:      os.Getenv("SITE_NAME"),
		LinkGen: func(uid, token string) string {
			return fmt.Sprintf("%s/login/%s/%s", os.Getenv("SITE_URL"), uid, token)
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	userManager, err := user.NewManager(user.ManagerOptions{
		StripeClient: stripeClient,
		DB:           dbInstance,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize UserManager",
			zap.Error(err),
		)
	}

	userRouter, err := user.NewService(user.ServiceOptions{
		Auth:        authManager,
		UserManager: userManager,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize User Service Router",
			zap.Error(err),
		)
	}

	priceTable, err := billing.NewPriceTable(billing.PriceTableOptions{
		Logger:          logger,
		PathToPriceJSON: os.Getenv("PRICE_TABLE_PATH"),
	})
	if err != nil {
		logger.Fatal("Cannot load price table",
			zap.Error(err),
		)
	}

	subscriptionManager, err := billing.NewManager(billing.ManagerOptions{
		DB:     dbInstance,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	eventLog, err := billing.NewRedisEventLog(rdb)
	if err != nil {
		logger.Fatal("Cannot initialize EventLog",
			zap.Error(err),
		)
	}

	fetcher, err := billing.NewStripeFetcher(stripeClient)
	if err != nil {
		logger.Fatal("Cannot initialize StripeFetcher",
			zap.Error(err),
		)
	}

	webhookReconciler, err := billing.NewWebhook(billing.WebhookOptions{
		SubscriptionStore: subscriptionManager,
		UserDirectory:     userManager,
		Fetcher:           fetcher,
		EventLog:          eventLog,
		PriceTable:        priceTable,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook reconciler",
			zap.Error(err),
		)
	}

	billingRouter, err := billing.NewService(billing.ServiceOptions{
		Webhook:             webhookReconciler,
		SubscriptionManager: subscriptionManager,
		Auth:                authManager,
		Logger:              logger,
		WebhookSecret:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Billing Service Router",
			zap.Error(err),
		)
	}

	contractManager, err := contract.NewManager(contract.ManagerOptions{
		DB:     dbInstance,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ContractManager",
			zap.Error(err),
		)
	}

	llmClient, err := extraction.NewClient(extraction.ClientOptions{
		BaseURL: os.Getenv("LLM_BASE_URL"),
		APIKey:  os.Getenv("LLM_API_KEY"),
		Model:   os.Getenv("LLM_MODEL"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize completion client",
			zap.Error(err),
		)
	}

	extractor, err := extraction.NewExtractor(extraction.ExtractorOptions{
		Client: llmClient,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Extractor",
			zap.Error(err),
		)
	}

	contractRouter, err := contract.NewService(contract.ServiceOptions{
		Auth:            authManager,
		ContractManager: contractManager,
		Extractor:       extractor,
		Bucket:          bucket,
		Mailer:          mailer,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Contract Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{os.Getenv("SITE_URL")},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	rootRouter.Mount("/users", userRouter.Router())
	rootRouter.Mount("/billing", billingRouter.Router())
	rootRouter.Mount("/contracts", contractRouter.Router())

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":" + os.Getenv("API_PORT"),
	}

	logger.Info("API listening",
		zap.String("Addr", srv.Addr),
	)
	log.Fatalln(srv.ListenAndServe())
}
