package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renewalhq/crt/auth"
	"github.com/renewalhq/crt/broker"
	"github.com/renewalhq/crt/contract"
	"github.com/renewalhq/crt/db"
	"github.com/renewalhq/crt/external"
	"github.com/renewalhq/crt/reminder"
	"github.com/renewalhq/crt/user"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

// The task instance scans for contracts entering a reminder window and
// enqueues send requests for the mail worker.
func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

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

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "task",
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

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	contractManager, err := contract.NewManager(contract.ManagerOptions{
		DB:     dbInstance,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ContractManager",
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

	reminderManager, err := reminder.NewManager(reminder.ManagerOptions{
		DB:     dbInstance,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ReminderManager",
			zap.Error(err),
		)
	}

	scanner, err := reminder.NewTask(reminder.TaskOptions{
		ContractManager: contractManager,
		UserManager:     userManager,
		ReminderManager: reminderManager,
		Producer:        amqpBroker,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize reminder Task",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// run one pass immediately so a restart doesn't delay due reminders
	if err := scanner.ScanOnce(ctx); err != nil {
		logger.Error("Initial reminder scan failed",
			zap.Error(err),
		)
	}
	go scanner.Run(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	logger.Info("Shutting down reminder task")
}
