package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	"classroom-quiz-service/internal/infra/postgres"
	"classroom-quiz-service/internal/infra/rabbitmq"
	redisinfra "classroom-quiz-service/internal/infra/redis"
	"classroom-quiz-service/internal/logger"
	"classroom-quiz-service/internal/store"
	transport "classroom-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func newLogger(cfg config.Config) logger.Logger {
	return logger.NewWithLevel(logger.ParseLevel(cfg.Log.Level))
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 12*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = postgres.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var records store.Store
	if redisClient != nil {
		records = redisinfra.NewStore(redisClient, redisTTL)
		log.Info("using redis record store", "addr", cfg.Redis.Addr)
	} else {
		records = memory.NewStore()
		log.Info("using in-memory record store")
	}

	storeExporter := app.NewStoreExporter(records)
	exporters := app.MultiExporter{storeExporter}
	var snapshots transport.SnapshotReader = storeExporter
	if cfg.Postgres.URL != "" {
		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		pgExporter := postgres.NewSnapshotExporter(db)
		exporters = append(exporters, pgExporter)
		snapshots = pgExporter
	}
	if cfg.AMQP.URL != "" {
		publisher, err := rabbitmq.NewSnapshotPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			log.Warn("amqp unavailable; finished sessions will not be announced", "error", err)
		} else {
			defer publisher.Close()
			exporters = append(exporters, publisher)
		}
	}

	service := app.NewQuizService(records, quizRepo, exporters, log,
		app.WithCodeRetries(cfg.Session.CodeRetries))
	defer service.Shutdown()
	handler := transport.NewHandler(service, snapshots, log, cfg.Server.PublicURL)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes provides a demo quiz when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"demo": {
			ID:    "demo",
			Title: "Warm-up",
			Questions: []domain.Question{
				{Type: domain.QuestionMultipleChoice, Text: "What is 2 + 2?", TimeLimit: 20, Options: []string{"3", "4", "5"}, CorrectIndex: 1},
				{Type: domain.QuestionTrueFalse, Text: "The sun is a star.", TimeLimit: 15, Options: []string{"true", "false"}, CorrectIndex: 0},
				{Type: domain.QuestionOpen, Text: "Capital of France?", TimeLimit: 30, AcceptedAnswers: []string{"Paris"}, IgnoreCase: true},
				{Type: domain.QuestionSorting, Text: "Order by size, smallest first", TimeLimit: 30, Items: []string{"ant", "cat", "horse", "whale"}},
				{Type: domain.QuestionSlider, Text: "Boiling point of water", TimeLimit: 20, Min: 0, Max: 200, CorrectValue: 100, Tolerance: 5, Unit: "°C"},
				{Type: domain.QuestionWordCloud, Text: "One word for today's lesson", MaxSubmissions: 3},
			},
		},
	}
}
