package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/postgres"
	pgmigrations "classroom-quiz-service/internal/infra/postgres/migrations"
	"classroom-quiz-service/internal/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

// NewImportCmd loads quiz JSON files into the quizzes table.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <quiz.json>...",
		Short: "Import quiz documents into Postgres",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return importQuizzes(cmd.Context(), cfg, newLogger(cfg), args)
		},
	}
}

func runMigrations(ctx context.Context, cfg config.Config, log logger.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := postgres.OpenDB(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info("no new migrations")
		return nil
	}
	log.Info("migrations applied", "group", group.String())
	return nil
}

func importQuizzes(ctx context.Context, cfg config.Config, log logger.Logger, files []string) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	loader := postgres.NewQuizLoader(pool)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		var quiz domain.Quiz
		if err := json.Unmarshal(data, &quiz); err != nil {
			return fmt.Errorf("parse %s: %w", f, err)
		}
		if quiz.ID == "" {
			return fmt.Errorf("%s: quiz id missing", f)
		}
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		log.Info("quiz imported", "id", quiz.ID, "questions", len(quiz.Questions))
	}
	return nil
}
