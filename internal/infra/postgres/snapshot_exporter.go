package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// OpenDB opens a bun handle over the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

type snapshotRow struct {
	bun.BaseModel `bun:"table:session_snapshots"`

	ClassID   string          `bun:"class_id,pk"`
	Code      string          `bun:"code,pk"`
	QuizTitle string          `bun:"quiz_title,notnull"`
	SavedAt   time.Time       `bun:"saved_at,notnull"`
	Data      domain.Snapshot `bun:"data,type:jsonb,notnull"`
}

// SnapshotExporter keeps finished sessions in session_snapshots, one row per
// class and code. Exporting the same session again replaces the row.
type SnapshotExporter struct {
	db *bun.DB
}

func NewSnapshotExporter(db *bun.DB) *SnapshotExporter {
	return &SnapshotExporter{db: db}
}

func (e *SnapshotExporter) Export(ctx context.Context, classID string, snapshot domain.Snapshot) error {
	classID, err := domain.NormalizeClassID(classID)
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", snapshot.Code, err)
	}
	row := &snapshotRow{
		ClassID:   classID,
		Code:      snapshot.Code,
		QuizTitle: snapshot.QuizTitle,
		SavedAt:   snapshot.SavedAt,
		Data:      snapshot,
	}
	_, err = e.db.NewInsert().
		Model(row).
		On("CONFLICT (class_id, code) DO UPDATE").
		Set("quiz_title = EXCLUDED.quiz_title").
		Set("saved_at = EXCLUDED.saved_at").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store snapshot %s/%s: %w", classID, snapshot.Code, err)
	}
	return nil
}

// Load returns a stored snapshot.
func (e *SnapshotExporter) Load(ctx context.Context, classID, code string) (domain.Snapshot, error) {
	classID, err := domain.NormalizeClassID(classID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	row := new(snapshotRow)
	err = e.db.NewSelect().
		Model(row).
		Where("class_id = ?", classID).
		Where("code = ?", code).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot %s/%s: %w", classID, code, err)
	}
	return row.Data, nil
}

// ListByClass returns the snapshots of one class, newest first.
func (e *SnapshotExporter) ListByClass(ctx context.Context, classID string) ([]domain.Snapshot, error) {
	classID, err := domain.NormalizeClassID(classID)
	if err != nil {
		return nil, err
	}
	var rows []snapshotRow
	err = e.db.NewSelect().
		Model(&rows).
		Where("class_id = ?", classID).
		Order("saved_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots of %s: %w", classID, err)
	}
	out := make([]domain.Snapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Data)
	}
	return out, nil
}
