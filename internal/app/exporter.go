package app

import (
	"context"
	"errors"
	"fmt"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/store"
)

// Exporter hands a finished session to the reporting collaborator. It is
// called once per session, when the final phase is reached.
type Exporter interface {
	Export(ctx context.Context, classID string, snapshot domain.Snapshot) error
}

// SnapshotNamespace is the record-store namespace finished sessions are copied into.
const SnapshotNamespace = "snapshots"

// StoreExporter copies snapshots into snapshots/{classID}/{code} of a record store.
type StoreExporter struct {
	store store.Store
}

func NewStoreExporter(st store.Store) *StoreExporter {
	return &StoreExporter{store: st}
}

func (e *StoreExporter) Export(ctx context.Context, classID string, snapshot domain.Snapshot) error {
	path, err := snapshotPath(classID, snapshot.Code)
	if err != nil {
		return fmt.Errorf("export snapshot %s: %w", snapshot.Code, err)
	}
	if err := e.store.Set(ctx, path, snapshot); err != nil {
		return fmt.Errorf("export snapshot %s: %w", snapshot.Code, err)
	}
	return nil
}

// Load reads back a snapshot written by Export.
func (e *StoreExporter) Load(ctx context.Context, classID, code string) (domain.Snapshot, error) {
	path, err := snapshotPath(classID, code)
	if err != nil {
		return domain.Snapshot{}, err
	}
	tree, err := e.store.Get(ctx, path)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if tree == nil {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	var snap domain.Snapshot
	if err := store.Decode(tree, &snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func snapshotPath(classID, code string) (string, error) {
	classID, err := domain.NormalizeClassID(classID)
	if err != nil {
		return "", err
	}
	return store.Join(SnapshotNamespace, classID, code), nil
}

// MultiExporter fans a snapshot out to several exporters; one failing does not stop the others.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, classID string, snapshot domain.Snapshot) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, classID, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
