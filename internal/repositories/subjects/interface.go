// Package subjects persists enrolled subjects in a local SQLite database.
package subjects

import (
	"context"
	"errors"

	"github.com/fpkiosk/fpkiosk/internal/models"
)

var (
	// ErrNotFound is returned when no subject row matches the given id.
	ErrNotFound = errors.New("subject not found")

	// ErrWorkerIDExists is returned by Insert when the worker id is
	// already enrolled. Worker ids are a unique business key.
	ErrWorkerIDExists = errors.New("worker id already enrolled")

	// ErrBadSnapshot is returned by ImportAll when the snapshot is
	// malformed; the store is left untouched.
	ErrBadSnapshot = errors.New("malformed snapshot")
)

// Repository describes the subject store. Ids are assigned by the store,
// never reused while present, and are the key the engine corpus uses.
type Repository interface {
	// Insert assigns a fresh id and persists the record, returning the id.
	// Id assignment and the row insert happen in one transaction, so the
	// returned id always equals what NextID predicted immediately before.
	Insert(ctx context.Context, workerID, name string, template []byte) (int64, error)

	// GetByID returns the subject with the given id or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*models.Subject, error)

	// GetAll lists all subjects ordered by name ascending.
	GetAll(ctx context.Context) ([]models.Subject, error)

	// DeleteByID removes the subject or returns ErrNotFound.
	DeleteByID(ctx context.Context, id int64) error

	// Clear removes every subject.
	Clear(ctx context.Context) error

	// Count returns the number of stored subjects.
	Count(ctx context.Context) (int, error)

	// NextID predicts the id the next Insert will assign.
	NextID(ctx context.Context) (int64, error)

	// LastID returns the highest assigned id, 0 when the store is empty.
	LastID(ctx context.Context) (int64, error)

	// ExportAll returns a full snapshot of the store, ordered by name.
	ExportAll(ctx context.Context) (*models.Snapshot, error)

	// ImportAll atomically replaces the store contents with the snapshot,
	// preserving snapshot ids. Any invalid row aborts the whole import and
	// leaves the prior contents in place. Returns the number imported.
	ImportAll(ctx context.Context, snap *models.Snapshot) (int, error)
}
