package subjects

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/fpkiosk/fpkiosk/internal/dbx"
	"github.com/fpkiosk/fpkiosk/internal/migrations"
	"github.com/fpkiosk/fpkiosk/internal/models"
)

// SQLiteRepository implements Repository on database/sql with the
// modernc.org/sqlite driver.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Open opens (creating if necessary) the subject database at dsn and runs
// the embedded migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open subject db: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate subject db: %w", err)
	}
	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func scanSubject(row interface{ Scan(dest ...any) error }) (*models.Subject, error) {
	var (
		s         models.Subject
		feature   string
		createdAt string
	)
	if err := row.Scan(&s.ID, &s.WorkerID, &s.Name, &feature, &createdAt); err != nil {
		return nil, err
	}
	tpl, err := base64.StdEncoding.DecodeString(feature)
	if err != nil {
		return nil, fmt.Errorf("corrupt feature for subject %d: %w", s.ID, err)
	}
	s.Template = tpl
	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for subject %d: %w", s.ID, err)
	}
	s.CreatedAt = ts
	return &s, nil
}

func insertRow(ctx context.Context, tx dbx.DBTX, s models.Subject) error {
	query := `INSERT INTO subjects (id, worker_id, name, feature, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		s.ID, s.WorkerID, s.Name,
		base64.StdEncoding.EncodeToString(s.Template),
		s.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func nextID(ctx context.Context, q dbx.DBTX) (int64, error) {
	var next int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM subjects`).Scan(&next)
	return next, err
}

func (r *SQLiteRepository) Insert(ctx context.Context, workerID, name string, template []byte) (int64, error) {
	var id int64
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM subjects WHERE worker_id = ?`, workerID).Scan(&exists)
		switch {
		case err == nil:
			return ErrWorkerIDExists
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		id, err = nextID(ctx, tx)
		if err != nil {
			return err
		}
		return insertRow(ctx, tx, models.Subject{
			ID:        id,
			WorkerID:  workerID,
			Name:      name,
			Template:  template,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.Subject, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, worker_id, name, feature, created_at FROM subjects WHERE id = ?`, id)
	s, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select subject: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Subject, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, worker_id, name, feature, created_at FROM subjects ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select subjects: %w", err)
	}
	defer rows.Close()

	var result []models.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subjects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subject: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subjects`); err != nil {
		return fmt.Errorf("failed to clear subjects: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subjects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count subjects: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) NextID(ctx context.Context) (int64, error) {
	return nextID(ctx, r.db)
}

func (r *SQLiteRepository) LastID(ctx context.Context) (int64, error) {
	var last int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM subjects`).Scan(&last)
	return last, err
}

func (r *SQLiteRepository) ExportAll(ctx context.Context) (*models.Snapshot, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	snap := &models.Snapshot{Users: make([]models.SnapshotUser, 0, len(all))}
	for _, s := range all {
		snap.Users = append(snap.Users, models.SnapshotUserFromSubject(s))
	}
	return snap, nil
}

func (r *SQLiteRepository) ImportAll(ctx context.Context, snap *models.Snapshot) (int, error) {
	if snap == nil {
		return 0, ErrBadSnapshot
	}

	// Validate every row before touching the store so the common failure
	// mode never even opens a transaction.
	imported := make([]models.Subject, 0, len(snap.Users))
	for _, u := range snap.Users {
		s, err := u.Subject()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
		}
		imported = append(imported, s)
	}

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subjects`); err != nil {
			return err
		}
		for _, s := range imported {
			if err := insertRow(ctx, tx, s); err != nil {
				return fmt.Errorf("%w: row %d: %w", ErrBadSnapshot, s.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(imported), nil
}
