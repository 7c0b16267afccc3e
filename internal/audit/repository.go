// Package audit persists admission records and cycle archive metadata.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Slothbar/slothvote/internal/models"
)

// ArchiveRecord is the row written once a finished cycle has been uploaded.
type ArchiveRecord struct {
	CycleID    uuid.UUID `json:"cycle_id"`
	Generation uint64    `json:"generation"`
	Question   string    `json:"question"`
	ObjectKey  string    `json:"object_key"`
	Served     int       `json:"served"`
	Voted      int       `json:"voted"`
	ResetAt    time.Time `json:"reset_at"`
}

// Repository handles audit persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAdmission stores an admission. Replays of the same job are ignored.
func (r *Repository) InsertAdmission(ctx context.Context, a models.Admission) error {
	const query = `INSERT INTO admissions (id, user_id, wallet, cycle_id, generation, transaction_id, admitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`
	_, err := r.pool.Exec(ctx, query, a.ID, a.UserID, a.Wallet.String(), a.CycleID, int64(a.Generation), a.TransactionID, a.AdmittedAt)
	return err
}

// ListAdmissions returns the admissions of a cycle, oldest first.
func (r *Repository) ListAdmissions(ctx context.Context, cycleID uuid.UUID, limit int) ([]models.Admission, error) {
	const query = `SELECT id, user_id, wallet, cycle_id, generation, transaction_id, admitted_at
		FROM admissions WHERE cycle_id = $1 ORDER BY admitted_at LIMIT $2`
	rows, err := r.pool.Query(ctx, query, cycleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]models.Admission, 0)
	for rows.Next() {
		var (
			a          models.Admission
			wallet     string
			generation int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &wallet, &a.CycleID, &generation, &a.TransactionID, &a.AdmittedAt); err != nil {
			return nil, err
		}
		a.Wallet = models.WalletAddress(wallet)
		a.Generation = uint64(generation)
		list = append(list, a)
	}
	return list, rows.Err()
}

// InsertCycleArchive records where a finished cycle was archived.
func (r *Repository) InsertCycleArchive(ctx context.Context, rec ArchiveRecord) error {
	const query = `INSERT INTO cycle_archives (cycle_id, generation, question, object_key, served, voted, reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cycle_id) DO UPDATE SET object_key = EXCLUDED.object_key`
	_, err := r.pool.Exec(ctx, query, rec.CycleID, int64(rec.Generation), rec.Question, rec.ObjectKey, rec.Served, rec.Voted, rec.ResetAt)
	return err
}

// ListCycleArchives returns the most recent archived cycles.
func (r *Repository) ListCycleArchives(ctx context.Context, limit int) ([]ArchiveRecord, error) {
	const query = `SELECT cycle_id, generation, question, object_key, served, voted, reset_at
		FROM cycle_archives ORDER BY reset_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]ArchiveRecord, 0)
	for rows.Next() {
		var (
			rec        ArchiveRecord
			generation int64
		)
		if err := rows.Scan(&rec.CycleID, &generation, &rec.Question, &rec.ObjectKey, &rec.Served, &rec.Voted, &rec.ResetAt); err != nil {
			return nil, err
		}
		rec.Generation = uint64(generation)
		list = append(list, rec)
	}
	return list, rows.Err()
}
