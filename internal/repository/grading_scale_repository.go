package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-results-api/internal/models"
)

const gradingScaleColumns = `id, campus_id, name, description, system, max_score, pass_mark, bands, is_default, is_active,
        created_by, updated_by, created_at, updated_at`

// Serialises default swaps per campus for the life of the transaction.
const lockCampusScalesQuery = `SELECT pg_advisory_xact_lock(hashtext('grading_scales:' || $1))`

const demoteDefaultScaleQuery = `UPDATE grading_scales SET is_default = FALSE, updated_at = $1
        WHERE campus_id = $2 AND is_default AND id <> $3`

// GradingScaleRepository persists campus grading scales.
type GradingScaleRepository struct {
	db *sqlx.DB
}

// NewGradingScaleRepository constructs the repository.
func NewGradingScaleRepository(db *sqlx.DB) *GradingScaleRepository {
	return &GradingScaleRepository{db: db}
}

// ListActive returns the active scales of a campus, default first then by name.
func (r *GradingScaleRepository) ListActive(ctx context.Context, campusID string) ([]models.GradingScale, error) {
	w := &whereBuilder{}
	w.raw("is_active")
	w.eq("campus_id", campusID)
	query := `SELECT ` + gradingScaleColumns + ` FROM grading_scales` + w.sql() + ` ORDER BY is_default DESC, name ASC`
	var scales []models.GradingScale
	if err := r.db.SelectContext(ctx, &scales, query, w.args...); err != nil {
		return nil, fmt.Errorf("list grading scales: %w", err)
	}
	return scales, nil
}

// FindByID fetches a scale by id.
func (r *GradingScaleRepository) FindByID(ctx context.Context, id string) (*models.GradingScale, error) {
	var scale models.GradingScale
	query := `SELECT ` + gradingScaleColumns + ` FROM grading_scales WHERE id = $1`
	if err := r.db.GetContext(ctx, &scale, query, id); err != nil {
		return nil, err
	}
	return &scale, nil
}

// FindForCampus returns the default active scale, else the oldest active one.
func (r *GradingScaleRepository) FindForCampus(ctx context.Context, campusID string) (*models.GradingScale, error) {
	var scale models.GradingScale
	query := `SELECT ` + gradingScaleColumns + ` FROM grading_scales
        WHERE campus_id = $1 AND is_active ORDER BY is_default DESC, created_at ASC LIMIT 1`
	if err := r.db.GetContext(ctx, &scale, query, campusID); err != nil {
		return nil, err
	}
	return &scale, nil
}

// Create inserts a scale; when it is the default, the previous default of the
// campus is demoted in the same transaction.
func (r *GradingScaleRepository) Create(ctx context.Context, scale *models.GradingScale) error {
	if scale.ID == "" {
		scale.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	scale.CreatedAt = now
	scale.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create grading scale: %w", err)
	}
	if scale.IsDefault {
		if _, err := tx.ExecContext(ctx, lockCampusScalesQuery, scale.CampusID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("lock campus grading scales: %w", err)
		}
		if _, err := tx.ExecContext(ctx, demoteDefaultScaleQuery, now, scale.CampusID, scale.ID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("demote default grading scale: %w", err)
		}
	}
	query := `INSERT INTO grading_scales (` + gradingScaleColumns + `)
        VALUES (:id, :campus_id, :name, :description, :system, :max_score, :pass_mark, :bands, :is_default, :is_active,
        :created_by, :updated_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, scale); err != nil {
		tx.Rollback() //nolint:errcheck
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert grading scale: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grading scale: %w", err)
	}
	return nil
}

// Update saves editable attributes, keeping the single-default rule.
func (r *GradingScaleRepository) Update(ctx context.Context, scale *models.GradingScale) error {
	scale.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update grading scale: %w", err)
	}
	if scale.IsDefault && scale.IsActive {
		if _, err := tx.ExecContext(ctx, lockCampusScalesQuery, scale.CampusID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("lock campus grading scales: %w", err)
		}
		if _, err := tx.ExecContext(ctx, demoteDefaultScaleQuery, scale.UpdatedAt, scale.CampusID, scale.ID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("demote default grading scale: %w", err)
		}
	}
	query := `UPDATE grading_scales SET name = :name, description = :description, pass_mark = :pass_mark, bands = :bands,
        is_default = :is_default, is_active = :is_active, updated_by = :updated_by, updated_at = :updated_at
        WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, scale); err != nil {
		tx.Rollback() //nolint:errcheck
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update grading scale: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grading scale: %w", err)
	}
	return nil
}
