package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-results-api/internal/models"
)

const finalTranscriptColumns = `id, campus_id, student_id, class_id, academic_year, semester, subjects, general_average,
        class_rank, class_total, decision, general_appreciation, status, generated_by, generated_at, validated_by,
        validated_at, sealed_by, sealed_at, parent_signature, verification_token, created_at, updated_at`

// FinalTranscriptRepository persists semester bulletins.
type FinalTranscriptRepository struct {
	db *sqlx.DB
}

// NewFinalTranscriptRepository constructs the repository.
func NewFinalTranscriptRepository(db *sqlx.DB) *FinalTranscriptRepository {
	return &FinalTranscriptRepository{db: db}
}

// UpsertDraft writes the transcript of (student, year, semester). An existing
// row is only rewritten while still DRAFT; written reports whether it was.
func (r *FinalTranscriptRepository) UpsertDraft(ctx context.Context, transcript *models.FinalTranscript) (bool, error) {
	if transcript.ID == "" {
		transcript.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	transcript.Status = models.TranscriptStatusDraft
	transcript.GeneratedAt = now
	transcript.CreatedAt = now
	transcript.UpdatedAt = now

	query := `INSERT INTO final_transcripts (id, campus_id, student_id, class_id, academic_year, semester, subjects,
        general_average, status, generated_by, generated_at, created_at, updated_at)
        VALUES (:id, :campus_id, :student_id, :class_id, :academic_year, :semester, :subjects,
        :general_average, :status, :generated_by, :generated_at, :created_at, :updated_at)
        ON CONFLICT (student_id, academic_year, semester) DO UPDATE SET class_id = EXCLUDED.class_id,
        subjects = EXCLUDED.subjects, general_average = EXCLUDED.general_average, generated_by = EXCLUDED.generated_by,
        generated_at = EXCLUDED.generated_at, updated_at = EXCLUDED.updated_at
        WHERE final_transcripts.status = 'DRAFT'
        RETURNING id`
	bound, args, err := r.db.BindNamed(query, transcript)
	if err != nil {
		return false, fmt.Errorf("bind final transcript: %w", err)
	}
	var id string
	if err := r.db.GetContext(ctx, &id, bound, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("upsert final transcript: %w", err)
	}
	transcript.ID = id
	return true, nil
}

// AssignClassRanks ranks the DRAFT transcripts of a class period by
// descending general average.
func (r *FinalTranscriptRepository) AssignClassRanks(ctx context.Context, classID, academicYear string, semester models.Semester) error {
	query := `WITH ranked AS (
            SELECT id, RANK() OVER (ORDER BY general_average DESC) AS rnk, COUNT(*) OVER () AS total
            FROM final_transcripts
            WHERE class_id = $1 AND academic_year = $2 AND semester = $3 AND general_average IS NOT NULL
        )
        UPDATE final_transcripts ft SET class_rank = ranked.rnk, class_total = ranked.total
        FROM ranked WHERE ft.id = ranked.id AND ft.status = 'DRAFT'`
	if _, err := r.db.ExecContext(ctx, query, classID, academicYear, semester); err != nil {
		return fmt.Errorf("assign class ranks: %w", err)
	}
	return nil
}

// FindByID fetches a transcript.
func (r *FinalTranscriptRepository) FindByID(ctx context.Context, id string) (*models.FinalTranscript, error) {
	var transcript models.FinalTranscript
	query := `SELECT ` + finalTranscriptColumns + ` FROM final_transcripts WHERE id = $1`
	if err := r.db.GetContext(ctx, &transcript, query, id); err != nil {
		return nil, err
	}
	return &transcript, nil
}

// List returns transcripts matching filter, newest period first.
func (r *FinalTranscriptRepository) List(ctx context.Context, filter models.TranscriptFilter) ([]models.FinalTranscript, error) {
	w := &whereBuilder{}
	w.eq("campus_id", filter.CampusID)
	w.eq("student_id", filter.StudentID)
	w.eq("academic_year", filter.AcademicYear)
	w.eq("semester", string(filter.Semester))
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}
	w.in("status", statuses)
	query := `SELECT ` + finalTranscriptColumns + ` FROM final_transcripts` + w.sql() + ` ORDER BY academic_year DESC, semester ASC`
	var transcripts []models.FinalTranscript
	if err := r.db.SelectContext(ctx, &transcripts, query, w.args...); err != nil {
		return nil, fmt.Errorf("list final transcripts: %w", err)
	}
	return transcripts, nil
}

// Mutate applies fn to a row-locked transcript and persists its workflow fields.
func (r *FinalTranscriptRepository) Mutate(ctx context.Context, id string, fn func(*models.FinalTranscript) error) (transcript *models.FinalTranscript, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transcript mutation: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()

	var current models.FinalTranscript
	query := `SELECT ` + finalTranscriptColumns + ` FROM final_transcripts WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &current, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock final transcript: %w", err)
	}
	if err = fn(&current); err != nil {
		return nil, err
	}
	current.UpdatedAt = time.Now().UTC()
	update := `UPDATE final_transcripts SET decision = :decision, general_appreciation = :general_appreciation,
        status = :status, validated_by = :validated_by, validated_at = :validated_at, sealed_by = :sealed_by,
        sealed_at = :sealed_at, parent_signature = :parent_signature, verification_token = :verification_token,
        updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, update, &current); err != nil {
		return nil, fmt.Errorf("update final transcript: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit final transcript: %w", err)
	}
	return &current, nil
}

// FindByToken joins the public projection of a validated or sealed transcript.
func (r *FinalTranscriptRepository) FindByToken(ctx context.Context, token string) (*models.TranscriptVerificationRow, error) {
	query := `SELECT s.first_name AS student_first_name, s.last_name AS student_last_name, s.matricule,
        c.name AS class_name, ft.academic_year, ft.semester, ft.general_average, ft.decision, ft.status, ft.validated_at
        FROM final_transcripts ft
        JOIN students s ON s.id = ft.student_id
        JOIN classes c ON c.id = ft.class_id
        WHERE ft.verification_token = $1 AND ft.status IN ('VALIDATED', 'SEALED')`
	var row models.TranscriptVerificationRow
	if err := r.db.GetContext(ctx, &row, query, token); err != nil {
		return nil, err
	}
	return &row, nil
}
