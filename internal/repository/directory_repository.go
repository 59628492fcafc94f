package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-results-api/internal/models"
)

// DirectoryRepository reads the campus reference entities owned by other
// subsystems: students, classes, enrolments and subjects.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// FindClass fetches a class by id.
func (r *DirectoryRepository) FindClass(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	if err := r.db.GetContext(ctx, &class, `SELECT id, campus_id, name FROM classes WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// ListClassStudentIDs returns the actively enrolled students of a class.
func (r *DirectoryRepository) ListClassStudentIDs(ctx context.Context, classID string) ([]string, error) {
	var ids []string
	query := `SELECT student_id FROM class_enrollments WHERE class_id = $1 AND active ORDER BY student_id`
	if err := r.db.SelectContext(ctx, &ids, query, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return ids, nil
}

// FindSubject fetches a subject by id.
func (r *DirectoryRepository) FindSubject(ctx context.Context, id string) (*models.Subject, error) {
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, `SELECT id, name, code, coefficient FROM subjects WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// FindSubjects returns subjects keyed by id.
func (r *DirectoryRepository) FindSubjects(ctx context.Context, ids []string) (map[string]models.Subject, error) {
	result := make(map[string]models.Subject, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, code, coefficient FROM subjects WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build subjects query: %w", err)
	}
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find subjects: %w", err)
	}
	for _, s := range subjects {
		result[s.ID] = s
	}
	return result, nil
}

// FindStudents returns students keyed by id.
func (r *DirectoryRepository) FindStudents(ctx context.Context, ids []string) (map[string]models.Student, error) {
	result := make(map[string]models.Student, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT id, campus_id, first_name, last_name, matricule FROM students WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build students query: %w", err)
	}
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find students: %w", err)
	}
	for _, s := range students {
		result[s.ID] = s
	}
	return result, nil
}

// FindStudent fetches a student by id.
func (r *DirectoryRepository) FindStudent(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	query := `SELECT id, campus_id, first_name, last_name, matricule FROM students WHERE id = $1`
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}
