package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-results-api/internal/models"
)

const resultColumns = `id, reference, campus_id, student_id, class_id, subject_id, teacher_id, academic_year, semester,
        evaluation_type, evaluation_title, score, max_score, coefficient, normalized_score, weighted_normalized_score,
        grading_scale_id, grade_band, exam_date, exam_period, exam_week, exam_month, exam_attendance, special_circumstances,
        teacher_remarks, class_manager_remarks, class_manager_id, strengths, improvements, status, period_locked, retake_of,
        is_retake_eligible, verification_token, dropout_risk_score, submitted_at, submitted_by, published_at, published_by,
        archived_at, archived_by, is_deleted, deleted_at, deleted_by, created_by, created_at, updated_at`

const insertResultQuery = `INSERT INTO results (` + resultColumns + `)
        VALUES (:id, :reference, :campus_id, :student_id, :class_id, :subject_id, :teacher_id, :academic_year, :semester,
        :evaluation_type, :evaluation_title, :score, :max_score, :coefficient, :normalized_score, :weighted_normalized_score,
        :grading_scale_id, :grade_band, :exam_date, :exam_period, :exam_week, :exam_month, :exam_attendance, :special_circumstances,
        :teacher_remarks, :class_manager_remarks, :class_manager_id, :strengths, :improvements, :status, :period_locked, :retake_of,
        :is_retake_eligible, :verification_token, :dropout_risk_score, :submitted_at, :submitted_by, :published_at, :published_by,
        :archived_at, :archived_by, :is_deleted, :deleted_at, :deleted_by, :created_by, :created_at, :updated_at)`

const updateResultQuery = `UPDATE results SET score = :score, max_score = :max_score, coefficient = :coefficient,
        normalized_score = :normalized_score, weighted_normalized_score = :weighted_normalized_score,
        grading_scale_id = :grading_scale_id, grade_band = :grade_band, evaluation_title = :evaluation_title,
        exam_date = :exam_date, exam_period = :exam_period, exam_week = :exam_week, exam_month = :exam_month,
        exam_attendance = :exam_attendance, special_circumstances = :special_circumstances, teacher_remarks = :teacher_remarks,
        class_manager_remarks = :class_manager_remarks, class_manager_id = :class_manager_id, strengths = :strengths,
        improvements = :improvements, status = :status, period_locked = :period_locked, is_retake_eligible = :is_retake_eligible,
        verification_token = :verification_token, submitted_at = :submitted_at, submitted_by = :submitted_by,
        published_at = :published_at, published_by = :published_by, archived_at = :archived_at, archived_by = :archived_by,
        is_deleted = :is_deleted, deleted_at = :deleted_at, deleted_by = :deleted_by, updated_at = :updated_at
        WHERE id = :id`

const auditColumns = `id, result_id, modified_by, modified_at, field, old_value, new_value, reason, ip_address`

// Superseded originals are those replaced by a released, live RETAKE of the
// same student, subject and period.
const supersededClause = `EXISTS (SELECT 1 FROM results rt WHERE rt.retake_of = r.id AND rt.evaluation_type = 'RETAKE'
        AND rt.student_id = r.student_id AND rt.subject_id = r.subject_id
        AND rt.academic_year = r.academic_year AND rt.semester = r.semester
        AND rt.status IN ('PUBLISHED', 'ARCHIVED') AND NOT rt.is_deleted)`

const retakeOriginalQuery = `SELECT id FROM results WHERE id = $1 AND campus_id = $2 AND student_id = $3 AND subject_id = $4
        AND academic_year = $5 AND semester = $6 AND NOT is_deleted FOR SHARE`

var resultSortColumns = map[string]string{
	"createdAt":       "r.created_at",
	"reference":       "r.reference",
	"normalizedScore": "r.normalized_score",
	"evaluationTitle": "r.evaluation_title",
	"publishedAt":     "r.published_at",
}

// ResultTx exposes the operations available inside a result mutation.
type ResultTx interface {
	OriginalExists(ctx context.Context, retake *models.Result) (bool, error)
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// MutateFunc edits a row-locked result; returning an error aborts the transaction.
type MutateFunc func(ctx context.Context, tx ResultTx, result *models.Result) error

// ResultRepository persists academic results and their audit trail.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository constructs the repository.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Create inserts a result, allocating its reference in the same transaction so
// a rejected insert does not consume a number.
func (r *ResultRepository) Create(ctx context.Context, result *models.Result) error {
	prepareResultInsert(result, time.Now().UTC())
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create result: %w", err)
	}
	year := result.CreatedAt.Year()
	seq, err := reserveSequence(ctx, tx, year, 1)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	result.Reference = models.FormatReference(year, seq)
	if _, err := tx.NamedExecContext(ctx, insertResultQuery, result); err != nil {
		tx.Rollback() //nolint:errcheck
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

// BulkCreate inserts results unordered, silently skipping rows that collide with
// an existing live evaluation. It returns the rows actually inserted, each with
// its reference; references are only drawn for inserted rows.
func (r *ResultRepository) BulkCreate(ctx context.Context, results []models.Result) ([]models.Result, error) {
	if len(results) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	byID := make(map[string]int, len(results))
	for i := range results {
		prepareResultInsert(&results[i], now)
		results[i].Reference = "PENDING-" + results[i].ID
		byID[results[i].ID] = i
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bulk results: %w", err)
	}
	query, args, err := sqlx.Named(insertResultQuery, results)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("build bulk insert: %w", err)
	}
	query = tx.Rebind(query) + ` ON CONFLICT (student_id, subject_id, evaluation_type, evaluation_title, academic_year, semester)
        WHERE NOT is_deleted DO NOTHING RETURNING id`
	var insertedIDs []string
	if err := tx.SelectContext(ctx, &insertedIDs, query, args...); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("bulk insert results: %w", err)
	}
	if len(insertedIDs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit bulk results: %w", err)
		}
		return nil, nil
	}

	year := now.Year()
	first, err := reserveSequence(ctx, tx, year, len(insertedIDs))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	inserted := make([]models.Result, 0, len(insertedIDs))
	values := make([]string, 0, len(insertedIDs))
	refArgs := make([]interface{}, 0, len(insertedIDs)*2)
	for i, id := range insertedIDs {
		row := results[byID[id]]
		row.Reference = models.FormatReference(year, first+int64(i))
		inserted = append(inserted, row)
		values = append(values, fmt.Sprintf("($%d, $%d)", len(refArgs)+1, len(refArgs)+2))
		refArgs = append(refArgs, id, row.Reference)
	}
	update := fmt.Sprintf(`UPDATE results SET reference = v.ref FROM (VALUES %s) AS v(id, ref) WHERE results.id = v.id::uuid`, strings.Join(values, ", "))
	if _, err := tx.ExecContext(ctx, update, refArgs...); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("assign bulk references: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk results: %w", err)
	}
	return inserted, nil
}

func prepareResultInsert(result *models.Result, now time.Time) {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.CreatedAt = result.CreatedAt.UTC()
	result.UpdatedAt = result.CreatedAt
	if result.Status == "" {
		result.Status = models.ResultStatusDraft
	}
	if result.ExamAttendance == "" {
		result.ExamAttendance = models.AttendancePresent
	}
}

// FindByID returns a live result by id.
func (r *ResultRepository) FindByID(ctx context.Context, id string) (*models.Result, error) {
	var result models.Result
	query := `SELECT ` + resultColumns + ` FROM results WHERE id = $1 AND NOT is_deleted`
	if err := r.db.GetContext(ctx, &result, query, id); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAudit returns the audit trail of a result in insertion order.
func (r *ResultRepository) ListAudit(ctx context.Context, resultID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	query := `SELECT ` + auditColumns + ` FROM result_audit_entries WHERE result_id = $1 ORDER BY modified_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &entries, query, resultID); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// List returns a page of live results matching filter with the total count.
func (r *ResultRepository) List(ctx context.Context, filter models.ResultFilter) ([]models.Result, int, error) {
	where, args := buildResultFilter(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM results r` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	sortColumn, ok := resultSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "r.created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM results r%s ORDER BY %s %s, r.id ASC LIMIT $%d OFFSET $%d`,
		prefixColumns("r", resultColumns), where, sortColumn, order, len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)

	var results []models.Result
	if err := r.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	return results, total, nil
}

// ListIDs returns the ids of every live result matching filter, ignoring paging.
func (r *ResultRepository) ListIDs(ctx context.Context, filter models.ResultFilter) ([]string, error) {
	where, args := buildResultFilter(filter)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT r.id FROM results r`+where+` ORDER BY r.created_at ASC`, args...); err != nil {
		return nil, fmt.Errorf("list result ids: %w", err)
	}
	return ids, nil
}

func buildResultFilter(filter models.ResultFilter) (string, []interface{}) {
	w := &whereBuilder{}
	w.raw("NOT r.is_deleted")
	w.eq("r.campus_id", filter.CampusID)
	w.eq("r.student_id", filter.StudentID)
	w.eq("r.class_id", filter.ClassID)
	w.eq("r.subject_id", filter.SubjectID)
	w.eq("r.teacher_id", filter.TeacherID)
	w.eq("r.academic_year", filter.AcademicYear)
	w.eq("r.semester", string(filter.Semester))
	w.eq("r.evaluation_type", string(filter.EvaluationType))
	w.eq("r.evaluation_title", filter.EvaluationTitle)
	w.in("r.status", statusStrings(filter.Statuses))
	return w.sql(), w.args
}

// Aggregate returns the live, non-excused rows feeding averages and analytics.
func (r *ResultRepository) Aggregate(ctx context.Context, filter models.AggregateFilter) ([]models.Result, error) {
	w := &whereBuilder{}
	w.raw("NOT r.is_deleted")
	w.raw("r.exam_attendance <> 'excused'")
	w.eq("r.campus_id", filter.CampusID)
	w.eq("r.student_id", filter.StudentID)
	w.eq("r.class_id", filter.ClassID)
	w.eq("r.subject_id", filter.SubjectID)
	w.eq("r.evaluation_title", filter.EvaluationTitle)
	w.eq("r.academic_year", filter.AcademicYear)
	w.eq("r.semester", string(filter.Semester))
	w.in("r.status", statusStrings(filter.Statuses))
	w.notIn("r.status", statusStrings(filter.ExcludeStatuses))
	if filter.ExcludeAbsent {
		w.raw("r.exam_attendance <> 'absent'")
	}
	if filter.RetakeEligible {
		w.raw("r.is_retake_eligible")
	}
	if filter.OnlyOriginals {
		w.raw("r.retake_of IS NULL")
	}
	if filter.ExcludeSuperseded {
		w.raw("NOT " + supersededClause)
	}
	query := `SELECT ` + prefixColumns("r", resultColumns) + ` FROM results r` + w.sql() +
		` ORDER BY r.academic_year DESC, r.semester ASC, r.subject_id ASC, r.created_at ASC`
	var results []models.Result
	if err := r.db.SelectContext(ctx, &results, query, w.args...); err != nil {
		return nil, fmt.Errorf("aggregate results: %w", err)
	}
	return results, nil
}

// Mutate loads a live result under a row lock, applies fn and persists the
// outcome atomically. Errors from fn are returned unchanged.
func (r *ResultRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (result *models.Result, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin result mutation: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()

	var current models.Result
	query := `SELECT ` + resultColumns + ` FROM results WHERE id = $1 AND NOT is_deleted FOR UPDATE`
	if err = tx.GetContext(ctx, &current, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock result: %w", err)
	}
	if err = fn(ctx, &resultTx{tx: tx}, &current); err != nil {
		return nil, err
	}
	current.UpdatedAt = time.Now().UTC()
	if _, err = tx.NamedExecContext(ctx, updateResultQuery, &current); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicate
			return nil, err
		}
		return nil, fmt.Errorf("update result: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit result mutation: %w", err)
	}
	return &current, nil
}

type resultTx struct {
	tx *sqlx.Tx
}

// OriginalExists checks that the result a retake points at is live and belongs
// to the same campus, student, subject and period, and share-locks it for the
// rest of the transaction.
func (t *resultTx) OriginalExists(ctx context.Context, retake *models.Result) (bool, error) {
	if retake.RetakeOf == nil {
		return false, nil
	}
	var found string
	err := t.tx.GetContext(ctx, &found, retakeOriginalQuery, *retake.RetakeOf, retake.CampusID,
		retake.StudentID, retake.SubjectID, retake.AcademicYear, retake.Semester)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check original result: %w", err)
	}
	return true, nil
}

// AppendAudit inserts one audit entry. The table rejects updates and deletes.
func (t *resultTx) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ModifiedAt.IsZero() {
		entry.ModifiedAt = time.Now().UTC()
	}
	query := `INSERT INTO result_audit_entries (` + auditColumns + `)
        VALUES (:id, :result_id, :modified_by, :modified_at, :field, :old_value, :new_value, :reason, :ip_address)`
	if _, err := t.tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// LockPeriod latches every live released result of the period and returns the
// affected (student, class, campus) rows. Empty campusID spans all campuses.
func (r *ResultRepository) LockPeriod(ctx context.Context, campusID, academicYear string, semester models.Semester) ([]models.LockedRow, error) {
	// updated_at takes $1.
	w := &whereBuilder{args: []interface{}{time.Now().UTC()}}
	w.raw("NOT is_deleted")
	w.raw("status IN ('PUBLISHED', 'ARCHIVED')")
	w.eq("academic_year", academicYear)
	w.eq("semester", string(semester))
	w.eq("campus_id", campusID)
	query := `UPDATE results SET period_locked = TRUE, updated_at = $1` + w.sql() +
		` RETURNING student_id, class_id, campus_id`
	var rows []models.LockedRow
	if err := r.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("lock period: %w", err)
	}
	return rows, nil
}

// RecentScores returns up to limit released, non-excused scores of a student,
// newest publication first.
func (r *ResultRepository) RecentScores(ctx context.Context, studentID, campusID string, limit int) ([]models.ScorePoint, error) {
	query := `SELECT id, score, max_score, normalized_score, published_at FROM results
        WHERE student_id = $1 AND campus_id = $2 AND NOT is_deleted AND exam_attendance <> 'excused'
        AND status IN ('PUBLISHED', 'ARCHIVED')
        ORDER BY published_at DESC NULLS LAST, created_at DESC LIMIT $3`
	var points []models.ScorePoint
	if err := r.db.SelectContext(ctx, &points, query, studentID, campusID, limit); err != nil {
		return nil, fmt.Errorf("recent scores: %w", err)
	}
	return points, nil
}

// SetDropoutRisk stores the advisory risk score of a result.
func (r *ResultRepository) SetDropoutRisk(ctx context.Context, id string, score int) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE results SET dropout_risk_score = $1 WHERE id = $2 AND NOT is_deleted`, score, id); err != nil {
		return fmt.Errorf("set dropout risk: %w", err)
	}
	return nil
}

// FindByToken joins the public projection of a live, non-draft result.
func (r *ResultRepository) FindByToken(ctx context.Context, token string) (*models.VerificationRow, error) {
	query := `SELECT s.first_name AS student_first_name, s.last_name AS student_last_name, s.matricule,
        sub.name AS subject_name, sub.code AS subject_code, c.name AS class_name,
        r.academic_year, r.semester, r.evaluation_type, r.evaluation_title, r.exam_period,
        r.normalized_score, r.grade_band, r.published_at
        FROM results r
        JOIN students s ON s.id = r.student_id
        JOIN subjects sub ON sub.id = r.subject_id
        JOIN classes c ON c.id = r.class_id
        WHERE r.verification_token = $1 AND NOT r.is_deleted AND r.status <> 'DRAFT'`
	var row models.VerificationRow
	if err := r.db.GetContext(ctx, &row, query, token); err != nil {
		return nil, err
	}
	return &row, nil
}

// Facets counts live results grouped by column. Allowed columns are fixed.
func (r *ResultRepository) Facets(ctx context.Context, column, campusID, academicYear string, semester models.Semester) ([]models.FacetCount, error) {
	switch column {
	case "status", "evaluation_type", "exam_period":
	default:
		return nil, fmt.Errorf("facet column %q not allowed", column)
	}
	w := periodFilter(campusID, academicYear, semester)
	w.raw("r." + column + " IS NOT NULL")
	query := fmt.Sprintf(`SELECT r.%s AS key, COUNT(*) AS count FROM results r%s GROUP BY r.%s ORDER BY r.%s`, column, w.sql(), column, column)
	var facets []models.FacetCount
	if err := r.db.SelectContext(ctx, &facets, query, w.args...); err != nil {
		return nil, fmt.Errorf("facet results by %s: %w", column, err)
	}
	return facets, nil
}

// OverviewAggregate computes released-row aggregates of a campus period.
func (r *ResultRepository) OverviewAggregate(ctx context.Context, campusID, academicYear string, semester models.Semester) (*models.OverviewAggregate, error) {
	w := periodFilter(campusID, academicYear, semester)
	w.raw("r.status IN ('PUBLISHED', 'ARCHIVED')")
	counted := `r.exam_attendance <> 'excused' AND NOT ` + supersededClause
	query := `SELECT COUNT(*) AS total_published,
        COUNT(*) FILTER (WHERE ` + counted + `) AS graded,
        ROUND(AVG(r.normalized_score) FILTER (WHERE ` + counted + `)::numeric, 2)::float8 AS average_score,
        COUNT(*) FILTER (WHERE r.normalized_score >= 10 AND ` + counted + `) AS passing,
        COUNT(*) FILTER (WHERE r.is_retake_eligible) AS retake_eligible,
        COUNT(*) FILTER (WHERE r.dropout_risk_score >= 60) AS at_risk,
        COUNT(DISTINCT r.student_id) FILTER (WHERE r.exam_attendance = 'absent') AS absent_students
        FROM results r` + w.sql()
	var agg models.OverviewAggregate
	if err := r.db.GetContext(ctx, &agg, query, w.args...); err != nil {
		return nil, fmt.Errorf("overview aggregate: %w", err)
	}
	return &agg, nil
}

func periodFilter(campusID, academicYear string, semester models.Semester) *whereBuilder {
	w := &whereBuilder{}
	w.raw("NOT r.is_deleted")
	w.eq("r.campus_id", campusID)
	w.eq("r.academic_year", academicYear)
	w.eq("r.semester", string(semester))
	return w
}

func statusStrings(statuses []models.ResultStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
