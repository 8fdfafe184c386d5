package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

type AttendanceRepository struct {
	pool PgxPool
}

func NewAttendanceRepository(pool PgxPool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// Create insere um registro de presença. A constraint única em
// (student_id, attendance_date) é a única fonte de verdade para "um
// registro por dia": violações retornam domain.ErrAttendanceExists.
func (r *AttendanceRepository) Create(ctx context.Context, att *domain.Attendance) error {
	query := `
		INSERT INTO attendance (student_id, attendance_date, check_in_time, confidence_score, snapshot_path, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		att.StudentID,
		att.Date,
		att.CheckInTime,
		att.Confidence,
		att.SnapshotPath,
	).Scan(&att.ID, &att.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAttendanceExists
		}
		return fmt.Errorf("create attendance: %w", err)
	}

	return nil
}

func (r *AttendanceRepository) GetByStudentAndDate(ctx context.Context, studentID int64, date time.Time) (*domain.Attendance, error) {
	query := `
		SELECT id, student_id, attendance_date, check_in_time, confidence_score, snapshot_path, created_at
		FROM attendance
		WHERE student_id = $1 AND attendance_date = $2
	`

	var att domain.Attendance
	err := r.pool.QueryRow(ctx, query, studentID, date).Scan(
		&att.ID,
		&att.StudentID,
		&att.Date,
		&att.CheckInTime,
		&att.Confidence,
		&att.SnapshotPath,
		&att.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}

	return &att, nil
}

func (r *AttendanceRepository) ListByDate(ctx context.Context, date time.Time) ([]domain.AttendanceWithStudent, error) {
	query := `
		SELECT a.id, a.student_id, a.attendance_date, a.check_in_time, a.confidence_score, a.snapshot_path, a.created_at,
		       s.student_id, s.first_name, s.last_name, s.group_name
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		WHERE a.attendance_date = $1
		ORDER BY a.check_in_time
	`

	rows, err := r.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list attendance by date: %w", err)
	}
	defer rows.Close()

	var records []domain.AttendanceWithStudent
	for rows.Next() {
		var rec domain.AttendanceWithStudent
		if err := rows.Scan(
			&rec.ID,
			&rec.Attendance.StudentID,
			&rec.Date,
			&rec.CheckInTime,
			&rec.Confidence,
			&rec.SnapshotPath,
			&rec.CreatedAt,
			&rec.StudentNumber,
			&rec.FirstName,
			&rec.LastName,
			&rec.GroupName,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}

	return records, nil
}

func (r *AttendanceRepository) ListByStudent(ctx context.Context, studentID int64, limit int) ([]domain.Attendance, error) {
	query := `
		SELECT id, student_id, attendance_date, check_in_time, confidence_score, snapshot_path, created_at
		FROM attendance
		WHERE student_id = $1
		ORDER BY attendance_date DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance by student: %w", err)
	}
	defer rows.Close()

	var records []domain.Attendance
	for rows.Next() {
		var att domain.Attendance
		if err := rows.Scan(
			&att.ID,
			&att.StudentID,
			&att.Date,
			&att.CheckInTime,
			&att.Confidence,
			&att.SnapshotPath,
			&att.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}

	return records, nil
}

// ListByStudentBetween retorna as presenças do aluno no intervalo fechado
// [from, to], mais recentes primeiro.
func (r *AttendanceRepository) ListByStudentBetween(ctx context.Context, studentID int64, from, to time.Time) ([]domain.Attendance, error) {
	query := `
		SELECT id, student_id, attendance_date, check_in_time, confidence_score, snapshot_path, created_at
		FROM attendance
		WHERE student_id = $1 AND attendance_date BETWEEN $2 AND $3
		ORDER BY attendance_date DESC
	`

	rows, err := r.pool.Query(ctx, query, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list attendance by range: %w", err)
	}
	defer rows.Close()

	var records []domain.Attendance
	for rows.Next() {
		var att domain.Attendance
		if err := rows.Scan(
			&att.ID,
			&att.StudentID,
			&att.Date,
			&att.CheckInTime,
			&att.Confidence,
			&att.SnapshotPath,
			&att.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}

	return records, nil
}

func (r *AttendanceRepository) UpdateSnapshotPath(ctx context.Context, id int64, path string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE attendance SET snapshot_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("update snapshot path: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Stats calcula os contadores do painel em uma única query. attendance_rate
// é presença de hoje sobre o total de alunos cadastrados.
func (r *AttendanceRepository) Stats(ctx context.Context, today, weekStart, monthStart time.Time) (*domain.AttendanceStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM students),
			COUNT(*) FILTER (WHERE attendance_date = $1),
			COUNT(*) FILTER (WHERE attendance_date >= $2),
			COUNT(*) FILTER (WHERE attendance_date >= $3)
		FROM attendance
	`

	var stats domain.AttendanceStats
	err := r.pool.QueryRow(ctx, query, today, weekStart, monthStart).Scan(
		&stats.TotalStudents,
		&stats.TodayAttendance,
		&stats.WeekAttendance,
		&stats.MonthAttendance,
	)
	if err != nil {
		return nil, fmt.Errorf("attendance stats: %w", err)
	}

	if stats.TotalStudents > 0 {
		stats.AttendanceRate = float64(stats.TodayAttendance) / float64(stats.TotalStudents)
	}

	return &stats, nil
}

var _ AttendanceRepositoryInterface = (*AttendanceRepository)(nil)
