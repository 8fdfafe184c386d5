package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

type StudentRepository struct {
	pool PgxPool
}

func NewStudentRepository(pool PgxPool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

func (r *StudentRepository) Create(ctx context.Context, student *domain.Student) error {
	query := `
		INSERT INTO students (student_id, first_name, last_name, group_name, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		student.StudentID,
		student.FirstName,
		student.LastName,
		student.GroupName,
	).Scan(&student.ID, &student.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStudentExists
		}
		return fmt.Errorf("create student: %w", err)
	}

	return nil
}

func (r *StudentRepository) GetByID(ctx context.Context, id int64) (*domain.Student, error) {
	query := `
		SELECT id, student_id, first_name, last_name, group_name, created_at
		FROM students
		WHERE id = $1
	`

	var student domain.Student
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&student.ID,
		&student.StudentID,
		&student.FirstName,
		&student.LastName,
		&student.GroupName,
		&student.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student by id: %w", err)
	}

	return &student, nil
}

func (r *StudentRepository) GetByNumber(ctx context.Context, studentID string) (*domain.Student, error) {
	query := `
		SELECT id, student_id, first_name, last_name, group_name, created_at
		FROM students
		WHERE student_id = $1
	`

	var student domain.Student
	err := r.pool.QueryRow(ctx, query, studentID).Scan(
		&student.ID,
		&student.StudentID,
		&student.FirstName,
		&student.LastName,
		&student.GroupName,
		&student.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student by number: %w", err)
	}

	return &student, nil
}

func (r *StudentRepository) List(ctx context.Context) ([]domain.Student, error) {
	query := `
		SELECT id, student_id, first_name, last_name, group_name, created_at
		FROM students
		ORDER BY last_name, first_name
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []domain.Student
	for rows.Next() {
		var student domain.Student
		if err := rows.Scan(
			&student.ID,
			&student.StudentID,
			&student.FirstName,
			&student.LastName,
			&student.GroupName,
			&student.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, student)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}

	return students, nil
}

func (r *StudentRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM students WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrStudentNotFound
	}

	return nil
}

func (r *StudentRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM students`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}

var _ StudentRepositoryInterface = (*StudentRepository)(nil)
