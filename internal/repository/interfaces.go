package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// PgxPool é o subconjunto de *pgxpool.Pool usado pelos repositórios.
// pgxmock.PgxPoolIface também satisfaz esta interface nos testes.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StudentRepositoryInterface defines operations for student data access
type StudentRepositoryInterface interface {
	Create(ctx context.Context, student *domain.Student) error
	GetByID(ctx context.Context, id int64) (*domain.Student, error)
	GetByNumber(ctx context.Context, studentID string) (*domain.Student, error)
	List(ctx context.Context) ([]domain.Student, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// StudentImageRepositoryInterface defines operations for reference image data access
type StudentImageRepositoryInterface interface {
	Create(ctx context.Context, image *domain.StudentImage) error
	CountByStudent(ctx context.Context, studentID int64) (int, error)
	ListByStudent(ctx context.Context, studentID int64) ([]domain.StudentImage, error)
	ListEmbeddings(ctx context.Context) ([]domain.StudentImage, error)
	Delete(ctx context.Context, id int64) error
	DeleteByStudent(ctx context.Context, studentID int64) error
}

// AttendanceRepositoryInterface defines operations for attendance data access
type AttendanceRepositoryInterface interface {
	Create(ctx context.Context, att *domain.Attendance) error
	GetByStudentAndDate(ctx context.Context, studentID int64, date time.Time) (*domain.Attendance, error)
	ListByDate(ctx context.Context, date time.Time) ([]domain.AttendanceWithStudent, error)
	ListByStudent(ctx context.Context, studentID int64, limit int) ([]domain.Attendance, error)
	ListByStudentBetween(ctx context.Context, studentID int64, from, to time.Time) ([]domain.Attendance, error)
	UpdateSnapshotPath(ctx context.Context, id int64, path string) error
	Stats(ctx context.Context, today, weekStart, monthStart time.Time) (*domain.AttendanceStats, error)
}

// RoomRepositoryInterface defines operations for room data access
type RoomRepositoryInterface interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id int64) (*domain.Room, error)
	List(ctx context.Context) ([]domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, id int64) error
}

// CameraRepositoryInterface defines operations for camera data access
type CameraRepositoryInterface interface {
	Create(ctx context.Context, camera *domain.Camera) error
	GetByID(ctx context.Context, id int64) (*domain.Camera, error)
	ListByRoom(ctx context.Context, roomID int64) ([]domain.Camera, error)
	ListActive(ctx context.Context) ([]domain.Camera, error)
	Update(ctx context.Context, camera *domain.Camera) error
	Delete(ctx context.Context, id int64) error
}
