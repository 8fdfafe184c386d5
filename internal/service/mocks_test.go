package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
)

type MockStudentRepository struct {
	mock.Mock
}

func (m *MockStudentRepository) Create(ctx context.Context, student *domain.Student) error {
	args := m.Called(ctx, student)
	return args.Error(0)
}

func (m *MockStudentRepository) GetByID(ctx context.Context, id int64) (*domain.Student, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Student), args.Error(1)
}

func (m *MockStudentRepository) GetByNumber(ctx context.Context, studentID string) (*domain.Student, error) {
	args := m.Called(ctx, studentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Student), args.Error(1)
}

func (m *MockStudentRepository) List(ctx context.Context) ([]domain.Student, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Student), args.Error(1)
}

func (m *MockStudentRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStudentRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockStudentImageRepository struct {
	mock.Mock
}

func (m *MockStudentImageRepository) Create(ctx context.Context, image *domain.StudentImage) error {
	args := m.Called(ctx, image)
	return args.Error(0)
}

func (m *MockStudentImageRepository) CountByStudent(ctx context.Context, studentID int64) (int, error) {
	args := m.Called(ctx, studentID)
	return args.Int(0), args.Error(1)
}

func (m *MockStudentImageRepository) ListByStudent(ctx context.Context, studentID int64) ([]domain.StudentImage, error) {
	args := m.Called(ctx, studentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StudentImage), args.Error(1)
}

func (m *MockStudentImageRepository) ListEmbeddings(ctx context.Context) ([]domain.StudentImage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StudentImage), args.Error(1)
}

func (m *MockStudentImageRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStudentImageRepository) DeleteByStudent(ctx context.Context, studentID int64) error {
	args := m.Called(ctx, studentID)
	return args.Error(0)
}

type MockAttendanceRepository struct {
	mock.Mock
}

func (m *MockAttendanceRepository) Create(ctx context.Context, att *domain.Attendance) error {
	args := m.Called(ctx, att)
	return args.Error(0)
}

func (m *MockAttendanceRepository) GetByStudentAndDate(ctx context.Context, studentID int64, date time.Time) (*domain.Attendance, error) {
	args := m.Called(ctx, studentID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Attendance), args.Error(1)
}

func (m *MockAttendanceRepository) ListByDate(ctx context.Context, date time.Time) ([]domain.AttendanceWithStudent, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AttendanceWithStudent), args.Error(1)
}

func (m *MockAttendanceRepository) ListByStudent(ctx context.Context, studentID int64, limit int) ([]domain.Attendance, error) {
	args := m.Called(ctx, studentID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Attendance), args.Error(1)
}

func (m *MockAttendanceRepository) ListByStudentBetween(ctx context.Context, studentID int64, from, to time.Time) ([]domain.Attendance, error) {
	args := m.Called(ctx, studentID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Attendance), args.Error(1)
}

func (m *MockAttendanceRepository) UpdateSnapshotPath(ctx context.Context, id int64, path string) error {
	args := m.Called(ctx, id, path)
	return args.Error(0)
}

func (m *MockAttendanceRepository) Stats(ctx context.Context, today, weekStart, monthStart time.Time) (*domain.AttendanceStats, error) {
	args := m.Called(ctx, today, weekStart, monthStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AttendanceStats), args.Error(1)
}

type MockFaceProvider struct {
	mock.Mock
}

func (m *MockFaceProvider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	args := m.Called(ctx, image)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.DetectedFace), args.Error(1)
}
