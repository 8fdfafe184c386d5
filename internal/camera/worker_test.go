package camera

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	mockify "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/hub"
	"github.com/saturnino-fabrica-de-software/presenca/internal/index"
	"github.com/saturnino-fabrica-de-software/presenca/internal/presence"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
	"github.com/saturnino-fabrica-de-software/presenca/internal/storage"
)

type MockStudentRepository struct {
	mockify.Mock
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

type MockAttendanceRepository struct {
	mockify.Mock
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

// fakeSource emite quadros sintéticos; erros são roteirizados pelo teste.
type fakeSource struct {
	connectErr error
	frames     [][]byte
	readErr    error

	mu      sync.Mutex
	pos     int
	blocked bool
	closed  bool
}

func (f *fakeSource) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeSource) Read(ctx context.Context) (Frame, error) {
	f.mu.Lock()
	if f.pos < len(f.frames) {
		frame := Frame{Data: f.frames[f.pos], Timestamp: time.Now()}
		f.pos++
		f.mu.Unlock()
		return frame, nil
	}
	if f.readErr != nil {
		f.mu.Unlock()
		return Frame{}, f.readErr
	}
	f.blocked = true
	f.mu.Unlock()
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

// isBlocked diz se a fonte esgotou os quadros e está parada esperando o
// contexto.
func (f *fakeSource) isBlocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// testFrame tem >=100 bytes para o provider mock aceitar.
func testFrame(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, 128)
}

type workerFixture struct {
	worker     *Worker
	hub        *hub.Hub
	tracker    *presence.Tracker
	attendRepo *MockAttendanceRepository
	students   *MockStudentRepository
	provider   *mock.Provider
	index      *index.Index
}

func newWorkerFixture(t *testing.T, cfg WorkerConfig) *workerFixture {
	t.Helper()
	logger := slog.Default()

	ix, err := index.New(512)
	require.NoError(t, err)

	fp := mock.New()
	recognizer := service.NewRecognizer(logger, fp, ix, nil, service.RecognizerConfig{
		ConfidenceThreshold: 0.6,
		QualityMin:          0.35,
		MinFaceArea:         3600,
	})

	attendRepo := &MockAttendanceRepository{}
	store, err := storage.NewImageStore(t.TempDir())
	require.NoError(t, err)
	attendance := service.NewAttendanceService(logger, attendRepo, store, nil, service.AttendanceConfig{
		AttendanceMin: 0.6,
		Location:      time.UTC,
	})

	h := hub.New(logger, nil, 64)
	tracker := presence.NewTracker(logger, h, nil, 30*time.Second, 10*time.Second)
	students := &MockStudentRepository{}

	cam := domain.Camera{ID: 7, RoomID: 3, Name: "entrada", RTSPURL: "rtsp://test"}
	w := NewWorker(logger, cam, nil, recognizer, attendance, tracker, h, nil, students, cfg)

	return &workerFixture{
		worker:     w,
		hub:        h,
		tracker:    tracker,
		attendRepo: attendRepo,
		students:   students,
		provider:   fp,
		index:      ix,
	}
}

// enroll registra no índice o embedding que o provider mock gera para o
// quadro dado, simulando um aluno cadastrado com essa face.
func (f *workerFixture) enroll(t *testing.T, studentID int64, frame []byte) {
	t.Helper()
	faces, err := f.provider.DetectFaces(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	_, err = f.index.Add(studentID, faces[0].Embedding)
	require.NoError(t, err)
}

func TestWorker_ProcessFrame_EventCooldown(t *testing.T) {
	f := newWorkerFixture(t, WorkerConfig{EventCooldown: 10 * time.Second})
	frame := testFrame(1)
	f.enroll(t, 1, frame)

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f.worker.now = func() time.Time { return base }

	f.attendRepo.On("Create", mockify.Anything, mockify.Anything).Return(nil).Once()
	f.attendRepo.On("Create", mockify.Anything, mockify.Anything).Return(domain.ErrAttendanceExists)
	f.attendRepo.On("GetByStudentAndDate", mockify.Anything, int64(1), mockify.Anything).
		Return(&domain.Attendance{ID: 1, StudentID: 1}, nil)
	f.attendRepo.On("UpdateSnapshotPath", mockify.Anything, mockify.Anything, mockify.Anything).Return(nil)
	f.students.On("GetByID", mockify.Anything, int64(1)).
		Return(&domain.Student{ID: 1, StudentID: "2024001", FirstName: "Maria", LastName: "Silva"}, nil)

	ctx := context.Background()
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))

	// dentro do cooldown: nenhum novo check-in
	f.worker.now = func() time.Time { return base.Add(5 * time.Second) }
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))
	f.attendRepo.AssertNumberOfCalls(t, "Create", 1)

	// janela vencida: o aluno gera evento e check-in de novo
	f.worker.now = func() time.Time { return base.Add(11 * time.Second) }
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))
	f.attendRepo.AssertNumberOfCalls(t, "Create", 2)
}

func TestWorker_ProcessFrame_PresenceTouchedEvenInCooldown(t *testing.T) {
	f := newWorkerFixture(t, WorkerConfig{EventCooldown: time.Minute})
	frame := testFrame(2)
	f.enroll(t, 1, frame)

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f.worker.now = func() time.Time { return base }

	f.attendRepo.On("Create", mockify.Anything, mockify.Anything).Return(nil)
	f.attendRepo.On("UpdateSnapshotPath", mockify.Anything, mockify.Anything, mockify.Anything).Return(nil)
	f.students.On("GetByID", mockify.Anything, int64(1)).
		Return(&domain.Student{ID: 1, StudentID: "2024001"}, nil)

	ctx := context.Background()
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))

	first, ok := f.tracker.Locate(1)
	require.True(t, ok)

	// segundo quadro dentro do cooldown: presença avança mesmo sem evento
	f.worker.now = func() time.Time { return base.Add(10 * time.Second) }
	f.tracker.Touch(3, 1, 7, 0.9) // garante lastSeen comparável

	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))
	loc, ok := f.tracker.Locate(1)
	require.True(t, ok)
	assert.False(t, loc.LastSeenAt.Before(first.LastSeenAt))
	f.attendRepo.AssertNumberOfCalls(t, "Create", 1)
}

func TestWorker_ProcessFrame_PublishesRecognitionEvent(t *testing.T) {
	f := newWorkerFixture(t, WorkerConfig{EventCooldown: time.Minute})
	frame := testFrame(3)
	f.enroll(t, 1, frame)

	sub := f.hub.Subscribe(hub.CameraTopic(7), hub.KindEvents)
	defer f.hub.Unsubscribe(sub)

	f.attendRepo.On("Create", mockify.Anything, mockify.Anything).Run(func(args mockify.Arguments) {
		args.Get(1).(*domain.Attendance).ID = 55
	}).Return(nil)
	f.attendRepo.On("UpdateSnapshotPath", mockify.Anything, int64(55), mockify.Anything).Return(nil)
	f.students.On("GetByID", mockify.Anything, int64(1)).
		Return(&domain.Student{ID: 1, StudentID: "2024001", FirstName: "Maria", LastName: "Silva"}, nil)

	require.NoError(t, f.worker.processFrame(context.Background(), Frame{Data: frame, Timestamp: time.Now()}))

	select {
	case msg := <-sub.C:
		assert.False(t, msg.Binary)
		assert.Contains(t, string(msg.Data), `"type":"recognition"`)
		assert.Contains(t, string(msg.Data), `"student_number":"2024001"`)
		assert.Contains(t, string(msg.Data), `"status":"created"`)
	default:
		t.Fatal("expected recognition event on camera topic")
	}
}

func TestWorker_ProcessFrame_PersistenceFailWindow(t *testing.T) {
	f := newWorkerFixture(t, WorkerConfig{
		EventCooldown:         time.Second,
		PersistenceFailWindow: 30 * time.Second,
	})
	frame := testFrame(4)
	f.enroll(t, 1, frame)

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f.attendRepo.On("Create", mockify.Anything, mockify.Anything).Return(errors.New("db down"))

	ctx := context.Background()

	// primeira falha: tolerada, inicia a janela
	f.worker.now = func() time.Time { return base }
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))

	// ainda dentro da janela
	f.worker.now = func() time.Time { return base.Add(20 * time.Second) }
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))

	// janela estourada: o worker desiste do stream
	f.worker.now = func() time.Time { return base.Add(31 * time.Second) }
	err := f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base})
	assert.Error(t, err)
}

func TestWorker_ProcessFrame_PersistenceRecovers(t *testing.T) {
	f := newWorkerFixture(t, WorkerConfig{
		EventCooldown:         time.Second,
		PersistenceFailWindow: 30 * time.Second,
	})
	frame := testFrame(5)
	f.enroll(t, 1, frame)

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f.attendRepo.On("Create", mockify.Anything, mockify.Anything).Return(errors.New("db down")).Once()
	f.attendRepo.On("Create", mockify.Anything, mockify.Anything).Return(nil)
	f.attendRepo.On("UpdateSnapshotPath", mockify.Anything, mockify.Anything, mockify.Anything).Return(nil)
	f.students.On("GetByID", mockify.Anything, int64(1)).
		Return(&domain.Student{ID: 1, StudentID: "2024001"}, nil)

	ctx := context.Background()
	f.worker.now = func() time.Time { return base }
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))

	// sucesso zera a janela; uma falha muito depois não derruba
	f.worker.now = func() time.Time { return base.Add(2 * time.Second) }
	require.NoError(t, f.worker.processFrame(ctx, Frame{Data: frame, Timestamp: base}))
	assert.True(t, f.worker.persistFailSince.IsZero())
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	// sem throttle: todo quadro consumido é publicado e processado. Os dois
	// quadros da fonte podem colapsar em um: o pump fica só com o mais novo
	// se o loop ainda não consumiu o anterior.
	f := newWorkerFixture(t, WorkerConfig{
		EventCooldown:  time.Minute,
		ConnectTimeout: time.Second,
	})

	src := &fakeSource{frames: [][]byte{testFrame(6), testFrame(7)}}
	f.worker.factory = func(rtspURL string) FrameSource {
		assert.Equal(t, "rtsp://test", rtspURL)
		return src
	}

	sub := f.hub.Subscribe(hub.CameraTopic(7), hub.KindFrames)
	defer f.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx)
	}()

	// espera ao menos um quadro passar pelo hub antes de cancelar
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published frame")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	assert.Equal(t, domain.CameraStopped, f.worker.Status().State)
	assert.True(t, src.closed)
	assert.GreaterOrEqual(t, f.worker.Status().FrameCount, uint64(1))
}

func TestPumpFrames_KeepsOnlyNewest(t *testing.T) {
	src := &fakeSource{frames: [][]byte{testFrame(8), testFrame(9), testFrame(10)}}
	out := make(chan frameResult, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pumpFrames(ctx, src, out)

	// a fonte esgota sem consumidor: quando o pump bloqueia na leitura
	// seguinte, só o último quadro pode estar pendente
	require.Eventually(t, src.isBlocked, 2*time.Second, time.Millisecond)

	in := <-out
	require.NoError(t, in.err)
	assert.Equal(t, testFrame(10), in.frame.Data)

	select {
	case extra := <-out:
		t.Fatalf("expected only the newest frame, got a second item (err=%v)", extra.err)
	default:
	}
}

func TestPumpFrames_PropagatesReadError(t *testing.T) {
	src := &fakeSource{frames: [][]byte{testFrame(11)}, readErr: errors.New("stream lost")}
	out := make(chan frameResult, 1)

	go pumpFrames(context.Background(), src, out)

	// o erro substitui qualquer quadro pendente; o consumidor decide o
	// destino do stream
	deadline := time.After(2 * time.Second)
	for {
		select {
		case in := <-out:
			if in.err != nil {
				assert.EqualError(t, in.err, "stream lost")
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for read error")
		}
	}
}

func TestWorker_Run_FailedConnectSetsFailedState(t *testing.T) {
	f := newWorkerFixture(t, WorkerConfig{ConnectTimeout: 100 * time.Millisecond})

	f.worker.factory = func(rtspURL string) FrameSource {
		return &fakeSource{connectErr: errors.New("connection refused")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx)
	}()

	// a primeira tentativa falha e o worker entra em failed aguardando backoff
	require.Eventually(t, func() bool {
		return f.worker.Status().State == domain.CameraFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.Equal(t, domain.CameraStopped, f.worker.Status().State)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 16*time.Second, nextBackoff(8*time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(16*time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(maxBackoff))
}
