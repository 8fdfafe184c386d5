package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/hub"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/presence"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
)

// ManagerConfig são os limites globais de streaming.
type ManagerConfig struct {
	Worker        WorkerConfig
	MaxStreams    int
	ShutdownGrace time.Duration
}

type running struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager controla o conjunto de workers de câmera. Start e Stop são
// idempotentes; o limite MaxStreams vale para o total de workers ativos.
type Manager struct {
	logger     *slog.Logger
	cameras    repository.CameraRepositoryInterface
	rooms      repository.RoomRepositoryInterface
	students   repository.StudentRepositoryInterface
	factory    SourceFactory
	recognizer *service.Recognizer
	attendance *service.AttendanceService
	tracker    *presence.Tracker
	hub        *hub.Hub
	metrics    *metrics.Metrics
	cfg        ManagerConfig

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	workers map[int64]*running
}

func NewManager(
	logger *slog.Logger,
	cameras repository.CameraRepositoryInterface,
	rooms repository.RoomRepositoryInterface,
	students repository.StudentRepositoryInterface,
	factory SourceFactory,
	recognizer *service.Recognizer,
	attendance *service.AttendanceService,
	tracker *presence.Tracker,
	h *hub.Hub,
	m *metrics.Metrics,
	cfg ManagerConfig,
) *Manager {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Manager{
		logger:     logger,
		cameras:    cameras,
		rooms:      rooms,
		students:   students,
		factory:    factory,
		recognizer: recognizer,
		attendance: attendance,
		tracker:    tracker,
		hub:        h,
		metrics:    m,
		cfg:        cfg,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		workers:    make(map[int64]*running),
	}
}

// Start sobe o worker de uma câmera. Já em execução é no-op.
func (m *Manager) Start(ctx context.Context, cameraID int64) error {
	cam, err := m.cameras.GetByID(ctx, cameraID)
	if err != nil {
		return err
	}
	if !cam.IsActive {
		return domain.ErrBadRequest.WithError(fmt.Errorf("camera %d is inactive", cameraID))
	}

	room, err := m.rooms.GetByID(ctx, cam.RoomID)
	if err != nil {
		return err
	}
	m.tracker.RegisterRoom(room.ID, room.Name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[cameraID]; ok {
		return nil
	}
	if len(m.workers) >= m.cfg.MaxStreams {
		return domain.ErrStreamLimit
	}

	worker := NewWorker(m.logger, *cam, m.factory, m.recognizer, m.attendance,
		m.tracker, m.hub, m.metrics, m.students, m.cfg.Worker)

	workerCtx, cancel := context.WithCancel(m.rootCtx)
	r := &running{worker: worker, cancel: cancel, done: make(chan struct{})}
	m.workers[cameraID] = r

	go func() {
		defer close(r.done)
		worker.Run(workerCtx)
	}()

	if m.metrics != nil {
		m.metrics.ActiveStreams.Inc()
	}
	m.logger.Info("camera worker started", "camera_id", cameraID, "room_id", room.ID)
	return nil
}

// Stop derruba o worker e espera até ShutdownGrace pelo encerramento.
// Câmera sem worker é no-op.
func (m *Manager) Stop(cameraID int64) error {
	m.mu.Lock()
	r, ok := m.workers[cameraID]
	if ok {
		delete(m.workers, cameraID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	r.cancel()
	select {
	case <-r.done:
	case <-time.After(m.cfg.ShutdownGrace):
		m.logger.Warn("camera worker did not stop within grace", "camera_id", cameraID)
	}

	if m.metrics != nil {
		m.metrics.ActiveStreams.Dec()
	}
	m.logger.Info("camera worker stopped", "camera_id", cameraID)
	return nil
}

// StartRoom sobe todas as câmeras ativas de uma sala em paralelo.
func (m *Manager) StartRoom(ctx context.Context, roomID int64) error {
	if _, err := m.rooms.GetByID(ctx, roomID); err != nil {
		return err
	}

	cams, err := m.cameras.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cam := range cams {
		if !cam.IsActive {
			continue
		}
		id := cam.ID
		g.Go(func() error {
			return m.Start(gctx, id)
		})
	}
	return g.Wait()
}

// StopRoom derruba todas as câmeras de uma sala.
func (m *Manager) StopRoom(ctx context.Context, roomID int64) error {
	cams, err := m.cameras.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	for _, cam := range cams {
		id := cam.ID
		g.Go(func() error {
			return m.Stop(id)
		})
	}
	return g.Wait()
}

// StartAll sobe todas as câmeras ativas cadastradas.
func (m *Manager) StartAll(ctx context.Context) error {
	cams, err := m.cameras.ListActive(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cam := range cams {
		id := cam.ID
		g.Go(func() error {
			return m.Start(gctx, id)
		})
	}
	return g.Wait()
}

// IsRunning informa se a câmera tem worker ativo.
func (m *Manager) IsRunning(cameraID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[cameraID]
	return ok
}

// Status retorna o estado do worker da câmera, ou offline se não há worker.
func (m *Manager) Status(cameraID int64) domain.WorkerStatus {
	m.mu.Lock()
	r, ok := m.workers[cameraID]
	m.mu.Unlock()

	if !ok {
		return domain.WorkerStatus{
			Type:     "status",
			CameraID: cameraID,
			State:    domain.CameraOffline,
		}
	}
	return r.worker.Status()
}

// StatusAll retorna o estado de todos os workers ativos, ordenado por id.
func (m *Manager) StatusAll() []domain.WorkerStatus {
	m.mu.Lock()
	statuses := make([]domain.WorkerStatus, 0, len(m.workers))
	for _, r := range m.workers {
		statuses = append(statuses, r.worker.Status())
	}
	m.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CameraID < statuses[j].CameraID
	})
	return statuses
}

// Shutdown derruba todos os workers, esperando a grace de cada um.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g := new(errgroup.Group)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.Stop(id)
		})
	}
	_ = g.Wait()
	m.rootCancel()
}
