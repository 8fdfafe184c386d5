package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/hub"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/presence"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
)

const (
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	studentCacheSize = 512
)

// WorkerConfig são os parâmetros de operação de um worker.
type WorkerConfig struct {
	RecognitionHz  int
	StreamMaxHz    int
	EventCooldown  time.Duration
	ConnectTimeout time.Duration

	// PersistenceFailWindow: falhas de banco seguidas por mais que isso
	// derrubam o worker para failed (e o backoff de reconexão assume).
	PersistenceFailWindow time.Duration
}

// Worker opera uma câmera: conecta, lê quadros, reconhece e publica.
// O ciclo de vida é dirigido pelo contexto passado a Run.
type Worker struct {
	logger     *slog.Logger
	camera     domain.Camera
	factory    SourceFactory
	recognizer *service.Recognizer
	attendance *service.AttendanceService
	tracker    *presence.Tracker
	hub        *hub.Hub
	metrics    *metrics.Metrics
	students   repository.StudentRepositoryInterface
	cache      *lru.Cache[int64, *domain.Student]
	cfg        WorkerConfig

	mu         sync.Mutex
	state      domain.CameraStatus
	frameCount uint64
	fps        float64
	winStart   time.Time
	winFrames  int

	// último evento por aluno nesta câmera; o cooldown é por (câmera, aluno)
	lastEvent map[int64]time.Time

	// início da sequência corrente de falhas de persistência; zero quando
	// o último check-in funcionou
	persistFailSince time.Time

	now func() time.Time
}

func NewWorker(
	logger *slog.Logger,
	cam domain.Camera,
	factory SourceFactory,
	recognizer *service.Recognizer,
	attendance *service.AttendanceService,
	tracker *presence.Tracker,
	h *hub.Hub,
	m *metrics.Metrics,
	students repository.StudentRepositoryInterface,
	cfg WorkerConfig,
) *Worker {
	cache, _ := lru.New[int64, *domain.Student](studentCacheSize)
	return &Worker{
		logger:     logger.With("camera_id", cam.ID),
		camera:     cam,
		factory:    factory,
		recognizer: recognizer,
		attendance: attendance,
		tracker:    tracker,
		hub:        h,
		metrics:    m,
		students:   students,
		cache:      cache,
		cfg:        cfg,
		state:      domain.CameraOffline,
		lastEvent:  make(map[int64]time.Time),
		now:        time.Now,
	}
}

// Run executa a máquina de estados até o contexto encerrar:
// offline -> connecting -> streaming, com failed e backoff exponencial
// entre tentativas. Sempre termina em stopped.
func (w *Worker) Run(ctx context.Context) {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			w.setState(domain.CameraStopped)
			return
		}

		w.setState(domain.CameraConnecting)

		src := w.factory(w.camera.RTSPURL)
		connCtx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
		err := src.Connect(connCtx)
		cancel()

		if err != nil {
			_ = src.Close()
			if ctx.Err() != nil {
				w.setState(domain.CameraStopped)
				return
			}
			w.setState(domain.CameraFailed)
			w.logger.Warn("camera connect failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				w.setState(domain.CameraStopped)
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		w.setState(domain.CameraStreaming)
		backoff = initialBackoff
		w.logger.Info("camera streaming")

		err = w.streamLoop(ctx, src)
		_ = src.Close()

		if ctx.Err() != nil {
			w.setState(domain.CameraStopped)
			return
		}

		w.setState(domain.CameraFailed)
		w.logger.Warn("camera stream lost", "error", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			w.setState(domain.CameraStopped)
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (w *Worker) streamLoop(ctx context.Context, src FrameSource) error {
	var recogInterval, streamInterval time.Duration
	if w.cfg.RecognitionHz > 0 {
		recogInterval = time.Second / time.Duration(w.cfg.RecognitionHz)
	}
	if w.cfg.StreamMaxHz > 0 {
		streamInterval = time.Second / time.Duration(w.cfg.StreamMaxHz)
	}

	cameraLabel := hub.CameraTopic(w.camera.ID)
	var lastStream, lastRecog time.Time

	// o pump drena a fonte continuamente: enquanto o reconhecimento segura
	// este loop, quadros velhos são descartados e só o mais recente espera
	frames := make(chan frameResult, 1)
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go pumpFrames(pumpCtx, src, frames)

	for {
		var in frameResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in = <-frames:
		}
		if in.err != nil {
			return in.err
		}
		frame := in.frame

		now := frame.Timestamp
		w.countFrame(now)

		if now.Sub(lastStream) >= streamInterval {
			lastStream = now
			w.hub.PublishFrame(cameraLabel, frame.Data)
		}

		if now.Sub(lastRecog) >= recogInterval {
			lastRecog = now
			if err := w.processFrame(ctx, frame); err != nil {
				return err
			}
			if w.metrics != nil {
				w.metrics.FramesProcessed.WithLabelValues(cameraLabel).Inc()
			}
		} else if w.metrics != nil {
			w.metrics.FramesDropped.WithLabelValues(cameraLabel).Inc()
		}
	}
}

type frameResult struct {
	frame Frame
	err   error
}

// pumpFrames lê a fonte sem parar e mantém no canal apenas o resultado mais
// recente. Um erro de leitura encerra o pump; quem consome decide o destino
// do stream.
func pumpFrames(ctx context.Context, src FrameSource, out chan frameResult) {
	for {
		frame, err := src.Read(ctx)
		sendLatest(out, frameResult{frame: frame, err: err})
		if err != nil {
			return
		}
	}
}

// sendLatest substitui o item pendente pelo novo sem nunca bloquear.
func sendLatest(out chan frameResult, in frameResult) {
	for {
		select {
		case out <- in:
			return
		default:
		}

		select {
		case <-out:
		default:
		}
	}
}

// processFrame roda reconhecimento sobre um quadro. Presença é atualizada
// em todo match; eventos e check-in respeitam o cooldown por aluno. Um erro
// só é retornado quando a persistência ficou indisponível por mais que a
// janela tolerada, o que derruba o stream para failed.
func (w *Worker) processFrame(ctx context.Context, frame Frame) error {
	matches, err := w.recognizer.Recognize(ctx, frame.Data)
	if err != nil {
		w.logger.Warn("recognition failed", "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	now := w.now()
	var recognized []domain.RecognizedStudent

	for _, match := range matches {
		w.tracker.Touch(w.camera.RoomID, match.StudentID, w.camera.ID, match.Confidence)

		if last, ok := w.lastEvent[match.StudentID]; ok && now.Sub(last) < w.cfg.EventCooldown {
			continue
		}
		w.lastEvent[match.StudentID] = now

		status, att, err := w.attendance.CheckIn(ctx, match.StudentID, w.camera.ID, match.Confidence, frame.Data)
		if err != nil {
			w.logger.Error("check-in failed", "student_id", match.StudentID, "error", err)
			if w.persistFailSince.IsZero() {
				w.persistFailSince = now
			} else if w.cfg.PersistenceFailWindow > 0 &&
				now.Sub(w.persistFailSince) > w.cfg.PersistenceFailWindow {
				return fmt.Errorf("persistence unavailable for %s: %w",
					now.Sub(w.persistFailSince), err)
			}
			// o cooldown já foi marcado; o aluno tenta de novo na
			// próxima janela
			delete(w.lastEvent, match.StudentID)
			continue
		}
		w.persistFailSince = time.Time{}

		student, err := w.studentInfo(ctx, match.StudentID)
		if err != nil {
			w.logger.Warn("student lookup failed", "student_id", match.StudentID, "error", err)
			continue
		}

		rec := domain.RecognizedStudent{
			StudentID:  student.ID,
			Number:     student.StudentID,
			FirstName:  student.FirstName,
			LastName:   student.LastName,
			GroupName:  student.GroupName,
			Confidence: match.Confidence,
			Status:     string(status),
		}
		if att != nil {
			t := att.CheckInTime
			rec.CheckInTime = &t
		}
		recognized = append(recognized, rec)
	}

	if len(recognized) == 0 {
		return nil
	}

	if w.metrics != nil {
		w.metrics.Recognitions.WithLabelValues(hub.CameraTopic(w.camera.ID)).
			Add(float64(len(recognized)))
	}

	w.hub.PublishJSON(hub.CameraTopic(w.camera.ID), domain.RecognitionEvent{
		Type:       "recognition",
		CameraID:   w.camera.ID,
		Recognized: recognized,
		Timestamp:  now,
	})
	return nil
}

func (w *Worker) studentInfo(ctx context.Context, id int64) (*domain.Student, error) {
	if student, ok := w.cache.Get(id); ok {
		return student, nil
	}
	student, err := w.students.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	w.cache.Add(id, student)
	return student, nil
}

// Status retorna um retrato do worker para a API e o WebSocket.
func (w *Worker) Status() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	return domain.WorkerStatus{
		Type:       "status",
		CameraID:   w.camera.ID,
		State:      w.state,
		Connected:  w.state == domain.CameraStreaming,
		Running:    w.state == domain.CameraStreaming || w.state == domain.CameraConnecting,
		FPS:        w.fps,
		FrameCount: w.frameCount,
	}
}

func (w *Worker) setState(state domain.CameraStatus) {
	w.mu.Lock()
	changed := w.state != state
	w.state = state
	w.mu.Unlock()

	if changed {
		w.hub.PublishJSON(hub.CameraTopic(w.camera.ID), w.Status())
	}
}

// countFrame atualiza contagem e fps em janela de um segundo.
func (w *Worker) countFrame(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frameCount++
	if w.winStart.IsZero() {
		w.winStart = now
	}
	w.winFrames++

	if elapsed := now.Sub(w.winStart); elapsed >= time.Second {
		w.fps = float64(w.winFrames) / elapsed.Seconds()
		w.winStart = now
		w.winFrames = 0
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
