package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/storage"
)

// Desfechos do gate de presença.
type CheckInStatus string

const (
	// CheckInCreated: primeira presença do aluno no dia
	CheckInCreated CheckInStatus = "created"
	// CheckInAlready: já havia registro para o dia
	CheckInAlready CheckInStatus = "already"
	// CheckInSuppressed: confiança abaixo do limiar de registro
	CheckInSuppressed CheckInStatus = "suppressed"
)

// AttendanceConfig são os parâmetros do gate.
type AttendanceConfig struct {
	// AttendanceMin é o limiar de confiança para registrar presença.
	// Nunca abaixo do limiar de reconhecimento.
	AttendanceMin float32
	// Location define o fuso em que "dia" é calculado.
	Location *time.Location
}

// AttendanceService é o gate de presença diária mais as consultas do
// painel. A unicidade por (aluno, dia) é garantida pela constraint do
// banco, não por estado em memória: múltiplas câmeras podem competir.
type AttendanceService struct {
	logger  *slog.Logger
	repo    repository.AttendanceRepositoryInterface
	store   *storage.ImageStore
	metrics *metrics.Metrics
	cfg     AttendanceConfig

	now func() time.Time
}

func NewAttendanceService(
	logger *slog.Logger,
	repo repository.AttendanceRepositoryInterface,
	store *storage.ImageStore,
	m *metrics.Metrics,
	cfg AttendanceConfig,
) *AttendanceService {
	return &AttendanceService{
		logger:  logger,
		repo:    repo,
		store:   store,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Day trunca um instante para a data no fuso configurado. No retorno do
// horário de verão a hora repetida cai no mesmo dia, então não há risco de
// registro duplo.
func (s *AttendanceService) Day(t time.Time) time.Time {
	local := t.In(s.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// CheckIn tenta registrar a presença diária de um aluno. snapshot, quando
// presente, só é gravado em disco se o registro foi de fato criado.
func (s *AttendanceService) CheckIn(ctx context.Context, studentID, cameraID int64, confidence float32, snapshot []byte) (CheckInStatus, *domain.Attendance, error) {
	if confidence < s.cfg.AttendanceMin {
		s.count(string(CheckInSuppressed))
		return CheckInSuppressed, nil, nil
	}

	now := s.now()
	att := &domain.Attendance{
		StudentID:   studentID,
		Date:        s.Day(now),
		CheckInTime: now,
		Confidence:  confidence,
	}

	err := s.repo.Create(ctx, att)
	if errors.Is(err, domain.ErrAttendanceExists) {
		s.count(string(CheckInAlready))
		// devolve o registro original para que o chamador mostre o
		// horário real do check-in do dia
		existing, getErr := s.repo.GetByStudentAndDate(ctx, studentID, att.Date)
		if getErr != nil {
			return CheckInAlready, nil, nil
		}
		return CheckInAlready, existing, nil
	}
	if err != nil {
		s.count("error")
		return "", nil, err
	}

	if len(snapshot) > 0 {
		s.attachSnapshot(ctx, att, cameraID, snapshot)
	}

	s.count(string(CheckInCreated))
	s.logger.Info("attendance recorded",
		"student_id", studentID, "camera_id", cameraID, "confidence", confidence)
	return CheckInCreated, att, nil
}

// attachSnapshot grava o quadro e atualiza o registro. Falha aqui não
// desfaz o check-in: o registro vale mais que a foto.
func (s *AttendanceService) attachSnapshot(ctx context.Context, att *domain.Attendance, cameraID int64, snapshot []byte) {
	path, err := s.store.SaveSnapshot(att.Date, cameraID, snapshot)
	if err != nil {
		s.logger.Warn("save check-in snapshot failed", "attendance_id", att.ID, "error", err)
		return
	}
	if err := s.repo.UpdateSnapshotPath(ctx, att.ID, path); err != nil {
		s.logger.Warn("update snapshot path failed", "attendance_id", att.ID, "error", err)
		return
	}
	att.SnapshotPath = &path
}

// ListByDate retorna as presenças de um dia com os dados dos alunos.
func (s *AttendanceService) ListByDate(ctx context.Context, date time.Time) ([]domain.AttendanceWithStudent, error) {
	return s.repo.ListByDate(ctx, s.Day(date))
}

// Today retorna as presenças do dia corrente.
func (s *AttendanceService) Today(ctx context.Context) ([]domain.AttendanceWithStudent, error) {
	return s.repo.ListByDate(ctx, s.Day(s.now()))
}

// History retorna as últimas presenças de um aluno.
func (s *AttendanceService) History(ctx context.Context, studentID int64, limit int) ([]domain.Attendance, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.repo.ListByStudent(ctx, studentID, limit)
}

// HistoryRange retorna as presenças do aluno em [from, to]. Datas zero caem
// nos últimos 30 dias até hoje.
func (s *AttendanceService) HistoryRange(ctx context.Context, studentID int64, from, to time.Time) ([]domain.Attendance, error) {
	if to.IsZero() {
		to = s.Day(s.now())
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	return s.repo.ListByStudentBetween(ctx, studentID, from, to)
}

// Stats agrega os contadores do painel. A semana começa na segunda-feira.
func (s *AttendanceService) Stats(ctx context.Context) (*domain.AttendanceStats, error) {
	today := s.Day(s.now())

	weekday := int(today.Weekday())
	if weekday == 0 {
		weekday = 7 // domingo conta como fim da semana
	}
	weekStart := today.AddDate(0, 0, -(weekday - 1))
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	return s.repo.Stats(ctx, today, weekStart, monthStart)
}

func (s *AttendanceService) count(status string) {
	if s.metrics != nil {
		s.metrics.CheckIns.WithLabelValues(status).Inc()
	}
}
