package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/index"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/storage"
)

// Motivos de descarte de imagem no cadastro.
const (
	SkipInvalidImage  = "invalid_image"
	SkipNoFace        = "no_face"
	SkipMultipleFaces = "multiple_faces"
	SkipLowQuality    = "low_quality"
	SkipTimeout       = "timeout"
)

// ImageResult é o resultado do processamento de uma imagem enviada.
type ImageResult struct {
	Index    int    `json:"index"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	ImageID  int64  `json:"image_id,omitempty"`
}

// CreateStudentInput são os campos de cadastro de aluno.
type CreateStudentInput struct {
	StudentID string  `json:"student_id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	GroupName *string `json:"group_name,omitempty"`
}

// EnrollmentConfig são os limites aplicados no cadastro.
type EnrollmentConfig struct {
	QualityMin   float32
	MinFaceArea  float64
	MaxImages    int
	ImageTimeout time.Duration
	// SnapshotDir, quando definido, recebe um snapshot do índice após cada
	// mudança estrutural (lote aceito ou remoção de aluno).
	SnapshotDir string
}

// EnrollmentService coordena cadastro de alunos e imagens de referência,
// mantendo banco, disco e índice de similaridade consistentes entre si.
type EnrollmentService struct {
	logger   *slog.Logger
	provider provider.FaceProvider
	index    *index.Index
	students repository.StudentRepositoryInterface
	images   repository.StudentImageRepositoryInterface
	store    *storage.ImageStore
	cfg      EnrollmentConfig

	// serializa operações por aluno; operações de alunos distintos
	// seguem em paralelo
	locks sync.Map // int64 -> *sync.Mutex
}

func NewEnrollmentService(
	logger *slog.Logger,
	faceProvider provider.FaceProvider,
	ix *index.Index,
	students repository.StudentRepositoryInterface,
	images repository.StudentImageRepositoryInterface,
	store *storage.ImageStore,
	cfg EnrollmentConfig,
) *EnrollmentService {
	return &EnrollmentService{
		logger:   logger,
		provider: faceProvider,
		index:    ix,
		students: students,
		images:   images,
		store:    store,
		cfg:      cfg,
	}
}

func (s *EnrollmentService) lockStudent(id int64) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// RegisterStudent cria o aluno e processa as imagens enviadas. O aluno é
// criado mesmo que todas as imagens sejam descartadas; o chamador decide o
// que fazer com os motivos retornados.
func (s *EnrollmentService) RegisterStudent(ctx context.Context, input CreateStudentInput, images [][]byte) (*domain.Student, []ImageResult, error) {
	if input.StudentID == "" || input.FirstName == "" || input.LastName == "" {
		return nil, nil, domain.ErrValidationFailed
	}
	if len(images) > s.cfg.MaxImages {
		return nil, nil, domain.ErrTooManyImages
	}

	student := &domain.Student{
		StudentID: input.StudentID,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		GroupName: input.GroupName,
	}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, nil, err
	}

	results, err := s.AddImages(ctx, student.ID, images)
	if err != nil {
		return student, nil, err
	}

	return student, results, nil
}

// AddImages processa imagens para um aluno existente. Cada imagem é aceita
// ou descartada independentemente; o slice retornado tem uma entrada por
// imagem, na ordem enviada.
func (s *EnrollmentService) AddImages(ctx context.Context, studentID int64, images [][]byte) ([]ImageResult, error) {
	mu := s.lockStudent(studentID)
	mu.Lock()
	defer mu.Unlock()

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.images.CountByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if existing+len(images) > s.cfg.MaxImages {
		return nil, domain.ErrTooManyImages
	}

	results := make([]ImageResult, len(images))
	accepted := 0
	for i, img := range images {
		results[i] = s.processImage(ctx, student, i, img)
		if results[i].Accepted {
			accepted++
		}
	}

	if accepted > 0 {
		s.saveSnapshot()
	}
	return results, nil
}

// processImage roda o pipeline de uma imagem. Nenhum erro individual
// aborta o lote: falhas viram motivo de descarte.
func (s *EnrollmentService) processImage(ctx context.Context, student *domain.Student, idx int, img []byte) ImageResult {
	result := ImageResult{Index: idx}

	if _, _, err := image.DecodeConfig(bytes.NewReader(img)); err != nil {
		result.Reason = SkipInvalidImage
		return result
	}

	detectCtx, cancel := context.WithTimeout(ctx, s.cfg.ImageTimeout)
	defer cancel()

	faces, err := s.provider.DetectFaces(detectCtx, img)
	if err != nil {
		reason := SkipInvalidImage
		if errors.Is(err, context.DeadlineExceeded) {
			reason = SkipTimeout
		}
		s.logger.Warn("enrollment image rejected",
			"student_id", student.ID, "image_index", idx, "reason", reason, "error", err)
		result.Reason = reason
		return result
	}

	switch {
	case len(faces) == 0:
		result.Reason = SkipNoFace
		return result
	case len(faces) > 1:
		result.Reason = SkipMultipleFaces
		return result
	case faces[0].QualityScore < s.cfg.QualityMin,
		faces[0].BoundingBox.Area() < s.cfg.MinFaceArea:
		result.Reason = SkipLowQuality
		return result
	}

	face := faces[0]

	path, err := s.store.SaveReference(student.StudentID, img)
	if err != nil {
		s.logger.Error("save reference image failed", "student_id", student.ID, "error", err)
		result.Reason = SkipInvalidImage
		return result
	}

	image := &domain.StudentImage{
		StudentID: student.ID,
		ImagePath: path,
		Embedding: face.Embedding,
	}
	if err := s.images.Create(ctx, image); err != nil {
		_ = s.store.Remove(path)
		s.logger.Error("persist reference image failed", "student_id", student.ID, "error", err)
		result.Reason = SkipInvalidImage
		return result
	}

	if _, err := s.index.Add(student.ID, face.Embedding); err != nil {
		// compensação: a linha sem slot no índice seria invisível para
		// reconhecimento e quebraria a reconstrução no boot
		_ = s.images.Delete(ctx, image.ID)
		_ = s.store.Remove(path)
		s.logger.Error("index add failed", "student_id", student.ID, "error", err)
		result.Reason = SkipInvalidImage
		return result
	}

	result.Accepted = true
	result.ImageID = image.ID
	return result
}

// DeleteStudent remove aluno, imagens, vetores e arquivos. A remoção do
// índice vem primeiro para que reconhecimentos concorrentes parem de
// apontar para um aluno que está saindo.
func (s *EnrollmentService) DeleteStudent(ctx context.Context, studentID int64) error {
	mu := s.lockStudent(studentID)
	mu.Lock()
	defer mu.Unlock()

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return err
	}

	removed := s.index.RemoveStudent(studentID)
	s.logger.Info("student vectors removed", "student_id", studentID, "count", removed)
	if removed > 0 {
		s.saveSnapshot()
	}

	if err := s.students.Delete(ctx, studentID); err != nil {
		return fmt.Errorf("delete student %d: %w", studentID, err)
	}

	if err := s.store.RemoveStudent(student.StudentID); err != nil {
		s.logger.Warn("remove student images from disk failed",
			"student_id", studentID, "error", err)
	}

	s.locks.Delete(studentID)
	return nil
}

// WarmIndex reconstrói o índice a partir dos embeddings persistidos.
// Chamado no boot quando não há snapshot utilizável em disco.
func (s *EnrollmentService) WarmIndex(ctx context.Context) (int, error) {
	images, err := s.images.ListEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm index: %w", err)
	}

	added := 0
	for _, img := range images {
		if _, err := s.index.Add(img.StudentID, img.Embedding); err != nil {
			s.logger.Warn("skip embedding during warm",
				"image_id", img.ID, "student_id", img.StudentID, "error", err)
			continue
		}
		added++
	}

	if added > 0 {
		s.saveSnapshot()
	}
	return added, nil
}

// saveSnapshot persiste o índice depois de uma mudança estrutural. Falha
// aqui não invalida a operação: o banco continua sendo a fonte de verdade
// e o boot reconstrói o índice quando o snapshot não serve.
func (s *EnrollmentService) saveSnapshot() {
	if s.cfg.SnapshotDir == "" {
		return
	}
	if err := s.index.Save(s.cfg.SnapshotDir); err != nil {
		s.logger.Warn("index snapshot failed", "error", err)
	}
}
