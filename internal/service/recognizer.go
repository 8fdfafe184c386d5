package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/index"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
)

// RecognizerConfig são os limiares de reconhecimento por quadro.
type RecognizerConfig struct {
	ConfidenceThreshold float32
	QualityMin          float32
	MinFaceArea         float64
}

// Recognizer transforma um quadro em matches. Não guarda estado entre
// quadros; cooldown e presença ficam nas camadas acima.
type Recognizer struct {
	logger   *slog.Logger
	provider provider.FaceProvider
	index    *index.Index
	metrics  *metrics.Metrics
	cfg      RecognizerConfig
}

func NewRecognizer(
	logger *slog.Logger,
	faceProvider provider.FaceProvider,
	ix *index.Index,
	m *metrics.Metrics,
	cfg RecognizerConfig,
) *Recognizer {
	return &Recognizer{
		logger:   logger,
		provider: faceProvider,
		index:    ix,
		metrics:  m,
		cfg:      cfg,
	}
}

// Recognize detecta faces no quadro e resolve cada uma contra o índice.
// Retorna no máximo um match por aluno: se duas faces do mesmo quadro
// resolvem para o mesmo aluno, fica a de maior score e a colisão é logada.
func (r *Recognizer) Recognize(ctx context.Context, frame []byte) ([]domain.Match, error) {
	matches, _, err := r.ScanFrame(ctx, frame)
	return matches, err
}

// ScanFrame é Recognize informando também quantas faces o provider viu no
// quadro, para que o chamador distinga "nenhuma face" de "face desconhecida".
func (r *Recognizer) ScanFrame(ctx context.Context, frame []byte) ([]domain.Match, int, error) {
	start := time.Now()
	faces, err := r.provider.DetectFaces(ctx, frame)
	if r.metrics != nil {
		r.metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, 0, fmt.Errorf("recognize: %w", err)
	}

	best := make(map[int64]domain.Match)
	for _, face := range faces {
		if face.BoundingBox.Area() < r.cfg.MinFaceArea {
			continue
		}
		if face.QualityScore < r.cfg.QualityMin {
			continue
		}

		results, err := r.index.Search(face.Embedding, 1, r.cfg.ConfidenceThreshold)
		if err != nil {
			return nil, 0, fmt.Errorf("recognize: %w", err)
		}
		if len(results) == 0 {
			continue
		}

		match := domain.Match{
			StudentID:  results[0].StudentID,
			Confidence: results[0].Score,
			Box:        face.BoundingBox,
		}

		if cur, ok := best[match.StudentID]; ok {
			r.logger.Warn("two faces resolved to the same student in one frame",
				"student_id", match.StudentID,
				"kept_score", maxScore(cur.Confidence, match.Confidence),
				"dropped_score", minScore(cur.Confidence, match.Confidence))
			if match.Confidence <= cur.Confidence {
				continue
			}
		}
		best[match.StudentID] = match
	}

	matches := make([]domain.Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	return matches, len(faces), nil
}

func maxScore(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minScore(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
