package provider

import (
	"context"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// FaceProvider define a interface para provedores de embedding facial
type FaceProvider interface {
	// DetectFaces detecta faces na imagem e retorna, para cada uma, o
	// bounding box, a qualidade estimada e o embedding unit-norm.
	DetectFaces(ctx context.Context, image []byte) ([]DetectedFace, error)
}

// DetectedFace represents a detected face in the image
type DetectedFace struct {
	BoundingBox  domain.BoundingBox `json:"bounding_box"`
	Confidence   float32            `json:"confidence"`
	QualityScore float32            `json:"quality_score"`
	Embedding    []float32          `json:"-"`
}
