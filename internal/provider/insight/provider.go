package insight

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
)

const (
	// embeddingDimension is the size of the vectors the sidecar returns
	embeddingDimension = 512
	// minFaceArea is the minimum face area (in pixels²) used for quality scaling
	minFaceArea = 2500 // 50x50 pixels
	// maxFaceArea is used for quality scaling
	maxFaceArea = 250000 // 500x500 pixels
)

// Provider implements provider.FaceProvider using the InsightFace sidecar
type Provider struct {
	client *Client
}

// NewProvider creates a new InsightFace provider
func NewProvider(config Config) *Provider {
	return &Provider{
		client: NewClient(config),
	}
}

// DetectFaces detects faces in the image and returns normalized embeddings
func (p *Provider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	imageBase64 := base64.StdEncoding.EncodeToString(image)

	resp, err := p.client.Extract(ctx, imageBase64)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]provider.DetectedFace, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		if len(face.Embedding) != embeddingDimension {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidDimension, len(face.Embedding))
		}

		quality := face.DetScore
		if face.Quality != nil {
			quality = *face.Quality
		} else {
			// Sidecar builds without a quality head fall back to a
			// det_score x face-size estimate.
			faceArea := float64(face.Box.W * face.Box.H)
			quality = face.DetScore * estimateQuality(faceArea)
		}

		faces = append(faces, provider.DetectedFace{
			BoundingBox: domain.BoundingBox{
				X:      float64(face.Box.X),
				Y:      float64(face.Box.Y),
				Width:  float64(face.Box.W),
				Height: float64(face.Box.H),
			},
			Confidence:   face.DetScore,
			QualityScore: quality,
			Embedding:    normalize(face.Embedding),
		})
	}

	return faces, nil
}

// estimateQuality scales a quality estimate from face area. Larger faces
// typically have better quality for embedding extraction.
func estimateQuality(faceArea float64) float32 {
	if faceArea < minFaceArea {
		return 0.4
	}
	normalized := math.Min(1.0, (faceArea-minFaceArea)/(maxFaceArea-minFaceArea))
	return float32(0.6 + (normalized * 0.35))
}

// normalize projeta o embedding na esfera unitária. Com vetores unitários,
// produto interno e similaridade coseno coincidem.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Ensure Provider implements provider.FaceProvider
var _ provider.FaceProvider = (*Provider)(nil)
