package mock

import (
	"context"
	"crypto/sha256"
	"math"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
)

const embeddingDimension = 512

// Provider implementa provider.FaceProvider para testes e desenvolvimento
type Provider struct{}

// New cria uma nova instância do MockProvider
func New() *Provider {
	return &Provider{}
}

// DetectFaces simula detecção: uma face por imagem, com embedding
// determinístico derivado do hash dos bytes. Imagens idênticas produzem
// embeddings idênticos, o que dá reconhecimento estável nos testes.
func (p *Provider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	if len(image) < 100 {
		return nil, domain.ErrInvalidImage
	}

	return []provider.DetectedFace{
		{
			BoundingBox: domain.BoundingBox{
				X:      40,
				Y:      40,
				Width:  160,
				Height: 160,
			},
			Confidence:   0.99,
			QualityScore: 0.95,
			Embedding:    generateEmbedding(image),
		},
	}, nil
}

// generateEmbedding gera embedding unit-norm determinístico baseado no hash da imagem
func generateEmbedding(image []byte) []float32 {
	hash := sha256.Sum256(image)
	embedding := make([]float32, embeddingDimension)
	hashLen := len(hash)

	for i := 0; i < embeddingDimension; i++ {
		idx := i % hashLen
		embedding[i] = (float32(hash[idx])/255.0)*2 - 1
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	for i := range embedding {
		embedding[i] = float32(float64(embedding[i]) / norm)
	}

	return embedding
}

var _ provider.FaceProvider = (*Provider)(nil)
