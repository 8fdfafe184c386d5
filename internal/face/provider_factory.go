package face

import (
	"fmt"

	"github.com/saturnino-fabrica-de-software/presenca/internal/config"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider/insight"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider/mock"
)

// ProviderType defines supported face embedding provider types
type ProviderType string

const (
	// ProviderTypeInsight is the InsightFace sidecar (HTTP, for prod)
	ProviderTypeInsight ProviderType = "insight"
	// ProviderTypeMock is the deterministic provider (for dev/test)
	ProviderTypeMock ProviderType = "mock"
)

// NewFaceProvider creates a FaceProvider instance based on configuration
//
// Environment variables:
//   - PROVIDER_TYPE: "insight" or "mock" (default: "insight")
//   - INSIGHT_URL: InsightFace sidecar URL (default: "http://localhost:8100")
func NewFaceProvider(cfg *config.Config) (provider.FaceProvider, error) {
	providerType := ProviderType(cfg.ProviderType)

	switch providerType {
	case ProviderTypeMock:
		return mock.New(), nil

	case ProviderTypeInsight, "":
		return createInsightProvider(cfg), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s, %s)",
			cfg.ProviderType, ProviderTypeInsight, ProviderTypeMock)
	}
}

// createInsightProvider creates an InsightFace provider instance
func createInsightProvider(cfg *config.Config) provider.FaceProvider {
	insightConfig := insight.Config{
		BaseURL: cfg.InsightURL,
	}

	if insightConfig.BaseURL == "" {
		insightConfig.BaseURL = insight.DefaultConfig().BaseURL
	}

	return insight.NewProvider(insightConfig)
}
