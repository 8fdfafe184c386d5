package config

import (
	"log/slog"
	"os"
)

// NewLogger devolve o logger padrão do serviço: JSON em produção (nível
// info), texto com source em desenvolvimento (nível debug, útil para
// acompanhar os workers de câmera).
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: env == "development",
	}

	var handler slog.Handler
	if env == "production" {
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(slog.String("service", "presenca"))
}
