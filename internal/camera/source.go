// Package camera liga streams RTSP ao pipeline de reconhecimento. Cada
// câmera ativa tem um worker próprio com máquina de estados de conexão e
// reconexão com backoff.
package camera

import (
	"context"
	"time"
)

// Frame é um quadro JPEG lido do stream.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// FrameSource abstrai a origem dos quadros. A implementação de produção
// decodifica RTSP via ffmpeg; testes usam fontes sintéticas.
type FrameSource interface {
	// Connect abre o stream. Bloqueia até conectar ou o contexto expirar.
	Connect(ctx context.Context) error
	// Read retorna o próximo quadro. Erro indica stream perdido; o worker
	// fecha a fonte e reconecta do zero.
	Read(ctx context.Context) (Frame, error)
	// Close libera o stream. Idempotente.
	Close() error
}

// SourceFactory cria uma fonte para a URL dada. Injetada no manager para
// que testes troquem ffmpeg por fontes determinísticas.
type SourceFactory func(rtspURL string) FrameSource
