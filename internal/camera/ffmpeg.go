package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// jpeg markers
var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

var errSourceClosed = errors.New("camera: source closed")

// FFmpegSource lê um stream RTSP decodificando para MJPEG via ffmpeg.
// Quadros JPEG são delimitados pelos marcadores SOI/EOI no stdout.
type FFmpegSource struct {
	url string
	fps int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc

	// pending guarda o quadro lido durante o Connect
	pending *Frame
}

// NewFFmpegSource cria uma fonte para a URL. fps limita a taxa pedida ao
// ffmpeg; o worker ainda aplica seus próprios throttles.
func NewFFmpegSource(rtspURL string, fps int) *FFmpegSource {
	if fps <= 0 {
		fps = 15
	}
	return &FFmpegSource{url: rtspURL, fps: fps}
}

// FFmpegFactory retorna uma SourceFactory de produção.
func FFmpegFactory(fps int) SourceFactory {
	return func(rtspURL string) FrameSource {
		return NewFFmpegSource(rtspURL, fps)
	}
}

func (s *FFmpegSource) Connect(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, "ffmpeg",
		"-rtsp_transport", "tcp",
		"-i", s.url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-r", fmt.Sprintf("%d", s.fps),
		"-loglevel", "error",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, 1<<20)
	s.cancel = cancel

	// Connect só retorna sucesso depois do primeiro quadro: ffmpeg aceita
	// URLs inválidas em silêncio e falha só ao ler.
	frame, err := s.readFrame(ctx)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("first frame: %w", err)
	}
	s.pending = &frame

	return nil
}

func (s *FFmpegSource) Read(ctx context.Context) (Frame, error) {
	if s.reader == nil {
		return Frame{}, errSourceClosed
	}
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}
	return s.readFrame(ctx)
}

func (s *FFmpegSource) readFrame(ctx context.Context) (Frame, error) {
	type result struct {
		frame Frame
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		data, err := scanJPEG(s.reader)
		if err != nil {
			ch <- result{err: err}
			return
		}
		ch <- result{frame: Frame{Data: data, Timestamp: time.Now()}}
	}()

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case r := <-ch:
		return r.frame, r.err
	}
}

func (s *FFmpegSource) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
		s.stdout = nil
	}
	if s.cmd != nil {
		_ = s.cmd.Wait()
		s.cmd = nil
	}
	s.reader = nil
	s.pending = nil
	return nil
}

// scanJPEG lê bytes até fechar um par SOI..EOI completo.
func scanJPEG(r *bufio.Reader) ([]byte, error) {
	// acha o início do quadro
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != jpegSOI[0] {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == jpegSOI[1] {
			break
		}
	}

	buf := bytes.NewBuffer(nil)
	buf.Write(jpegSOI)

	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if prev == jpegEOI[0] && b == jpegEOI[1] {
			return buf.Bytes(), nil
		}
		prev = b
	}
}
