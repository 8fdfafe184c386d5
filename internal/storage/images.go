// Package storage guarda imagens de referência e snapshots de check-in no
// disco local, sob um diretório raiz configurável.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

type ImageStore struct {
	root string
}

func NewImageStore(root string) (*ImageStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create image root: %w", err)
	}
	return &ImageStore{root: root}, nil
}

// SaveReference grava uma imagem de cadastro sob <root>/students/<número>/.
// O nome do arquivo é um UUID para evitar colisão entre uploads.
func (s *ImageStore) SaveReference(studentNumber string, data []byte) (string, error) {
	dir := filepath.Join(s.root, "students", studentNumber)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create student dir: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()+".jpg")
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("write reference image: %w", err)
	}

	return path, nil
}

// SaveSnapshot grava o quadro que gerou um check-in, particionado por dia.
func (s *ImageStore) SaveSnapshot(day time.Time, cameraID int64, data []byte) (string, error) {
	dir := filepath.Join(s.root, "snapshots", day.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("cam%d_%s.jpg", cameraID, uuid.New().String())
	path := filepath.Join(dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// RemoveStudent apaga o diretório de referências do aluno. Ausência do
// diretório não é erro.
func (s *ImageStore) RemoveStudent(studentNumber string) error {
	dir := filepath.Join(s.root, "students", studentNumber)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove student dir: %w", err)
	}
	return nil
}

// Remove apaga um único arquivo. Usado na compensação quando o cadastro de
// uma imagem falha no meio.
func (s *ImageStore) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
