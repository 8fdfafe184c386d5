package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	vectorsFile = "vectors.f32"
	slotsFile   = "slots.json"
)

// snapshotMeta é o conteúdo de slots.json. A ordem de entries corresponde à
// ordem dos vetores em vectors.f32.
type snapshotMeta struct {
	Dimension int             `json:"dimension"`
	NextSlot  int64           `json:"next_slot"`
	Entries   []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Slot      int64 `json:"slot"`
	StudentID int64 `json:"student_id"`
}

// Save grava um snapshot do índice em dir. Cada arquivo é escrito em um
// temporário e renomeado por cima do destino, então leitores nunca observam
// um snapshot parcialmente escrito.
func (ix *Index) Save(dir string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	buf := make([]byte, len(ix.vectors)*4)
	for i, v := range ix.vectors {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if err := writeAtomic(filepath.Join(dir, vectorsFile), buf); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}

	meta := snapshotMeta{
		Dimension: ix.dim,
		NextSlot:  ix.nextSlot,
		Entries:   make([]snapshotEntry, len(ix.slots)),
	}
	for i := range ix.slots {
		meta.Entries[i] = snapshotEntry{Slot: ix.slots[i], StudentID: ix.students[i]}
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal index meta: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, slotsFile), metaBytes); err != nil {
		return fmt.Errorf("write slots: %w", err)
	}

	return nil
}

// Load lê um snapshot de dir e retorna um índice populado. Um diretório sem
// snapshot retorna um índice vazio com a dimensão pedida. Qualquer
// inconsistência entre os dois arquivos resulta em ErrCorruptIndex.
func Load(dir string, dim int) (*Index, error) {
	ix, err := New(dim)
	if err != nil {
		return nil, err
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, slotsFile))
	if errors.Is(err, os.ErrNotExist) {
		return ix, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read slots: %w", err)
	}

	var meta snapshotMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if meta.Dimension != dim {
		return nil, fmt.Errorf("%w: snapshot dimension %d, want %d", ErrCorruptIndex, meta.Dimension, dim)
	}

	vecBytes, err := os.ReadFile(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if len(vecBytes) != len(meta.Entries)*dim*4 {
		return nil, fmt.Errorf("%w: vectors file has %d bytes, want %d",
			ErrCorruptIndex, len(vecBytes), len(meta.Entries)*dim*4)
	}

	maxSlot := int64(-1)
	for i, entry := range meta.Entries {
		if entry.Slot < 0 {
			return nil, fmt.Errorf("%w: negative slot %d", ErrCorruptIndex, entry.Slot)
		}
		if _, dup := ix.bySlot[entry.Slot]; dup {
			return nil, fmt.Errorf("%w: duplicate slot %d", ErrCorruptIndex, entry.Slot)
		}
		if entry.Slot > maxSlot {
			maxSlot = entry.Slot
		}

		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(vecBytes[(i*dim+j)*4:]))
		}

		pos := len(ix.slots)
		ix.vectors = append(ix.vectors, vec...)
		ix.slots = append(ix.slots, entry.Slot)
		ix.students = append(ix.students, entry.StudentID)
		ix.bySlot[entry.Slot] = pos
		ix.byStudent[entry.StudentID] = append(ix.byStudent[entry.StudentID], entry.Slot)
	}

	// NextSlot must stay ahead of every persisted slot so ids are never
	// reused after a reload.
	ix.nextSlot = meta.NextSlot
	if ix.nextSlot <= maxSlot {
		ix.nextSlot = maxSlot + 1
	}

	return ix, nil
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
