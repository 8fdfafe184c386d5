// Package index mantém um índice plano de similaridade por produto interno
// sobre embeddings unit-norm. Todo o estado vive em memória; snapshots em
// disco são escritos e lidos atomicamente via Save/Load.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// normTolerance define quando um vetor já é considerado unit-norm e a
// normalização vira no-op.
const normTolerance = 1e-6

var (
	// ErrInvalidDimension indicates a vector whose length does not match the
	// index dimension.
	ErrInvalidDimension = errors.New("index: invalid embedding dimension")
	// ErrCorruptIndex indicates an on-disk snapshot that cannot be trusted.
	ErrCorruptIndex = errors.New("index: corrupt snapshot")
)

// Result é um candidato retornado por Search. No máximo um Result por aluno.
type Result struct {
	StudentID int64
	Slot      int64
	Score     float32
}

// Index é um índice flat de produto interno. Slots são atribuídos
// monotonicamente e nunca reutilizados, mesmo após remoções.
type Index struct {
	mu       sync.RWMutex
	dim      int
	nextSlot int64

	// parallel slices; position order is arbitrary and changes on removal
	vectors  []float32 // flat storage, len == len(slots)*dim
	slots    []int64
	students []int64

	bySlot    map[int64]int     // slot -> position
	byStudent map[int64][]int64 // student -> slots
}

// New cria um índice vazio com a dimensão dada.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dim)
	}
	return &Index{
		dim:       dim,
		bySlot:    make(map[int64]int),
		byStudent: make(map[int64][]int64),
	}, nil
}

// Dimension returns the embedding dimension the index accepts.
func (ix *Index) Dimension() int {
	return ix.dim
}

// Count retorna o número de vetores atualmente no índice.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.slots)
}

// Students retorna o número de alunos distintos com ao menos um vetor.
func (ix *Index) Students() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byStudent)
}

// Add insere um embedding para o aluno e retorna o slot atribuído.
// O vetor é copiado e L2-normalizado; o chamador pode reutilizar o slice.
func (ix *Index) Add(studentID int64, vec []float32) (int64, error) {
	if len(vec) != ix.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(vec), ix.dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot := ix.nextSlot
	ix.nextSlot++

	pos := len(ix.slots)
	ix.vectors = append(ix.vectors, vec...)
	normalize(ix.vectors[pos*ix.dim:])
	ix.slots = append(ix.slots, slot)
	ix.students = append(ix.students, studentID)
	ix.bySlot[slot] = pos
	ix.byStudent[studentID] = append(ix.byStudent[studentID], slot)

	return slot, nil
}

// RemoveSlot remove um único vetor pelo slot. Retorna false se o slot não
// existe (já removido ou nunca atribuído).
func (ix *Index) RemoveSlot(slot int64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeSlotLocked(slot)
}

// RemoveStudent remove todos os vetores do aluno e retorna quantos foram
// removidos. Remover um aluno desconhecido não é erro.
func (ix *Index) RemoveStudent(studentID int64) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	slots := ix.byStudent[studentID]
	removed := 0
	for _, slot := range slots {
		if ix.removeSlotLocked(slot) {
			removed++
		}
	}
	return removed
}

// removeSlotLocked compacta por swap-with-last. A posição de um vetor no
// armazenamento não tem significado; apenas slots são estáveis.
func (ix *Index) removeSlotLocked(slot int64) bool {
	pos, ok := ix.bySlot[slot]
	if !ok {
		return false
	}

	studentID := ix.students[pos]
	last := len(ix.slots) - 1

	if pos != last {
		copy(ix.vectors[pos*ix.dim:(pos+1)*ix.dim], ix.vectors[last*ix.dim:(last+1)*ix.dim])
		ix.slots[pos] = ix.slots[last]
		ix.students[pos] = ix.students[last]
		ix.bySlot[ix.slots[pos]] = pos
	}

	ix.vectors = ix.vectors[:last*ix.dim]
	ix.slots = ix.slots[:last]
	ix.students = ix.students[:last]
	delete(ix.bySlot, slot)

	remaining := ix.byStudent[studentID][:0]
	for _, s := range ix.byStudent[studentID] {
		if s != slot {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(ix.byStudent, studentID)
	} else {
		ix.byStudent[studentID] = remaining
	}

	return true
}

// Search retorna até k resultados com score >= minScore, um por aluno
// (o melhor vetor de cada aluno). Ordenação: score decrescente; empates
// por menor student id e depois menor slot.
func (ix *Index) Search(query []float32, k int, minScore float32) ([]Result, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	query = append([]float32(nil), query...)
	normalize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	best := make(map[int64]Result)
	for pos := range ix.slots {
		score := dot(query, ix.vectors[pos*ix.dim:(pos+1)*ix.dim])
		if score < minScore {
			continue
		}

		studentID := ix.students[pos]
		cur, seen := best[studentID]
		if !seen || score > cur.Score || (score == cur.Score && ix.slots[pos] < cur.Slot) {
			best[studentID] = Result{
				StudentID: studentID,
				Slot:      ix.slots[pos],
				Score:     score,
			}
		}
	}

	results := make([]Result, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].StudentID != results[j].StudentID {
			return results[i].StudentID < results[j].StudentID
		}
		return results[i].Slot < results[j].Slot
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// normalize escala o vetor para norma 1, in place. Vetores já unit-norm
// (dentro da tolerância) e o vetor zero passam intocados.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.Abs(norm-1) <= normTolerance {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
