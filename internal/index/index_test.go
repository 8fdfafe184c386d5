package index

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unit devolve um vetor unit-norm com 1 na posição dada.
func unit(dim, pos int) []float32 {
	v := make([]float32, dim)
	v[pos] = 1
	return v
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = New(-4)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestIndex_AddAndSearch(t *testing.T) {
	ix, err := New(4)
	require.NoError(t, err)

	slotA, err := ix.Add(1, unit(4, 0))
	require.NoError(t, err)
	slotB, err := ix.Add(2, unit(4, 1))
	require.NoError(t, err)
	assert.NotEqual(t, slotA, slotB)
	assert.Equal(t, 2, ix.Count())
	assert.Equal(t, 2, ix.Students())

	results, err := ix.Search(unit(4, 0), 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].StudentID)
	assert.Equal(t, slotA, results[0].Slot)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestIndex_Add_WrongDimension(t *testing.T) {
	ix, err := New(4)
	require.NoError(t, err)

	_, err = ix.Add(1, make([]float32, 3))
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = ix.Search(make([]float32, 5), 1, 0)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestIndex_Add_NormalizesVectors(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	// vetor com norma 5; depois de normalizado o produto interno com ele
	// mesmo tem que ser 1
	_, err = ix.Add(1, []float32{3, 4})
	require.NoError(t, err)

	results, err := ix.Search([]float32{3, 4}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestIndex_Add_CallerMayReuseSlice(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	vec := []float32{1, 0}
	_, err = ix.Add(1, vec)
	require.NoError(t, err)

	// mutação posterior do slice do chamador não pode afetar o índice
	vec[0] = 0
	vec[1] = 1

	results, err := ix.Search([]float32{1, 0}, 1, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestIndex_Search_OneResultPerStudent(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	// dois vetores do mesmo aluno; só o melhor deve aparecer
	_, err = ix.Add(1, []float32{1, 0})
	require.NoError(t, err)
	best, err := ix.Add(1, []float32{0.9, 0.4358899})
	require.NoError(t, err)
	_, err = ix.Add(2, []float32{0, 1})
	require.NoError(t, err)

	query := []float32{0.9, 0.4358899}
	results, err := ix.Search(query, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].StudentID)
	assert.Equal(t, best, results[0].Slot)
	assert.Equal(t, int64(2), results[1].StudentID)
}

func TestIndex_Search_TieBreaksByStudentThenSlot(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	// mesmos vetores, alunos diferentes: empate exato de score
	_, err = ix.Add(7, []float32{1, 0})
	require.NoError(t, err)
	_, err = ix.Add(3, []float32{1, 0})
	require.NoError(t, err)

	results, err := ix.Search([]float32{1, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(3), results[0].StudentID)
	assert.Equal(t, int64(7), results[1].StudentID)
}

func TestIndex_Search_MinScoreAndK(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	_, err = ix.Add(1, []float32{1, 0})
	require.NoError(t, err)
	_, err = ix.Add(2, []float32{0, 1})
	require.NoError(t, err)

	// ortogonal fica abaixo do corte
	results, err := ix.Search([]float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].StudentID)

	// k limita o total mesmo com mais candidatos acima do corte
	results, err = ix.Search([]float32{0.7071, 0.7071}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// k <= 0 devolve vazio sem erro
	results, err = ix.Search([]float32{1, 0}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_RemoveSlot(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	slotA, _ := ix.Add(1, []float32{1, 0})
	slotB, _ := ix.Add(2, []float32{0, 1})

	assert.True(t, ix.RemoveSlot(slotA))
	assert.False(t, ix.RemoveSlot(slotA), "remoção repetida não é erro, só false")
	assert.Equal(t, 1, ix.Count())

	// o vetor remanescente continua pesquisável após o swap-with-last
	results, err := ix.Search([]float32{0, 1}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, slotB, results[0].Slot)
}

func TestIndex_RemoveStudent(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	_, _ = ix.Add(1, []float32{1, 0})
	_, _ = ix.Add(1, []float32{0, 1})
	_, _ = ix.Add(2, []float32{0, 1})

	assert.Equal(t, 2, ix.RemoveStudent(1))
	assert.Equal(t, 0, ix.RemoveStudent(1))
	assert.Equal(t, 0, ix.RemoveStudent(99))
	assert.Equal(t, 1, ix.Count())
	assert.Equal(t, 1, ix.Students())
}

func TestIndex_SlotsNeverReused(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	slotA, _ := ix.Add(1, []float32{1, 0})
	ix.RemoveSlot(slotA)

	slotB, _ := ix.Add(2, []float32{0, 1})
	assert.Greater(t, slotB, slotA)
}

func TestIndex_SaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	ix, err := New(3)
	require.NoError(t, err)
	slotA, _ := ix.Add(1, []float32{1, 0, 0})
	slotB, _ := ix.Add(2, []float32{0, 1, 0})
	_, _ = ix.Add(3, []float32{0, 0, 1})
	ix.RemoveSlot(slotB)

	require.NoError(t, ix.Save(dir))

	loaded, err := Load(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count())
	assert.Equal(t, 2, loaded.Students())

	results, err := loaded.Search([]float32{1, 0, 0}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].StudentID)
	assert.Equal(t, slotA, results[0].Slot)

	// slots seguem monotônicos depois do reload
	slotNew, err := loaded.Add(4, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, slotNew, int64(3))
}

func TestLoad_EmptyDirIsEmptyIndex(t *testing.T) {
	ix, err := Load(t.TempDir(), 8)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Count())
	assert.Equal(t, 8, ix.Dimension())
}

func TestLoad_CorruptSnapshots(t *testing.T) {
	dim := 2
	base := func(t *testing.T) string {
		dir := t.TempDir()
		ix, err := New(dim)
		require.NoError(t, err)
		_, _ = ix.Add(1, []float32{1, 0})
		_, _ = ix.Add(2, []float32{0, 1})
		require.NoError(t, ix.Save(dir))
		return dir
	}

	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "truncated vectors file",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Truncate(filepath.Join(dir, vectorsFile), 4))
			},
		},
		{
			name: "missing vectors file",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, vectorsFile)))
			},
		},
		{
			name: "invalid json meta",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, slotsFile), []byte("{not json"), 0o644))
			},
		},
		{
			name: "duplicate slot",
			corrupt: func(t *testing.T, dir string) {
				meta := `{"dimension":2,"next_slot":2,"entries":[{"slot":0,"student_id":1},{"slot":0,"student_id":2}]}`
				require.NoError(t, os.WriteFile(filepath.Join(dir, slotsFile), []byte(meta), 0o644))
			},
		},
		{
			name: "negative slot",
			corrupt: func(t *testing.T, dir string) {
				meta := `{"dimension":2,"next_slot":2,"entries":[{"slot":-1,"student_id":1},{"slot":1,"student_id":2}]}`
				require.NoError(t, os.WriteFile(filepath.Join(dir, slotsFile), []byte(meta), 0o644))
			},
		},
		{
			name: "dimension mismatch",
			corrupt: func(t *testing.T, dir string) {
				meta := `{"dimension":7,"next_slot":2,"entries":[]}`
				require.NoError(t, os.WriteFile(filepath.Join(dir, slotsFile), []byte(meta), 0o644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := base(t)
			tt.corrupt(t, dir)

			_, err := Load(dir, dim)
			assert.ErrorIs(t, err, ErrCorruptIndex)
		})
	}
}

func TestNormalize(t *testing.T) {
	vec := []float32{3, 4}
	normalize(vec)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	// vetor zero passa intocado
	zero := []float32{0, 0}
	normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)

	// vetor já unit-norm dentro da tolerância não é reescalado
	u := []float32{1, 0}
	normalize(u)
	assert.Equal(t, float32(1), u[0])

	var sum float64
	big := []float32{0.5, 0.5, 0.5, 0.5}
	normalize(big)
	for _, v := range big {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}
