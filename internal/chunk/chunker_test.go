package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

func newChunker(t *testing.T, cfg Config, counter TokenCounter) *Chunker {
	t.Helper()
	c, err := NewChunker(cfg, counter, nil)
	require.NoError(t, err)
	return c
}

// prose returns n runes of sentence-like text.
func prose(n int) string {
	const unit = "La junta aprobó las cuentas del ejercicio. "
	rs := []rune(strings.Repeat(unit, n/len(unit)+1))
	return string(rs[:n])
}

func assertContiguous(t *testing.T, text string, chunks []entity.Chunk) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].StartOffset)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndOffset, chunks[i].StartOffset, "chunk %d", i+1)
		assert.Equal(t, i+1, chunks[i].ChunkNumber)
	}
	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].EndOffset)
	assert.Equal(t, text, Reconstruct(chunks))

	var concat strings.Builder
	for _, ch := range chunks {
		concat.WriteString(ch.Content)
	}
	assert.Equal(t, text, concat.String())
}

func TestChunkFixedWindows(t *testing.T) {
	text := prose(2000)
	out, err := newChunker(t, DefaultConfig(), nil).Chunk(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, out.Chunks, 3)
	want := [][2]int{{0, 800}, {800, 1600}, {1600, 2000}}
	for i, ch := range out.Chunks {
		assert.Equal(t, want[i][0], ch.StartOffset)
		assert.Equal(t, want[i][1], ch.EndOffset)
		assert.Equal(t, want[i][1]-want[i][0], ch.ContentLength)
		assert.Equal(t, StrategyFixedSize, ch.ChunkingMethod)
		assert.Equal(t, 1, ch.PageStart)
		assert.Equal(t, 1, ch.PageEnd)
		assert.Nil(t, ch.TokenCount)
	}
	assert.Equal(t, entity.ChunkHeader, out.Chunks[0].ChunkType)
	assert.Equal(t, entity.ChunkContent, out.Chunks[1].ChunkType)
	assert.Equal(t, entity.ChunkContent, out.Chunks[2].ChunkType, "starts before the final tenth")
	assert.Equal(t, 1, out.TypeCounts[entity.ChunkHeader])
	assertContiguous(t, text, out.Chunks)
}

func TestChunkWhitespaceWindows(t *testing.T) {
	cfg := Config{Size: 10}

	t.Run("Should fold a blank middle window into the previous chunk", func(t *testing.T) {
		text := "abcdefghij" + strings.Repeat(" ", 10) + "klmnopqrst"
		out, err := newChunker(t, cfg, nil).Chunk(context.Background(), text)
		require.NoError(t, err)
		require.Len(t, out.Chunks, 2)
		assert.Equal(t, 20, out.Chunks[0].EndOffset)
		assertContiguous(t, text, out.Chunks)
	})

	t.Run("Should fold a blank leading window into the first chunk", func(t *testing.T) {
		text := strings.Repeat("\n", 10) + "abcdefghij" + "kl"
		out, err := newChunker(t, cfg, nil).Chunk(context.Background(), text)
		require.NoError(t, err)
		require.Len(t, out.Chunks, 2)
		assert.Equal(t, 0, out.Chunks[0].StartOffset)
		assert.Equal(t, entity.ChunkHeader, out.Chunks[0].ChunkType)
		assertContiguous(t, text, out.Chunks)
	})

	t.Run("Should keep a blank tail inside the last chunk", func(t *testing.T) {
		text := "abcdefghijkl" + strings.Repeat(" ", 18)
		out, err := newChunker(t, cfg, nil).Chunk(context.Background(), text)
		require.NoError(t, err)
		require.Len(t, out.Chunks, 2)
		assertContiguous(t, text, out.Chunks)
	})
}

func TestChunkMultibyte(t *testing.T) {
	text := strings.Repeat("ñá€", 7)
	out, err := newChunker(t, Config{Size: 5}, nil).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, out.Chunks, 5)
	assert.Equal(t, 5, out.Chunks[0].ContentLength)
	assertContiguous(t, text, out.Chunks)
}

func TestChunkPages(t *testing.T) {
	text := prose(4500)
	out, err := newChunker(t, Config{Size: 1500, CharsPerPage: 2000}, nil).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, out.Chunks, 3)
	assert.Equal(t, [2]int{1, 1}, [2]int{out.Chunks[0].PageStart, out.Chunks[0].PageEnd})
	assert.Equal(t, [2]int{1, 2}, [2]int{out.Chunks[1].PageStart, out.Chunks[1].PageEnd})
	assert.Equal(t, [2]int{2, 3}, [2]int{out.Chunks[2].PageStart, out.Chunks[2].PageEnd})
}

func TestChunkOverlap(t *testing.T) {
	text := prose(100)
	out, err := newChunker(t, Config{Size: 40, Overlap: 10}, nil).Chunk(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, out.Chunks, 3)
	assert.Equal(t, 30, out.Chunks[1].StartOffset)
	assert.Equal(t, 60, out.Chunks[2].StartOffset)
	assert.Equal(t, 100, out.Chunks[2].EndOffset)
	assert.Equal(t, text, Reconstruct(out.Chunks))
}

func TestChunkStrategyFallback(t *testing.T) {
	out, err := newChunker(t, Config{Size: 800, Strategy: StrategySemantic}, nil).Chunk(context.Background(), prose(900))
	require.NoError(t, err)
	assert.Equal(t, StrategyFixedSize, out.Method)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "semantic")
}

type runeCounter struct{}

func (runeCounter) Count(text string) int { return len([]rune(text)) / 4 }

func TestChunkTokenCounts(t *testing.T) {
	out, err := newChunker(t, Config{Size: 80}, runeCounter{}).Chunk(context.Background(), prose(160))
	require.NoError(t, err)
	require.Len(t, out.Chunks, 2)
	for _, ch := range out.Chunks {
		require.NotNil(t, ch.TokenCount)
		assert.Equal(t, 20, *ch.TokenCount)
	}
	assert.Equal(t, 40, out.TotalTokens)
}

func TestChunkDegenerateInput(t *testing.T) {
	c := newChunker(t, DefaultConfig(), nil)
	for _, text := range []string{"", "   \n\t  "} {
		_, err := c.Chunk(context.Background(), text)
		assert.ErrorIs(t, err, common.ErrChunking)
	}

	for _, cfg := range []Config{{Size: 0}, {Size: -5}, {Size: 10, Overlap: 10}, {Size: 10, Overlap: -1}} {
		_, err := NewChunker(cfg, nil, nil)
		assert.ErrorIs(t, err, common.ErrChunking, "%+v", cfg)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		index   int
		start   int
		content string
		want    entity.ChunkType
	}{
		{"Should mark the first chunk as header", 0, 0, "| a | b |\n| c | d |", entity.ChunkHeader},
		{"Should mark the final tenth as conclusion", 3, 950, "texto normal", entity.ChunkConclusion},
		{"Should detect a pipe table", 1, 100, "| concepto | importe |\n| limpieza | 100 |", entity.ChunkTable},
		{"Should detect a tab table", 1, 100, "concepto\timporte\nlimpieza\t100", entity.ChunkTable},
		{"Should detect bullets", 1, 100, "Acuerdos:\n- pintar fachada\n- cambiar ascensor", entity.ChunkList},
		{"Should detect a numbered list", 1, 100, "1. Lectura del acta\n2) Aprobación de cuentas", entity.ChunkList},
		{"Should detect a summary cue", 1, 100, "En resumen, se aprueban las cuentas.", entity.ChunkSummary},
		{"Should default to content", 1, 100, "Se informa a los vecinos de la revisión.", entity.ChunkContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.index, tt.start, 1000, tt.content))
		})
	}
}

func TestQuality(t *testing.T) {
	assert.InDelta(t, 0.5, Quality("short"), 1e-9)
	assert.InDelta(t, 0.9, Quality(prose(300)+"\n\nMore. Text."), 1e-9)
	assert.InDelta(t, 0.4, Quality("§§§¤¤¤"), 1e-9)
	assert.InDelta(t, 0.6, Quality("One. Two."), 1e-9)
}
