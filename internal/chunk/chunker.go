// Package chunk splits normalized document text into ordered, typed chunks
// whose concatenation reproduces the text.
package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

// Strategies. Only fixed-size is implemented; the rest fall back to it.
const (
	StrategyFixedSize = "fixed-size"
	StrategySemantic  = "semantic"
	StrategyParagraph = "paragraph"
	StrategySection   = "section"
)

type Config struct {
	Size     int
	Strategy string
	// Overlap repeats the tail of each window at the start of the next.
	// Concatenation is exact only when Overlap is 0.
	Overlap      int
	CharsPerPage int
}

func DefaultConfig() Config {
	return Config{Size: 800, Strategy: StrategyFixedSize, CharsPerPage: 2000}
}

// Output is the chunk list plus aggregate counts.
type Output struct {
	Chunks         []entity.Chunk
	Method         string
	TypeCounts     map[entity.ChunkType]int
	AverageQuality float64
	TotalTokens    int
	Warnings       []string
}

// TokenCounter reports the token length of a chunk.
type TokenCounter interface {
	Count(text string) int
}

type Chunker struct {
	cfg     Config
	counter TokenCounter
	logger  *slog.Logger
}

// NewChunker validates cfg. counter may be nil to skip token counts.
func NewChunker(cfg Config, counter TokenCounter, logger *slog.Logger) (*Chunker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFixedSize
	}
	if cfg.CharsPerPage <= 0 {
		cfg.CharsPerPage = 2000
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg, counter: counter, logger: logger}, nil
}

func (c Config) validate() error {
	switch {
	case c.Size <= 0:
		return common.NewAppError(common.CodeChunking, fmt.Sprintf("chunk size must be positive, got %d", c.Size), nil)
	case c.Overlap < 0:
		return common.NewAppError(common.CodeChunking, "overlap cannot be negative", nil)
	case c.Overlap >= c.Size:
		return common.NewAppError(common.CodeChunking, fmt.Sprintf("overlap %d must be smaller than size %d", c.Overlap, c.Size), nil)
	}
	return nil
}

type span struct{ start, end int }

// Chunk splits text. It fails only on blank text.
func (c *Chunker) Chunk(ctx context.Context, text string) (Output, error) {
	start := time.Now()
	logger := common.LoggerFromContext(ctx, c.logger)

	if strings.TrimSpace(text) == "" {
		return Output{}, common.NewAppError(common.CodeChunking, "text is empty", nil)
	}

	out := Output{Method: StrategyFixedSize, TypeCounts: map[entity.ChunkType]int{}}
	if c.cfg.Strategy != StrategyFixedSize {
		msg := fmt.Sprintf("strategy %q not implemented, using %s", c.cfg.Strategy, StrategyFixedSize)
		out.Warnings = append(out.Warnings, msg)
		logger.Warn("chunk.strategy_fallback", "requested", c.cfg.Strategy)
	}

	runes := []rune(text)
	spans := c.windows(runes)

	out.Chunks = make([]entity.Chunk, 0, len(spans))
	var qualitySum float64
	for i, sp := range spans {
		content := string(runes[sp.start:sp.end])
		ch := entity.Chunk{
			ChunkNumber:    i + 1,
			ChunkType:      classify(i, sp.start, len(runes), content),
			Content:        content,
			ContentLength:  sp.end - sp.start,
			StartOffset:    sp.start,
			EndOffset:      sp.end,
			PageStart:      sp.start/c.cfg.CharsPerPage + 1,
			PageEnd:        (sp.end-1)/c.cfg.CharsPerPage + 1,
			QualityScore:   Quality(content),
			ChunkingMethod: out.Method,
		}
		if c.counter != nil {
			n := c.counter.Count(content)
			ch.TokenCount = &n
			out.TotalTokens += n
		}
		qualitySum += ch.QualityScore
		out.TypeCounts[ch.ChunkType]++
		out.Chunks = append(out.Chunks, ch)
	}
	out.AverageQuality = qualitySum / float64(len(out.Chunks))

	logger.Info("chunk.ok",
		"chunks", len(out.Chunks),
		"size", c.cfg.Size,
		"overlap", c.cfg.Overlap,
		"avg_quality", out.AverageQuality,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// windows cuts runes into fixed windows. Without overlap, whitespace-only
// windows are folded into the previous chunk, or into the next one when no
// chunk exists yet, so every rune belongs to exactly one chunk. With overlap
// they are dropped.
func (c *Chunker) windows(runes []rune) []span {
	n := len(runes)
	step := c.cfg.Size - c.cfg.Overlap
	var spans []span
	pending := -1
	for s := 0; s < n; s += step {
		e := min(s+c.cfg.Size, n)
		if isBlank(runes[s:e]) {
			if c.cfg.Overlap == 0 {
				switch {
				case len(spans) > 0:
					spans[len(spans)-1].end = e
				case pending < 0:
					pending = s
				}
			}
		} else {
			from := s
			if pending >= 0 {
				from, pending = pending, -1
			}
			spans = append(spans, span{from, e})
		}
		if e == n {
			break
		}
	}
	return spans
}

func isBlank(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Reconstruct concatenates chunks in order, dropping overlapped prefixes.
func Reconstruct(chunks []entity.Chunk) string {
	var b strings.Builder
	end := 0
	for _, ch := range chunks {
		content := ch.Content
		if ch.StartOffset < end {
			skip := end - ch.StartOffset
			rs := []rune(content)
			if skip >= len(rs) {
				continue
			}
			content = string(rs[skip:])
		}
		b.WriteString(content)
		if ch.EndOffset > end {
			end = ch.EndOffset
		}
	}
	return b.String()
}

var (
	summaryCues = []string{"resumen", "summary", "en conclusión", "en conclusion", "in conclusion", "conclusiones", "en resumen"}
	tableCues   = []string{"tabla", "table"}
)

// classify picks the chunk type from position first, then lexical cues.
func classify(index, start, total int, content string) entity.ChunkType {
	switch {
	case index == 0:
		return entity.ChunkHeader
	case float64(start) >= 0.9*float64(total):
		return entity.ChunkConclusion
	}

	lower := strings.ToLower(content)
	var piped, listed int
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.Count(line, "|") >= 2 || strings.Contains(line, "\t") {
			piped++
		}
		if isListItem(line) {
			listed++
		}
	}
	switch {
	case piped >= 2 || (piped >= 1 && containsAny(lower, tableCues)):
		return entity.ChunkTable
	case listed >= 2:
		return entity.ChunkList
	case containsAny(lower, summaryCues):
		return entity.ChunkSummary
	default:
		return entity.ChunkContent
	}
}

func isListItem(line string) bool {
	if line == "" {
		return false
	}
	r, size := utf8.DecodeRuneInString(line)
	if strings.ContainsRune("-*•·", r) && len(line) > size && line[size] == ' ' {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line)-1 && (line[i] == '.' || line[i] == ')') && line[i+1] == ' '
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
