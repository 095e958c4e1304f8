package evidence

import (
	"fmt"
	"path/filepath"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/clauselens/clauselens/internal/solidity"
	"github.com/clauselens/clauselens/internal/types"
)

// ChunkOptions controls line-window chunking.
type ChunkOptions struct {
	Lines   int
	Overlap int
}

func (c ChunkOptions) withDefaults() ChunkOptions {
	if c.Lines <= 0 {
		c.Lines = 40
	}
	if c.Overlap < 0 || c.Overlap >= c.Lines {
		c.Overlap = c.Lines / 4
	}
	return c
}

// SpanID derives a stable span id from its artifact and byte range.
func SpanID(artifactID string, start, end int) string {
	return fmt.Sprintf("span:%016x", xxhash.Sum64String(fmt.Sprintf("%s|%d|%d", artifactID, start, end)))
}

// Chunk cuts an artifact into spans. Solidity sources are cut at declaration
// boundaries and bytecode yields no spans. Anything else, including sources
// that fail to parse, falls back to overlapping line windows.
func Chunk(art types.Artifact, content []byte, opts ChunkOptions) []types.EvidenceSpan {
	opts = opts.withDefaults()
	if art.Kind == types.KindBytecode {
		return nil
	}
	if art.Kind == types.KindSource && strings.EqualFold(filepath.Ext(art.Name), ".sol") {
		if spans := declarationSpans(art, content); len(spans) > 0 {
			return spans
		}
	}
	return lineSpans(art, content, opts)
}

func declarationSpans(art types.Artifact, content []byte) []types.EvidenceSpan {
	u, err := solidity.Parse(art.Name, content)
	if err != nil {
		return nil
	}
	var out []types.EvidenceSpan
	for _, c := range u.Contracts {
		for _, sym := range c.Symbols {
			if sym.EndByte <= sym.StartByte {
				continue
			}
			out = append(out, types.EvidenceSpan{
				ID:         SpanID(art.ID, sym.StartByte, sym.EndByte),
				DocumentID: art.ID,
				Path:       art.Name,
				StartByte:  sym.StartByte,
				EndByte:    sym.EndByte,
				StartLine:  sym.StartLine,
				EndLine:    sym.EndLine,
				Symbol:     sym.Name,
				Text:       string(content[sym.StartByte:sym.EndByte]),
			})
		}
	}
	return out
}

func lineSpans(art types.Artifact, content []byte, opts ChunkOptions) []types.EvidenceSpan {
	var starts []int
	starts = append(starts, 0)
	for i, c := range content {
		if c == '\n' && i+1 < len(content) {
			starts = append(starts, i+1)
		}
	}
	step := opts.Lines - opts.Overlap
	var out []types.EvidenceSpan
	for first := 0; first < len(starts); first += step {
		last := first + opts.Lines
		if last > len(starts) {
			last = len(starts)
		}
		start := starts[first]
		end := len(content)
		if last < len(starts) {
			end = starts[last]
		}
		text := string(content[start:end])
		if strings.TrimSpace(text) != "" {
			out = append(out, types.EvidenceSpan{
				ID:         SpanID(art.ID, start, end),
				DocumentID: art.ID,
				Path:       art.Name,
				StartByte:  start,
				EndByte:    end,
				StartLine:  first + 1,
				EndLine:    last,
				Text:       text,
			})
		}
		if last == len(starts) {
			break
		}
	}
	return out
}
