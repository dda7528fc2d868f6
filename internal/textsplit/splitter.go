// Package textsplit cuts raw text into token-bounded, overlapping chunks.
package textsplit

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultChunkLen = 512
	MaxOverlapRatio = 0.4
)

var headerLine = regexp.MustCompile(`^#{1,6}\s`)

var (
	sentenceEnds = []string{"。", "！", "？", "；", ". ", "! ", "? ", "; "}
	clauseEnds   = []string{"，", ", "}
)

// Options controls a split. Zero values fall back to the package defaults.
type Options struct {
	ChunkLen         int
	OverlapRatio     float64
	CustomDelimiters []string
	Tokenizer        Tokenizer
}

// Chunk is one slice of the input, in document order.
type Chunk struct {
	Index  int
	Text   string
	Tokens int
}

type splitter struct {
	tok          Tokenizer
	chunkLen     int
	overlapLimit int
	levels       []func(string) []string
}

// Split cuts text into chunks of at most opts.ChunkLen tokens. Boundaries are
// searched coarse to fine (custom delimiters, markdown headers, code fences,
// paragraphs, lines, sentences, clauses) before falling back to a hard token
// cut. The same input always yields the same chunks.
func Split(text string, opts Options) []Chunk {
	s := newSplitter(opts)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return []Chunk{}
	}

	sections := []string{text}
	if delims := cleanDelimiters(opts.CustomDelimiters); len(delims) > 0 {
		sections = splitDrop(text, delims)
	}

	chunks := make([]Chunk, 0, 8)
	for _, section := range sections {
		if strings.TrimSpace(section) == "" {
			continue
		}
		for _, raw := range s.merge(s.units(section, 0)) {
			body := strings.TrimSpace(raw)
			if body == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Index:  len(chunks),
				Text:   body,
				Tokens: s.tok.Count(body),
			})
		}
	}
	return chunks
}

func newSplitter(opts Options) *splitter {
	tok := opts.Tokenizer
	if tok == nil {
		tok = EstimateTokenizer{}
	}
	chunkLen := opts.ChunkLen
	if chunkLen <= 0 {
		chunkLen = DefaultChunkLen
	}
	ratio := opts.OverlapRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > MaxOverlapRatio {
		ratio = MaxOverlapRatio
	}
	return &splitter{
		tok:          tok,
		chunkLen:     chunkLen,
		overlapLimit: int(ratio * float64(chunkLen)),
		levels: []func(string) []string{
			splitHeaders,
			splitFences,
			func(t string) []string { return splitAfter(t, []string{"\n\n"}) },
			func(t string) []string { return splitAfter(t, []string{"\n"}) },
			func(t string) []string { return splitAfter(t, sentenceEnds) },
			func(t string) []string { return splitAfter(t, clauseEnds) },
		},
	}
}

// hardCutWindow bounds the runes inspected per budget token when searching
// for a cut point, so each cut costs O(budget) regardless of input length.
const hardCutWindow = 8

// unitLen is the largest unit merge accepts: it leaves room in front of every
// unit for the overlap tail of the previous chunk.
func (s *splitter) unitLen() int {
	return max(s.chunkLen-s.overlapLimit, 1)
}

// units breaks text into pieces of at most unitLen tokens, using the coarsest
// level that yields a split.
func (s *splitter) units(text string, level int) []string {
	if s.tok.Count(text) <= s.unitLen() {
		return []string{text}
	}
	if level >= len(s.levels) {
		return s.hardCut(text)
	}
	parts := s.levels[level](text)
	if len(parts) <= 1 {
		return s.units(text, level+1)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, s.units(p, level+1)...)
	}
	return out
}

// merge packs consecutive units into chunks, seeding every chunk after the
// first with the tail of its predecessor.
func (s *splitter) merge(units []string) []string {
	var chunks []string
	var cur []string
	for _, u := range units {
		if len(cur) > 0 && s.tok.Count(concat(cur)+u) > s.chunkLen {
			chunks = append(chunks, concat(cur))
			cur = s.tail(cur, min(s.overlapLimit, s.chunkLen-s.tok.Count(u)))
			for len(cur) > 0 && s.tok.Count(concat(cur)+u) > s.chunkLen {
				cur = cur[1:]
			}
		}
		cur = append(cur, u)
	}
	if len(cur) > 0 {
		chunks = append(chunks, concat(cur))
	}
	return chunks
}

// tail returns the longest run of trailing pieces of prev within budget
// tokens. When the last piece alone is over budget its trailing runes are
// used instead.
func (s *splitter) tail(prev []string, budget int) []string {
	if budget <= 0 || len(prev) == 0 {
		return nil
	}
	start := len(prev)
	for start > 0 && s.tok.Count(concat(prev[start-1:])) <= budget {
		start--
	}
	if start < len(prev) {
		return append([]string(nil), prev[start:]...)
	}

	runes := []rune(prev[len(prev)-1])
	span := min(len(runes), budget*hardCutWindow)
	n := sort.Search(span+1, func(n int) bool {
		return s.tok.Count(string(runes[len(runes)-n:])) > budget
	}) - 1
	if n <= 0 {
		return nil
	}
	return []string{string(runes[len(runes)-n:])}
}

// hardCut splits text with no usable separator into unitLen pieces, backing
// off to the last whitespace in the second half of a piece when there is one.
func (s *splitter) hardCut(text string) []string {
	runes := []rune(text)
	limit := s.unitLen()
	var out []string
	for len(runes) > 0 {
		span := min(len(runes), limit*hardCutWindow)
		n := sort.Search(span+1, func(n int) bool {
			return s.tok.Count(string(runes[:n])) > limit
		}) - 1
		if n < 1 {
			n = 1
		}
		if n < len(runes) {
			for i := n; i > n/2; i-- {
				if unicode.IsSpace(runes[i-1]) {
					n = i
					break
				}
			}
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// splitAfter cuts text after every separator occurrence; the separator stays
// with the preceding part so the parts concatenate back to text.
func splitAfter(text string, seps []string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(text); {
		matched := 0
		for _, sep := range seps {
			if strings.HasPrefix(text[i:], sep) && len(sep) > matched {
				matched = len(sep)
			}
		}
		if matched == 0 {
			i++
			continue
		}
		i += matched
		parts = append(parts, text[start:i])
		start = i
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// splitDrop cuts text at every delimiter and removes the delimiters.
func splitDrop(text string, delims []string) []string {
	parts := []string{text}
	for _, d := range delims {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, d)...)
		}
		parts = next
	}
	return parts
}

// splitHeaders starts a new part at every markdown header line.
func splitHeaders(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	var parts []string
	var b strings.Builder
	for _, line := range lines {
		if headerLine.MatchString(line) && b.Len() > 0 {
			parts = append(parts, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

// splitFences isolates fenced code blocks so prose splitting never lands inside one
// unless the block is too large on its own.
func splitFences(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	var parts []string
	var b strings.Builder
	inFence := false
	for _, line := range lines {
		isFence := strings.HasPrefix(strings.TrimSpace(line), "```")
		if isFence && !inFence && b.Len() > 0 {
			parts = append(parts, b.String())
			b.Reset()
		}
		b.WriteString(line)
		if isFence {
			if inFence {
				parts = append(parts, b.String())
				b.Reset()
			}
			inFence = !inFence
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

func cleanDelimiters(delims []string) []string {
	out := make([]string, 0, len(delims))
	for _, d := range delims {
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func concat(parts []string) string {
	return strings.Join(parts, "")
}
