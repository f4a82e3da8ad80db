package text

import (
	"regexp"
	"strings"
)

// Chunk is one indexed segment of a document. StartChar/EndChar are byte
// offsets into the input text, so Content == text[StartChar:EndChar].
type Chunk struct {
	Content      string
	Index        int
	StartChar    int
	EndChar      int
	TokenCount   int
	PageNumber   int // 0 when the source has no page markers
	SectionTitle string
}

// Chunker splits extracted text into overlapping, token-bounded chunks.
// Chunking is deterministic: the same text with the same parameters always
// yields the same boundaries, which is what makes re-ingestion comparisons
// and vector-id derivation safe.
type Chunker struct {
	targetTokens  int
	overlapTokens int
}

func NewChunker(targetTokens, overlapTokens int) *Chunker {
	if targetTokens <= 0 {
		targetTokens = 1000
	}
	if overlapTokens < 0 || overlapTokens >= targetTokens {
		overlapTokens = targetTokens / 10
	}
	return &Chunker{targetTokens: targetTokens, overlapTokens: overlapTokens}
}

var (
	pageMarkerRe   = regexp.MustCompile(`\[Page (\d+)\]`)
	sectionTitleRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*$`)
)

// Chunk splits text on sentence and line boundaries, packing segments up to
// the token target and carrying overlapTokens of trailing context into the
// next chunk. Only a single segment longer than the target is ever split
// mid-sentence, and then on word boundaries.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pages := pageOffsets(text)

	var segs []span
	for _, s := range segmentSpans(text) {
		if s.tokens > c.targetTokens {
			segs = append(segs, splitWords(text, s, c.targetTokens)...)
		} else {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return nil
	}

	var chunks []Chunk
	i := 0
	for i < len(segs) {
		j := i
		tokens := 0
		for j < len(segs) && (j == i || tokens+segs[j].tokens <= c.targetTokens) {
			tokens += segs[j].tokens
			j++
		}

		start, end := segs[i].start, segs[j-1].end
		content := text[start:end]
		chunks = append(chunks, Chunk{
			Content:      content,
			Index:        len(chunks),
			StartChar:    start,
			EndChar:      end,
			TokenCount:   tokens,
			PageNumber:   pageFor(start, pages),
			SectionTitle: sectionTitle(content),
		})

		if j >= len(segs) {
			break
		}

		// Back up over trailing segments worth up to overlapTokens, but
		// always advance past the previous chunk's first segment.
		k := j
		overlap := 0
		for k > i+1 && overlap+segs[k-1].tokens <= c.overlapTokens {
			overlap += segs[k-1].tokens
			k--
		}
		i = k
	}

	return chunks
}

// span is a trimmed byte range of the input with its token count. Tokens are
// approximated as whitespace-separated words.
type span struct {
	start, end, tokens int
}

func segmentSpans(text string) []span {
	var spans []span
	start := -1

	flush := func(end int) {
		if start < 0 {
			return
		}
		s, e := start, end
		for s < e && isSpace(text[s]) {
			s++
		}
		for e > s && isSpace(text[e-1]) {
			e--
		}
		if e > s {
			spans = append(spans, span{start: s, end: e, tokens: len(strings.Fields(text[s:e]))})
		}
		start = -1
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if start < 0 {
			if !isSpace(ch) {
				start = i
			}
			continue
		}
		if ch == '\n' {
			flush(i)
			continue
		}
		if (ch == '.' || ch == '!' || ch == '?') && i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n') {
			flush(i + 1)
		}
	}
	flush(len(text))

	return spans
}

// splitWords breaks an oversized segment into word-aligned pieces of at most
// maxTokens each.
func splitWords(text string, s span, maxTokens int) []span {
	var out []span
	wordStart := -1
	pieceStart := -1
	pieceEnd := -1
	count := 0

	emit := func() {
		if pieceStart >= 0 && count > 0 {
			out = append(out, span{start: pieceStart, end: pieceEnd, tokens: count})
		}
		pieceStart, pieceEnd, count = -1, -1, 0
	}

	closeWord := func(end int) {
		if wordStart < 0 {
			return
		}
		if pieceStart < 0 {
			pieceStart = wordStart
		}
		pieceEnd = end
		count++
		wordStart = -1
		if count >= maxTokens {
			emit()
		}
	}

	for i := s.start; i < s.end; i++ {
		if isSpace(text[i]) {
			closeWord(i)
		} else if wordStart < 0 {
			wordStart = i
		}
	}
	closeWord(s.end)
	emit()

	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// pageOffsets maps marker byte offsets to page numbers, in document order.
type pageOffset struct {
	offset int
	page   int
}

func pageOffsets(text string) []pageOffset {
	matches := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	out := make([]pageOffset, 0, len(matches))
	for _, m := range matches {
		page := 0
		for _, d := range text[m[2]:m[3]] {
			page = page*10 + int(d-'0')
		}
		out = append(out, pageOffset{offset: m[0], page: page})
	}
	return out
}

func pageFor(offset int, pages []pageOffset) int {
	current := 0
	for _, p := range pages {
		if p.offset > offset {
			break
		}
		current = p.page
	}
	return current
}

func sectionTitle(content string) string {
	if m := sectionTitleRe.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}
