package extraction

import (
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/ihm-parser/internal/pdftext"
)

// SplitPages cuts page-tagged text back into per-page blocks, each starting with its
// page marker. Blank blocks are dropped.
func SplitPages(text string) []string {
	parts := strings.Split(text, "\n\n"+pdftext.PageMarkerPrefix)
	blocks := make([]string, 0, len(parts))
	for i, p := range parts {
		if i == 0 {
			p = strings.TrimLeft(p, " \t\r\n")
		}
		if strings.TrimSpace(p) == "" {
			continue
		}
		if !strings.HasPrefix(p, pdftext.PageMarkerPrefix) {
			p = pdftext.PageMarkerPrefix + p
		}
		blocks = append(blocks, p)
	}
	return blocks
}

// ChunkPages greedily packs page blocks into chunks of at most budget characters, joined
// by a blank line. A page is never split; one larger than the budget becomes its own chunk.
func ChunkPages(text string, budget int) []string {
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	for _, block := range SplitPages(text) {
		n := utf8.RuneCountInString(block)
		if curLen+n+2 > budget && curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(block)
		curLen += n
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
