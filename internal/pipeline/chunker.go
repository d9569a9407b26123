package pipeline

import "strings"

// DefaultChunkSize and DefaultChunkOverlap are the default chunking
// parameters (in estimated tokens).
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// separatorPriority is the recursive splitter's priority order: paragraph
// break > line break > CJK sentence punctuation > western punctuation >
// space > char. Punctuation separators retain their character as part of
// the preceding piece so sentences don't lose their terminator.
var separatorPriority = []string{
	"\n\n", "\n",
	"。", "！", "？", "；",
	". ", "! ", "? ", "; ",
	" ", "",
}

// EstimateTokens approximates a token count from raw character count, per
// a "tokens ~= 0.8 x chars" char-based estimator.
func EstimateTokens(text string) int {
	return int(0.8 * float64(len([]rune(text))))
}

// Split recursively splits text on separatorPriority until every piece fits
// within chunkSize (estimated tokens), then merges adjacent pieces back up
// to chunkSize with chunkOverlap tokens of trailing context carried into
// the next chunk, using a paragraph merge/split strategy over a fixed
// token budget and separator cascade.
func Split(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	pieces := splitRecursive(text, separatorPriority, chunkSize)
	return mergeWithOverlap(pieces, chunkSize, chunkOverlap)
}

func splitRecursive(text string, seps []string, chunkSize int) []string {
	if EstimateTokens(text) <= chunkSize || len(seps) == 0 {
		return []string{text}
	}

	sep, rest := seps[0], seps[1:]
	var parts []string
	if sep == "" {
		parts = splitByRune(text)
	} else {
		parts = splitKeepingSeparator(text, sep)
	}

	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if EstimateTokens(p) > chunkSize {
			out = append(out, splitRecursive(p, rest, chunkSize)...)
		} else {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// splitKeepingSeparator splits text on sep, re-attaching sep to the end of
// every piece but the last so punctuation/newlines aren't discarded.
func splitKeepingSeparator(text, sep string) []string {
	raw := strings.Split(text, sep)
	out := make([]string, 0, len(raw))
	for i, p := range raw {
		if i < len(raw)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitByRune(text string) []string {
	runes := []rune(text)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// mergeWithOverlap packs pieces into chunks up to chunkSize tokens, then
// carries the trailing chunkOverlap tokens of each chunk into the start of
// the next so adjacent chunks share boundary context.
func mergeWithOverlap(pieces []string, chunkSize, chunkOverlap int) []string {
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			chunks = append(chunks, content)
		}
		current.Reset()
	}

	for _, p := range pieces {
		if current.Len() > 0 && EstimateTokens(current.String())+EstimateTokens(p) > chunkSize {
			prevTail := lastNTokensAsString(current.String(), chunkOverlap)
			flush()
			current.WriteString(prevTail)
		}
		current.WriteString(p)
	}
	flush()

	return chunks
}

// lastNTokensAsString returns an approximate trailing substring of text
// worth n estimated tokens (n / 0.8 runes), used to seed overlap.
func lastNTokensAsString(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	keepRunes := int(float64(n) / 0.8)
	if keepRunes >= len(runes) {
		return text
	}
	return string(runes[len(runes)-keepRunes:])
}
