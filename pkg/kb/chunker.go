package kb

import "strings"

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// splitChunks breaks content into chunks of at most size runes, carrying
// the last overlap runes of each chunk into the next so context survives
// the cut. Splits prefer line boundaries; a single line longer than size
// is cut hard. Chunks are trimmed and empty ones dropped.
func splitChunks(content string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	var chunks []string
	var current []rune
	carried := 0 // prefix of current that is overlap from the previous chunk

	// flush records current as a chunk, but only when something beyond
	// the carried overlap was added, so boundary-aligned content never
	// re-emits its own tail.
	flush := func() {
		if strings.TrimSpace(string(current[carried:])) == "" {
			return
		}
		if text := strings.TrimSpace(string(current)); text != "" {
			chunks = append(chunks, text)
		}
	}

	emit := func() {
		flush()
		if overlap > 0 && len(current) > overlap {
			keep := make([]rune, overlap)
			copy(keep, current[len(current)-overlap:])
			current = keep
			carried = overlap
		} else {
			current = current[:0]
			carried = 0
		}
	}

	for _, line := range strings.Split(content, "\n") {
		runes := []rune(line + "\n")

		for len(runes) > 0 {
			room := size - len(current)
			if room <= 0 {
				emit()
				room = size - len(current)
			}
			take := min(len(runes), room)
			current = append(current, runes[:take]...)
			runes = runes[take:]

			if len(current) >= size {
				emit()
			}
		}
	}

	flush()

	return chunks
}
