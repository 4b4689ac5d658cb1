package indexer

import (
	"unicode"
)

// Preprocess normalizes text for chunking (trim, collapse whitespace).
func Preprocess(text string) string {
	out, _ := preprocessRunes(text)
	return string(out)
}

// preprocessRunes is Preprocess that also returns, for every rune offset of the
// input (plus one past the end), the matching offset in the output.
func preprocessRunes(text string) ([]rune, []int) {
	in := []rune(text)
	out := make([]rune, 0, len(in))
	offsets := make([]int, len(in)+1)
	pendingSpace := false
	for i, r := range in {
		if unicode.IsSpace(r) {
			offsets[i] = len(out)
			if len(out) > 0 {
				pendingSpace = true
			}
			continue
		}
		if pendingSpace {
			out = append(out, ' ')
			pendingSpace = false
		}
		offsets[i] = len(out)
		out = append(out, r)
	}
	offsets[len(in)] = len(out)
	for i := range offsets {
		if offsets[i] > len(out) {
			offsets[i] = len(out)
		}
	}
	return out, offsets
}
