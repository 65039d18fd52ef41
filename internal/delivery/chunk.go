package delivery

import "unicode/utf8"

// Chunk splits line into pieces of at most n bytes, left to right, never
// cutting a UTF-8 sequence. A single rune wider than n becomes its own chunk.
func Chunk(line string, n int) []string {
	if line == "" {
		return nil
	}
	if n <= 0 || len(line) <= n {
		return []string{line}
	}

	var out []string
	for len(line) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			_, size := utf8.DecodeRuneInString(line)
			cut = size
		}
		out = append(out, line[:cut])
		line = line[cut:]
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}
