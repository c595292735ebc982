package adapter

import (
	"strings"
	"unicode/utf8"
)

// textLimit stays under Telegram's 4096 limit with room for entities.
const textLimit = 4000

// splitText packs whole lines of s into chunks of at most limit runes. Only a
// single line longer than limit is cut mid-line.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var (
		chunks []string
		cur    strings.Builder
		size   int
	)
	flush := func() {
		if text := strings.Trim(cur.String(), "\n"); text != "" {
			chunks = append(chunks, text)
		}
		cur.Reset()
		size = 0
	}
	for _, line := range strings.Split(s, "\n") {
		n := utf8.RuneCountInString(line)
		if size > 0 && size+1+n > limit {
			flush()
		}
		for n > limit {
			flush()
			head, rest := cutRunes(line, limit)
			chunks = append(chunks, head)
			line, n = rest, n-limit
		}
		if size > 0 {
			cur.WriteByte('\n')
			size++
		}
		cur.WriteString(line)
		size += n
	}
	flush()
	return chunks
}

// cutRunes splits s after its first n runes.
func cutRunes(s string, n int) (string, string) {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
	}
	return s[:i], s[i:]
}
