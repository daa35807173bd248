package comments

import (
	"fmt"
	"strings"
)

const titleExcerptRunes = 60

// Title builds the issue title for a new thread.
func Title(prefix, componentName, elementTag, comment string) string {
	line := comment
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > titleExcerptRunes {
		line = string(r[:titleExcerptRunes])
	}
	return fmt.Sprintf("[%s] %s · %s — %s", prefix, componentName, elementTag, line)
}
