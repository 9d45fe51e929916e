package extract

import (
	"bytes"
	"strconv"
	"strings"
)

const progressSeparator = " - "

// Line is a parsed progress line of the extraction tool.
type Line struct {
	// Percent is valid only when HasPercent is set.
	Percent    int
	HasPercent bool
	File       string
}

// ParseLine interprets a line of the form "<int>% <token> - <file>". It
// reports false when the line is not a progress line at all. A progress line
// whose prefix before '%' is not purely numeric still yields its file name.
func ParseLine(raw string) (Line, bool) {
	line := strings.TrimSpace(raw)
	idx := strings.Index(line, "%")
	if idx < 0 || !strings.Contains(line, progressSeparator) {
		return Line{}, false
	}

	var parsed Line
	if prefix := strings.TrimSpace(line[:idx]); isDigits(prefix) {
		if n, err := strconv.Atoi(prefix); err == nil {
			parsed.Percent = n
			parsed.HasPercent = true
		}
	}

	_, parsed.File, _ = strings.Cut(line, progressSeparator)
	return parsed, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// splitProgress is a bufio.SplitFunc that also breaks on '\r' and '\b': the
// tool redraws its progress line in place instead of printing new lines.
func splitProgress(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\n\r\b"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
