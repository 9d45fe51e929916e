package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ColoredLogger is the console logger used by both binaries.
type ColoredLogger struct {
	*StandardLogger
}

// NewColoredLogger colours levels when the output is a terminal and NO_COLOR
// is unset. Output defaults to stderr so that progress bars on stdout stay intact.
func NewColoredLogger(options ...Option) *ColoredLogger {
	std := NewStandardLogger(append([]Option{WithOutput(os.Stderr)}, options...)...)

	useColor := supportsColor(std.sink.output) && os.Getenv("NO_COLOR") == ""

	std.sink.formatter = &ColoredFormatter{
		timestampFormat: "15:04:05",
		colors: map[Level]*color.Color{
			LevelDebug: color.New(color.FgCyan),
			LevelInfo:  color.New(color.FgBlue),
			LevelWarn:  color.New(color.FgYellow),
			LevelError: color.New(color.FgRed),
		},
		enableColors: useColor,
	}

	return &ColoredLogger{StandardLogger: std}
}

// ColoredFormatter renders log entries for a terminal. The operation kind
// and id carried by the context are folded into a short tag in front of the
// message, and error codes stand out from the other fields.
type ColoredFormatter struct {
	timestampFormat string
	colors          map[Level]*color.Color
	enableColors    bool
}

const shortIDLen = 8

// Format converts the Entry into a coloured textual representation.
func (f *ColoredFormatter) Format(entry *Entry) ([]byte, error) {
	layout := f.timestampFormat
	if layout == "" {
		layout = time.RFC3339
	}

	level := entry.Level.String()
	if f.enableColors {
		if c := f.colors[entry.Level]; c != nil {
			level = c.Sprint(level)
		}
	}

	var kind, id string
	rest := make([]Field, 0, len(entry.Fields))
	for _, field := range entry.Fields {
		switch field.Key {
		case "op":
			kind = fmt.Sprint(field.Value)
		case "op_id":
			id = fmt.Sprint(field.Value)
		default:
			rest = append(rest, field)
		}
	}

	shown := *entry
	shown.Fields = rest
	if tag := operationTag(kind, id); tag != "" {
		if f.enableColors {
			tag = color.New(color.FgMagenta).Sprint(tag)
		}
		shown.Message = tag + " " + entry.Message
	}

	faint := color.New(color.Faint)
	highlight := color.New(color.FgRed, color.Bold)
	fieldFormatter := func(field Field) string {
		text := fmt.Sprintf("%s=%v", field.Key, field.Value)
		switch {
		case !f.enableColors:
			return text
		case field.Key == "error_code":
			return highlight.Sprint(text)
		default:
			return faint.Sprint(text)
		}
	}

	return formatEntry(&shown, entry.Time.Format(layout), level, fieldFormatter), nil
}

// operationTag renders "<kind>:<short id>", e.g. "download:1a2b3c4d".
func operationTag(kind, id string) string {
	if len(id) > shortIDLen {
		id = id[:shortIDLen]
	}
	switch {
	case kind == "" && id == "":
		return ""
	case id == "":
		return kind
	case kind == "":
		return id
	}
	return kind + ":" + id
}

func supportsColor(w io.Writer) bool {
	if file, ok := w.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}
