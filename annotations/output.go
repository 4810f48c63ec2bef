package annotations

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
}

// NewOutputFormatter creates a formatter with color support detection.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}

	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}

	return &OutputFormatter{
		useColor: useColor,
		writer:   w,
	}
}

// Handle implements the Handler interface - prints events as they occur.
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)

	switch event.Name {
	case RewriteBegin:
		return fmt.Sprintf("%s %s rewrite starting for session %v",
			latency, f.colorize("===", color.FgYellow), event.Data["session"])

	case RewriteComplete:
		return fmt.Sprintf("%s %s rewrite done: %d entities checked, %d filters injected",
			latency,
			f.colorize("===", color.FgGreen),
			event.Data["entities.checked"],
			event.Data["filters.injected"])

	case FilterInjected:
		return fmt.Sprintf("%s %s injected %v condition(s) on %v (new filter node)",
			latency, f.colorize("+", color.FgGreen), event.Data["filters"], event.Data["entity"])

	case FilterFused:
		return fmt.Sprintf("%s %s fused %v condition(s) into existing filter on %v",
			latency, f.colorize("+", color.FgGreen), event.Data["filters"], event.Data["entity"])

	case FilterDisabled:
		return fmt.Sprintf("%s %s %q disabled for this session on %v",
			latency, f.colorize("-", color.FgYellow), event.Data["filter"], event.Data["entity"])

	case FilterSkipped:
		return fmt.Sprintf("%s %s skipped %q on %v: %v",
			latency, f.colorize("-", color.FgYellow), event.Data["filter"], event.Data["entity"], event.Data["reason"])

	case ParamResolved:
		return fmt.Sprintf("%s bound %v = %v (%v scope)",
			latency, event.Data["placeholder"], event.Data["value"], event.Data["scope"])

	case ParamAbsent:
		return fmt.Sprintf("%s %v unresolved, condition disabled by null",
			latency, event.Data["placeholder"])

	case SessionCleared:
		return fmt.Sprintf("%s session %v scoped parameters cleared", latency, event.Data["session"])

	case ErrorRewrite, ErrorBinding:
		return fmt.Sprintf("%s %s %v",
			latency, f.colorize("✗", color.FgRed), event.Data["error"])

	default:
		return fmt.Sprintf("%s %s %v", latency, event.Name, event.Data)
	}
}

// formatLatency renders a fixed-width latency column.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	if d == 0 {
		return f.colorize("[      - ]", color.FgHiBlack)
	}
	return f.colorize(fmt.Sprintf("[%8s]", d.Round(time.Microsecond)), color.FgHiBlack)
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// ConsoleHandler creates a handler that prints formatted events to stdout.
func ConsoleHandler() Handler {
	formatter := NewOutputFormatter(os.Stdout)
	return formatter.Handle
}

// isTerminal checks if the file descriptor is a terminal.
func isTerminal(fd uintptr) bool {
	return fd == uintptr(1) || fd == uintptr(2) // stdout or stderr
}
