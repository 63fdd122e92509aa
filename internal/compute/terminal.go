package compute

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const terminalBarWidth = 40

// TerminalProgressBar renders an in-place text progress bar for CLI use.
// It implements ProgressSink with both lifecycle capabilities: Start
// draws the empty bar, Finish forces the bar to 100% and ends the line
// even when the driving reports stopped short.
type TerminalProgressBar struct {
	Title string
	Out   io.Writer // defaults to os.Stderr

	last int
}

func (b *TerminalProgressBar) out() io.Writer {
	if b.Out != nil {
		return b.Out
	}
	return os.Stderr
}

// Start draws the empty bar.
func (b *TerminalProgressBar) Start() {
	b.last = -1
	b.render(0)
}

// Report redraws the bar when the whole-percent value moved.
func (b *TerminalProgressBar) Report(percent float64) {
	p := int(percent)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p != b.last {
		b.render(p)
	}
}

// Finish completes the bar and terminates the line.
func (b *TerminalProgressBar) Finish() {
	if b.last < 100 {
		b.render(100)
	}
	fmt.Fprintln(b.out())
}

func (b *TerminalProgressBar) render(p int) {
	filled := p * terminalBarWidth / 100
	prefix := ""
	if b.Title != "" {
		prefix = b.Title + " "
	}
	fmt.Fprintf(b.out(), "\r%s[%-*s] %3d%%", prefix, terminalBarWidth, strings.Repeat("#", filled), p)
	b.last = p
}
