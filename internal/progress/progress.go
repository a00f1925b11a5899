package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Unit describes what a bar counts.
type Unit struct {
	Name string
	Size int64
}

var (
	UnitFiles = Unit{Name: "files", Size: 1}
	UnitBytes = Unit{Name: "bytes", Size: 1}
)

// ProgressBar is the sink bulk operations report to. Implementations must be
// safe for concurrent use.
type ProgressBar interface {
	SetMessage(message string)
	SetLength(length int64)
	Inc(amount int64)
	Finish()
	Reset()
	SetUnit(unit Unit)
}

// NoProgressBar discards every update.
type NoProgressBar struct{}

func (NoProgressBar) SetMessage(string) {}
func (NoProgressBar) SetLength(int64)   {}
func (NoProgressBar) Inc(int64)         {}
func (NoProgressBar) Finish()           {}
func (NoProgressBar) Reset()            {}
func (NoProgressBar) SetUnit(Unit)      {}

// TerminalProgressBar renders a single line bar with schollz/progressbar.
type TerminalProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	unit    Unit
	message string
	length  int64
	bar     *progressbar.ProgressBar
}

// NewTerminalProgressBar returns a bar writing to stderr.
func NewTerminalProgressBar() *TerminalProgressBar {
	return NewTerminalProgressBarTo(os.Stderr)
}

// NewTerminalProgressBarTo returns a bar writing to w.
func NewTerminalProgressBarTo(w io.Writer) *TerminalProgressBar {
	p := &TerminalProgressBar{w: w, unit: UnitFiles}
	p.bar = p.newBar()
	return p
}

func (p *TerminalProgressBar) newBar() *progressbar.ProgressBar {
	return progressbar.NewOptions64(p.length,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetDescription(p.message),
		progressbar.OptionShowCount(),
		progressbar.OptionShowBytes(p.unit == UnitBytes),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(p.w, "\n")
		}),
	)
}

// SetMessage sets the description. Before SetLength it is only stored:
// rendering a bar with no length marks it finished.
func (p *TerminalProgressBar) SetMessage(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.message = message
	if p.length > 0 {
		p.bar.Describe(message)
	}
}

// SetLength starts a fresh bar counting to length.
func (p *TerminalProgressBar) SetLength(length int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.length = length
	p.bar = p.newBar()
}

func (p *TerminalProgressBar) Inc(amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Add64(amount * p.unit.Size)
}

func (p *TerminalProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}

func (p *TerminalProgressBar) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.length = 0
	p.bar = p.newBar()
}

// SetUnit switches between count and byte display. It restarts the bar.
func (p *TerminalProgressBar) SetUnit(unit Unit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if unit.Size <= 0 {
		unit.Size = 1
	}
	p.unit = unit
	p.bar = p.newBar()
}
