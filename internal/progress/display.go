// Package progress renders run phase progress on a terminal: a spinner while
// a phase runs, a symbol line when it settles. Non-TTY output degrades to
// plain lines so piped output and CI logs stay readable.
package progress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// TerminalCapabilities describes what the attached terminal supports.
type TerminalCapabilities struct {
	IsTTY           bool
	SupportsColor   bool
	SupportsUnicode bool
	Width           int
}

// ProgressSymbols is the glyph set used when a phase settles.
type ProgressSymbols struct {
	Checkmark  string
	Failure    string
	SpinnerSet int
}

// PhaseStatus is the display state of a phase.
type PhaseStatus string

const (
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// PhaseInfo describes one run phase for display.
type PhaseInfo struct {
	// Name is the phase name shown to the user.
	Name string
	// Number is the 1-based position within the run.
	Number int
	// TotalPhases is the number of phases in the run.
	TotalPhases int
	// Status is the current display state.
	Status PhaseStatus
	// Detail is an optional trailing note (e.g. "cached", iteration counts).
	Detail string
}

// Validate checks the info is renderable.
func (i PhaseInfo) Validate() error {
	if i.Name == "" {
		return errors.New("phase name required")
	}
	if i.Number < 1 || i.Number > i.TotalPhases {
		return fmt.Errorf("phase number %d out of range 1..%d", i.Number, i.TotalPhases)
	}
	return nil
}

// Display renders phases to one writer. On a TTY a spinner animates the
// active phase; otherwise phases print as plain lines. Safe for concurrent
// use: engine events may arrive from worker goroutines.
type Display struct {
	mu      sync.Mutex
	caps    TerminalCapabilities
	symbols ProgressSymbols
	out     io.Writer
	spin    *spinner.Spinner

	interval time.Duration
}

// DisplayOption configures a Display.
type DisplayOption func(*Display)

// WithWriter redirects display output (default os.Stdout).
func WithWriter(w io.Writer) DisplayOption {
	return func(d *Display) { d.out = w }
}

// NewDisplay builds a display for the detected capabilities.
func NewDisplay(caps TerminalCapabilities, opts ...DisplayOption) *Display {
	d := &Display{
		caps:     caps,
		symbols:  SelectSymbols(caps),
		out:      os.Stdout,
		interval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StartPhase begins rendering a phase, replacing any phase still spinning.
func (d *Display) StartPhase(info PhaseInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	if !d.caps.IsTTY {
		fmt.Fprintf(d.out, "%s %s...\n", d.position(info), info.Name)
		return nil
	}

	d.spin = spinner.New(
		spinner.CharSets[d.symbols.SpinnerSet],
		d.interval,
		spinner.WithWriter(d.out),
		spinner.WithSuffix(" "+d.position(info)+" "+info.Name),
	)
	if d.caps.SupportsColor {
		_ = d.spin.Color("cyan")
	}
	d.spin.Start()
	return nil
}

// UpdateDetail annotates the active phase. On a TTY it refreshes the spinner
// suffix; otherwise it prints an indented line.
func (d *Display) UpdateDetail(info PhaseInfo, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.spin != nil {
		d.spin.Suffix = " " + d.position(info) + " " + info.Name + ": " + detail
		return
	}
	fmt.Fprintf(d.out, "  %s\n", detail)
}

// CompletePhase stops the spinner and prints the settled success line.
func (d *Display) CompletePhase(info PhaseInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	line := fmt.Sprintf("%s %s %s", d.colored(d.symbols.Checkmark, color.FgGreen), d.position(info), info.Name)
	if info.Detail != "" {
		line += " (" + info.Detail + ")"
	}
	fmt.Fprintln(d.out, line)
	return nil
}

// FailPhase stops the spinner and prints the settled failure line.
func (d *Display) FailPhase(info PhaseInfo, cause error) error {
	if err := info.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	line := fmt.Sprintf("%s %s %s", d.colored(d.symbols.Failure, color.FgRed), d.position(info), info.Name)
	if cause != nil {
		line += ": " + cause.Error()
	}
	fmt.Fprintln(d.out, line)
	return nil
}

// StopSpinner halts the spinner without a settled line. Used before handing
// the terminal to interactive or streamed output.
func (d *Display) StopSpinner() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Display) stopLocked() {
	if d.spin == nil {
		return
	}
	d.spin.Stop()
	d.spin = nil
}

func (d *Display) position(info PhaseInfo) string {
	return fmt.Sprintf("[%d/%d]", info.Number, info.TotalPhases)
}

func (d *Display) colored(s string, attr color.Attribute) string {
	if !d.caps.SupportsColor {
		return s
	}
	return color.New(attr, color.Bold).Sprint(s)
}
