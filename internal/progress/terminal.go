package progress

import (
	"os"

	"golang.org/x/term"
)

// DetectTerminalCapabilities probes stdout and the environment to decide how
// much the renderer can assume. NO_COLOR disables color, SPECFORGE_ASCII=1
// forces the ASCII symbol set, and a non-TTY stdout disables both along with
// the spinner.
func DetectTerminalCapabilities() TerminalCapabilities {
	fd := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(fd)

	width := 0
	if isTTY {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}

	return TerminalCapabilities{
		IsTTY:           isTTY,
		SupportsColor:   isTTY && os.Getenv("NO_COLOR") == "",
		SupportsUnicode: isTTY && os.Getenv("SPECFORGE_ASCII") != "1",
		Width:           width,
	}
}

// SelectSymbols picks the phase status marks and spinner character set for
// the detected terminal. Dumb terminals and piped output get plain ASCII so
// session logs stay readable.
func SelectSymbols(caps TerminalCapabilities) ProgressSymbols {
	if caps.SupportsUnicode {
		return ProgressSymbols{
			Checkmark:  "✓",
			Failure:    "✗",
			SpinnerSet: 14, // braille dots
		}
	}

	return ProgressSymbols{
		Checkmark:  "[OK]",
		Failure:    "[FAIL]",
		SpinnerSet: 9, // | / - \
	}
}
