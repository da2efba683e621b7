package session

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/gwlsn/tqenc/internal/encoder"
	"github.com/gwlsn/tqenc/internal/twopass"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// Reporter prints one progress line per output frame.
type Reporter struct {
	w     io.Writer
	color bool
}

// NewReporter writes to w, coloring output when w is a terminal.
func NewReporter(w io.Writer) *Reporter {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Reporter{w: w, color: color}
}

// Frame reports the n-th frame of this session (0-based).
func (r *Reporter) Frame(n int, res *encoder.FrameResult) {
	if r == nil || r.w == nil {
		return
	}
	line := fmt.Sprintf("Frame #%d: ssim=%s qi=%d trials=%d",
		n, strconv.FormatFloat(res.Score, 'g', 6, 64), res.QI, res.Trials)
	if !res.Converged {
		line += " (target not reached)"
	}
	if r.color {
		c := colorGreen
		if !res.Converged {
			c = colorYellow
		}
		line = c + line + colorReset
	}
	fmt.Fprintln(r.w, line)
}

// Summary reports totals after the output pass.
func (r *Reporter) Summary(s twopass.Summary, output string) {
	if r == nil || r.w == nil || s.Frames == 0 {
		return
	}
	fmt.Fprintf(r.w, "Encoded %d frames to %s: %s, mean ssim=%.5f, mean qi=%.1f, %d trials",
		s.Frames, output, humanize.Bytes(uint64(s.Bytes)), s.MeanScore, s.MeanQI, s.Trials)
	if s.Unconverged > 0 {
		fmt.Fprintf(r.w, ", %d below target", s.Unconverged)
	}
	fmt.Fprintln(r.w)
}
