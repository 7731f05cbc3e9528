// Package progress renders a progress bar for long-running build phases.
package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar is a nil-safe wrapper: a nil *Bar ignores all calls, so callers never
// need to check whether progress output is enabled.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(w io.Writer, total int, description string) *Bar {
	return &Bar{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		),
	}
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.bar.Finish()
}
