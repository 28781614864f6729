package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
)

const (
	progressBarWidth       = 40
	progressBarThrottle    = 65 * 1000000
	progressBarSpinnerType = 14
)

// newProgressBar renders transfer progress on stderr. A negative size shows a spinner.
func newProgressBar(description string, size int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(progressBarWidth),
		progressbar.OptionThrottle(progressBarThrottle),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(progressBarSpinnerType),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
