package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"digital.vasic.brocoli/pkg/catalog"
)

// progressBar renders (completed, total) pairs. The bar is created on the
// first pair since the total is only known then.
type progressBar struct {
	mu          sync.Mutex
	w           io.Writer
	description string
	bytes       bool
	bar         *progressbar.ProgressBar
	last        int64
}

func newProgressBar(w io.Writer, description string, bytes bool) *progressBar {
	return &progressBar{w: w, description: description, bytes: bytes}
}

// Func returns the progress callback, or nil when disabled.
func (p *progressBar) Func(enabled bool) catalog.ProgressFunc {
	if !enabled {
		return nil
	}
	return p.update
}

func (p *progressBar) update(completed, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(p.description),
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionShowBytes(p.bytes),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100 * time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(p.w, "\n")
			}),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	p.last = completed
	_ = p.bar.Set64(completed)
}

// Completed returns the last completed count seen.
func (p *progressBar) Completed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
