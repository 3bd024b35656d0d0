package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// progressBar redraws a one-line bar in place. On anything but a terminal it
// stays silent and leaves reporting to the logger.
type progressBar struct {
	mu      sync.Mutex
	w       io.Writer
	message string
	width   int
	isTTY   bool
	started time.Time
	last    time.Time
}

func newProgressBar(w io.Writer, message string) *progressBar {
	return &progressBar{
		w:       w,
		message: message,
		width:   30,
		isTTY:   isTerminalWriter(w),
		started: time.Now(),
	}
}

func isTerminalWriter(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Update draws done/total, at most every 100ms except for the final call.
func (p *progressBar) Update(done, total int) {
	if !p.isTTY || total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if done < total && now.Sub(p.last) < 100*time.Millisecond {
		return
	}
	p.last = now
	fmt.Fprint(p.w, "\r"+p.render(done, total, now.Sub(p.started)))
	if done >= total {
		fmt.Fprintln(p.w)
	}
}

func (p *progressBar) render(done, total int, elapsed time.Duration) string {
	filled := min(p.width*done/total, p.width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)
	s := fmt.Sprintf("%s [%s] %3d%% (%d/%d) %s", p.message, bar, 100*done/total, done, total, elapsed.Round(100*time.Millisecond))
	if done > 0 && done < total {
		eta := time.Duration(float64(elapsed) / float64(done) * float64(total-done))
		s += fmt.Sprintf(" ETA %s", eta.Round(time.Second))
	}
	return s
}
