package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// PlainDisplay prints chat output as lines of text. It is safe for use by
// several goroutines.
type PlainDisplay struct {
	mu         sync.Mutex
	w          io.Writer
	timestamps bool
	now        func() time.Time
}

// NewPlainDisplay writes to w, prefixing lines with the time when
// timestamps is set
func NewPlainDisplay(w io.Writer, timestamps bool) *PlainDisplay {
	return &PlainDisplay{w: w, timestamps: timestamps, now: time.Now}
}

// Chat prints a message attributed to name
func (d *PlainDisplay) Chat(name, text string) {
	d.print(fmt.Sprintf("%s: %s", name, text))
}

// Notice prints a local status line
func (d *PlainDisplay) Notice(text string) {
	for _, line := range strings.Split(text, "\n") {
		d.print("* " + line)
	}
}

func (d *PlainDisplay) print(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timestamps {
		fmt.Fprintf(d.w, "[%s] %s\n", d.now().Format("15:04:05"), line)
		return
	}
	fmt.Fprintln(d.w, line)
}

// ReadLines delivers lines read from r until end of input or until ctx is
// done. The channel is closed when reading stops.
func ReadLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSuffix(scanner.Text(), "\r")
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines
}
