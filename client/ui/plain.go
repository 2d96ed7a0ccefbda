package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"lnmsg/events"
	"lnmsg/peer"
)

// Printer is a Sink that writes events as text lines.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Emit(e events.Event) {
	if line, ok := FormatEvent(e); ok {
		p.Println(line)
	}
}

func (p *Printer) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// RunPlain reads commands and chat lines from in until the user quits, in
// ends or the connection closes.
func RunPlain(ctx context.Context, c *peer.Client, in io.Reader, p *Printer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				c.Close()
				return nil
			}
			output, quit, err := Execute(c, line)
			for _, l := range output {
				p.Println(l)
			}
			if err != nil {
				p.Println("! " + err.Error())
			}
			if quit {
				<-c.Done()
				return nil
			}
		}
	}
}
