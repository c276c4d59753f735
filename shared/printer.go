package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Printer fans session output (documents, notices) out to one or more sinks,
// indenting continuation lines so multi-line documents stay readable on a
// terminal. Safe for concurrent use; session callbacks and the input loop
// both print.
type Printer struct {
	mu     sync.Mutex
	indent string
	sinks  []io.Writer
}

func NewPrinter(indent string, sinks ...io.Writer) (*Printer, error) {
	if len(sinks) == 0 {
		return nil, errors.New("no sink provided")
	}
	for _, s := range sinks {
		if s == nil {
			return nil, errors.New("nil sink provided")
		}
	}
	return &Printer{indent: indent, sinks: sinks}, nil
}

// Writeln writes s to every sink, indenting each line ind levels, followed by
// a newline.
func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := strings.Repeat(p.indent, ind)
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, sink := range p.sinks {
		if _, err := io.WriteString(sink, b.String()); err != nil {
			return fmt.Errorf("writing to sink: %w", err)
		}
	}
	return nil
}
