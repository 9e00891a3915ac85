package ui

import (
	"fmt"
	"io"
	"sync"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckFail
	CheckSkip
)

// Check is one line of a checklist.
type Check struct {
	Name   string
	Status CheckStatus
	Note   string
}

// Render returns the styled line.
func (c Check) Render() string {
	var line string
	switch c.Status {
	case CheckPass:
		line = CheckPassStyle.Render("  " + PassMarker + " " + c.Name)
	case CheckFail:
		line = CheckFailStyle.Render("  " + FailMarker + " " + c.Name)
	default:
		line = CheckSkipStyle.Render("  " + SkipMarker + " " + c.Name)
	}
	if c.Note != "" {
		line += " " + CheckNoteStyle.Render("("+c.Note+")")
	}
	return line
}

// Checklist prints checks to w as they are reported.
type Checklist struct {
	w io.Writer

	mu     sync.Mutex
	checks []Check
}

// NewChecklist writes to w.
func NewChecklist(w io.Writer) *Checklist {
	return &Checklist{w: w}
}

// Report records and prints a check.
func (l *Checklist) Report(c Check) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks = append(l.checks, c)
	fmt.Fprintln(l.w, c.Render())
}

// Checks returns the reported checks in order.
func (l *Checklist) Checks() []Check {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Check(nil), l.checks...)
}

// Failed counts failed checks.
func (l *Checklist) Failed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.checks {
		if c.Status == CheckFail {
			n++
		}
	}
	return n
}
