package core

/*
crtshadow — certificate transparency hostname extractor
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"fmt"
	"io"
)

// Progress reports how many certificate records have been processed.
// On a terminal the line is redrawn in place; elsewhere only the final count is written,
// so logs captured to a file stay readable. A nil *Progress is a no-op.
type Progress struct {
	w      io.Writer
	label  string
	total  int
	done   int
	every  int
	redraw bool
}

// NewProgress creates a reporter writing to w. Returns nil if w is nil.
func NewProgress(w io.Writer, label string, total int) *Progress {
	if w == nil {
		return nil
	}
	every := total / ProgressSteps
	if every < 1 {
		every = 1
	}
	return &Progress{
		w:      w,
		label:  label,
		total:  total,
		every:  every,
		redraw: isTerminal(w),
	}
}

// Increment records one processed item.
func (p *Progress) Increment() {
	if p == nil {
		return
	}
	p.done++
	if p.redraw && (p.done%p.every == 0 || p.done == p.total) {
		fmt.Fprintf(p.w, "\r%s: %d/%d", p.label, p.done, p.total)
	}
}

// Finish terminates the progress line.
func (p *Progress) Finish() {
	if p == nil {
		return
	}
	if p.redraw {
		fmt.Fprintf(p.w, "\r%s: %d/%d\n", p.label, p.done, p.total)
		return
	}
	fmt.Fprintf(p.w, "%s: %d/%d\n", p.label, p.done, p.total)
}

// Done returns the number of items processed so far.
func (p *Progress) Done() int {
	if p == nil {
		return 0
	}
	return p.done
}
