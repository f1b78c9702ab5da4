package meterproto

import "strings"

// Parser accumulates lines into records, skipping everything up to
// the first blank line after construction or Reset (the stream may be
// joined mid-record). Grounded on the original Parser class
// (parse.py): push_line/reset/wait_for_sync.
type Parser struct {
	waitForSync bool
	lines       []string
}

// NewParser returns a Parser ready to synchronize on the first blank
// line it sees.
func NewParser() *Parser {
	return &Parser{waitForSync: true}
}

// Reset discards any partial record and resynchronizes on the next
// blank line.
func (p *Parser) Reset() {
	p.waitForSync = true
	p.lines = nil
}

// PushLine feeds one line of input. It returns a completed RawRecord
// (and true) when line is blank and at least one line had been
// buffered since the last record; otherwise it returns (nil, false).
func (p *Parser) PushLine(line string) (*RawRecord, bool) {
	line = strings.TrimSpace(line)

	if len(line) == 0 {
		p.waitForSync = false
		if len(p.lines) > 0 {
			rec := newRawRecord(p.lines)
			p.lines = nil
			return rec, true
		}
		return nil, false
	}

	if !p.waitForSync {
		p.lines = append(p.lines, line)
	}
	return nil, false
}
