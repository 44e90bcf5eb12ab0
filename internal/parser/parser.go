// Package parser turns capture subprocess output into normalized traffic events.
//
// A Parser is fed raw stdout chunks as they arrive. It consumes only complete
// records and keeps the incomplete tail buffered for the next chunk. Malformed
// records are counted and dropped, never returned as errors.
package parser

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/usestring/trafficlab/pkg/types"
)

// DefaultMaxBuffer bounds the unterminated tail a parser will hold.
const DefaultMaxBuffer = 4 << 20

// Parser is a stateful, single-goroutine stream decoder. Callers serialize
// Feed calls.
type Parser struct {
	tool      types.CaptureTool
	buf       []byte
	maxBuffer int
	skipped   int64
	now       func() time.Time
	newID     func() string
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxBuffer caps the buffered tail. A tail that grows past the cap
// without completing a record is discarded.
func WithMaxBuffer(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxBuffer = n
		}
	}
}

// WithClock overrides the clock used when a record carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// WithIDFunc overrides event id generation.
func WithIDFunc(fn func() string) Option {
	return func(p *Parser) {
		p.newID = fn
	}
}

// New creates a parser for the wire format emitted by tool.
func New(tool types.CaptureTool, opts ...Option) *Parser {
	if tool == "" {
		tool = types.ToolTShark
	}
	p := &Parser{
		tool:      tool,
		maxBuffer: DefaultMaxBuffer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed appends chunk to the buffer and returns the events decoded from every
// record completed so far.
func (p *Parser) Feed(chunk []byte) []types.TrafficEvent {
	p.buf = append(p.buf, chunk...)

	var events []types.TrafficEvent
	switch p.tool {
	case types.ToolMitmdump:
		events = p.drainFlows(false)
	default:
		events = p.drainPackets(false)
	}

	p.enforceLimit()
	if len(p.buf) == 0 {
		p.buf = nil
	} else {
		p.buf = bytes.Clone(p.buf)
	}
	return events
}

// Flush decodes whatever remains buffered as if the stream had ended.
// Incomplete data is dropped and counted as skipped.
func (p *Parser) Flush() []types.TrafficEvent {
	var events []types.TrafficEvent
	switch p.tool {
	case types.ToolMitmdump:
		events = p.drainFlows(true)
	default:
		events = p.drainPackets(true)
	}
	if len(bytes.TrimSpace(p.buf)) > 0 {
		p.skip("unterminated record at end of stream", len(p.buf))
	}
	p.buf = nil
	return events
}

// Skipped returns the number of records dropped as malformed.
func (p *Parser) Skipped() int64 {
	return p.skipped
}

// Buffered returns the number of bytes waiting for a record terminator.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

func (p *Parser) enforceLimit() {
	if len(p.buf) <= p.maxBuffer {
		return
	}
	p.skip("buffered record exceeds limit", len(p.buf))
	p.buf = nil
}

func (p *Parser) skip(reason string, size int) {
	p.skipped++
	slog.Debug("parser skipped record",
		slog.String("tool", string(p.tool)),
		slog.String("reason", reason),
		slog.Int("bytes", size),
	)
}

// nextLine pops one newline-terminated line from the buffer. At end of
// stream the unterminated tail counts as a line.
func (p *Parser) nextLine(final bool) ([]byte, bool) {
	i := bytes.IndexByte(p.buf, '\n')
	if i < 0 {
		if !final || len(p.buf) == 0 {
			return nil, false
		}
		line := p.buf
		p.buf = nil
		return bytes.TrimSpace(line), true
	}
	line := p.buf[:i]
	p.buf = p.buf[i+1:]
	return bytes.TrimSpace(line), true
}

func (p *Parser) stamp(ev *types.TrafficEvent) {
	ev.ID = p.newID()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}
}
