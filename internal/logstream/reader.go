// Package logstream reads MCAP log containers one message at a time, keeping
// a single decoded message buffered so callers can merge several streams by
// log time.
package logstream

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/internal/msgpath"
	"github.com/roboto-ai/topicdata/pkg/models"
)

// Option configures a Reader.
type Option func(*Reader)

// WithWindow limits the reader to messages logged within w.
func WithWindow(w models.Window) Option {
	return func(r *Reader) { r.window = w }
}

// WithRegistry overrides the decoder registry.
func WithRegistry(reg *Registry) Option {
	return func(r *Reader) { r.registry = reg }
}

// WithLogger sets the reader's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

type pending struct {
	logTime int64
	value   any
}

// Reader yields projected records from one MCAP stream in the order they are
// stored. It does not re-sort.
type Reader struct {
	it       mcap.MessageIterator
	paths    []models.MessagePath
	window   models.Window
	registry *Registry
	logger   zerolog.Logger

	decoders map[uint16]Decoder
	skipped  map[uint16]bool
	next     *pending
	err      error
}

// NewReader opens rs and buffers its first matching message.
func NewReader(rs io.ReadSeeker, paths []models.MessagePath, opts ...Option) (*Reader, error) {
	r := &Reader{
		paths:    paths,
		window:   models.Unbounded,
		registry: DefaultRegistry(),
		logger:   zerolog.Nop(),
		decoders: make(map[uint16]Decoder),
		skipped:  make(map[uint16]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	it, err := r.messages(rs)
	if err != nil {
		return nil, err
	}
	r.it = it
	r.advance()
	if r.err != nil {
		return nil, r.err
	}
	return r, nil
}

func (r *Reader) messages(rs io.ReadSeeker) (mcap.MessageIterator, error) {
	reader, err := mcap.NewReader(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: open mcap: %v", models.ErrMalformed, err)
	}

	// Indexed files are read in log-time order; others in file order.
	indexed := false
	if info, err := reader.Info(); err == nil && len(info.ChunkIndexes) > 0 {
		indexed = true
	} else {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind mcap: %w", err)
		}
		if reader, err = mcap.NewReader(rs); err != nil {
			return nil, fmt.Errorf("%w: open mcap: %v", models.ErrMalformed, err)
		}
	}

	readOpts := []mcap.ReadOpt{mcap.UsingIndex(indexed)}
	if r.window.HasStart() && r.window.Start > 0 {
		readOpts = append(readOpts, mcap.AfterNanos(uint64(r.window.Start)))
	}
	if r.window.HasEnd() && r.window.End > 0 {
		readOpts = append(readOpts, mcap.BeforeNanos(uint64(r.window.End)))
	}
	it, err := reader.Messages(readOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: iterate mcap messages: %v", models.ErrMalformed, err)
	}
	return it, nil
}

// HasNext reports whether a message is buffered.
func (r *Reader) HasNext() bool {
	return r.next != nil
}

// PeekTimestamp returns the buffered message's log time, or math.MaxInt64
// once the stream is exhausted.
func (r *Reader) PeekTimestamp() int64 {
	if r.next == nil {
		return math.MaxInt64
	}
	return r.next.logTime
}

// IsTimeAligned reports whether the buffered message was logged at ts.
func (r *Reader) IsTimeAligned(ts int64) bool {
	return r.next != nil && r.next.logTime == ts
}

// Next projects the buffered message and buffers the one after it. It returns
// io.EOF when nothing is buffered.
func (r *Reader) Next() (models.Record, error) {
	if r.next == nil {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}
	current := r.next
	r.advance()
	return msgpath.Extract(current.value, r.paths), nil
}

// Err returns the error that ended the stream early, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) advance() {
	r.next = nil
	if r.err != nil {
		return
	}
	for {
		schema, channel, message, err := r.it.Next(nil)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			r.err = fmt.Errorf("%w: read mcap message: %v", models.ErrMalformed, err)
			return
		}

		if message.LogTime > math.MaxInt64 {
			r.err = fmt.Errorf("%w: log time %d overflows int64", models.ErrMalformed, message.LogTime)
			return
		}
		logTime := int64(message.LogTime)
		if !r.window.Contains(logTime) {
			continue
		}

		decoder, ok := r.decoderFor(schema, channel)
		if !ok {
			continue
		}
		value, err := decoder.Decode(message.Data)
		if err != nil {
			r.err = fmt.Errorf("topic %s at %d: %w", channel.Topic, logTime, err)
			return
		}
		r.next = &pending{logTime: logTime, value: value}
		return
	}
}

func (r *Reader) decoderFor(schema *mcap.Schema, channel *mcap.Channel) (Decoder, bool) {
	if d, ok := r.decoders[channel.ID]; ok {
		return d, true
	}
	if r.skipped[channel.ID] {
		return nil, false
	}

	var info Schema
	if schema != nil {
		info = Schema{Name: schema.Name, Encoding: schema.Encoding, Data: schema.Data}
	}
	d, ok := r.registry.Lookup(channel.MessageEncoding, info)
	if !ok {
		r.skipped[channel.ID] = true
		r.logger.Debug().
			Str("topic", channel.Topic).
			Str("encoding", channel.MessageEncoding).
			Msg("No decoder for message encoding, skipping channel")
		return nil, false
	}
	r.decoders[channel.ID] = d
	return d, true
}
