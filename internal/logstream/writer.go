package logstream

import (
	"fmt"
	"io"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/vmihailenco/msgpack/v5"
)

// Writer produces chunked, indexed MCAP containers with one channel per topic.
type Writer struct {
	w        *mcap.Writer
	encoding string
	channels map[string]uint16
	sequence uint32
}

// NewWriter starts a container whose messages use encoding (json or msgpack).
func NewWriter(w io.Writer, encoding string) (*Writer, error) {
	if encoding != EncodingJSON && encoding != EncodingMsgpack {
		return nil, fmt.Errorf("unsupported writer encoding %q", encoding)
	}
	mw, err := mcap.NewWriter(w, &mcap.WriterOptions{
		Chunked:     true,
		ChunkSize:   1 << 20,
		Compression: mcap.CompressionZSTD,
		IncludeCRC:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("create mcap writer: %w", err)
	}
	if err := mw.WriteHeader(&mcap.Header{Profile: "", Library: "topicdata"}); err != nil {
		return nil, fmt.Errorf("write mcap header: %w", err)
	}
	return &Writer{w: mw, encoding: encoding, channels: make(map[string]uint16)}, nil
}

// Write appends one message on topic logged at logTime.
func (w *Writer) Write(topic string, logTime uint64, value any) error {
	data, err := w.encode(value)
	if err != nil {
		return err
	}
	return w.WriteRaw(topic, w.encoding, logTime, data)
}

// WriteRaw appends a pre-encoded payload on a channel with its own encoding.
func (w *Writer) WriteRaw(topic, encoding string, logTime uint64, data []byte) error {
	id, err := w.channel(topic, encoding)
	if err != nil {
		return err
	}
	w.sequence++
	return w.w.WriteMessage(&mcap.Message{
		ChannelID:   id,
		Sequence:    w.sequence,
		LogTime:     logTime,
		PublishTime: logTime,
		Data:        data,
	})
}

// Close writes the summary section.
func (w *Writer) Close() error {
	return w.w.Close()
}

func (w *Writer) channel(topic, encoding string) (uint16, error) {
	key := topic + "\x00" + encoding
	if id, ok := w.channels[key]; ok {
		return id, nil
	}
	id := uint16(len(w.channels) + 1)
	if err := w.w.WriteChannel(&mcap.Channel{ID: id, Topic: topic, MessageEncoding: encoding}); err != nil {
		return 0, fmt.Errorf("write mcap channel: %w", err)
	}
	w.channels[key] = id
	return id, nil
}

func (w *Writer) encode(value any) ([]byte, error) {
	switch w.encoding {
	case EncodingMsgpack:
		return msgpack.Marshal(value)
	default:
		return jsonAPI.Marshal(value)
	}
}
