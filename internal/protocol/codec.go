package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// maxLineBytes caps a single wire line. A match table for one response fits
// comfortably; anything larger is a misbehaving peer.
const maxLineBytes = 4 * 1024 * 1024

// DecodeMessage parses a single wire line into a validated Message.
func DecodeMessage(line []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &msg, nil
}

// EncodeMessage serializes a Message to a single wire line, newline included.
func EncodeMessage(msg *Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(data, '\n'), nil
}

// Scanner reads newline-delimited messages from a stream. Malformed lines
// are logged and skipped; only EOF or a read error ends the stream.
type Scanner struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
}

// NewScanner wraps r for message reading. logger may be nil.
func NewScanner(r io.Reader, logger *slog.Logger) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{scanner: s, logger: logger}
}

// Next returns the next well-formed message, or an error when the stream is
// done. io.EOF signals a clean end of stream.
func (s *Scanner) Next() (*Message, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			s.logger.Warn("skipping malformed line", "error", err)
			continue
		}
		return msg, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, io.EOF
}

// Writer serializes messages onto a stream, one line each. Writes are
// serialized by a mutex so concurrent senders never interleave lines.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w for message writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes msg and writes it as one line.
func (w *Writer) Write(msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
