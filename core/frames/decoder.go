package frames

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
)

const (
	// Marker prefixes every meaningful line of the stream.
	Marker = "data:"

	delimiter = '\n'
)

var (
	errMissingContent = errors.New("token frame without content")
	errUnknownType    = errors.New("unknown frame type")
	errUnknownState   = errors.New("unknown status state")
)

// Decoder turns a chunked, newline-delimited stream into frames. Incomplete
// trailing lines are kept across calls to [Decoder.Feed] until their newline
// arrives.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the pending buffer and returns the frames of every
// line completed so far, in order.
//
// The sequence is lazy: lines are extracted from the buffer as they are
// yielded, so lines left unconsumed by an early break are yielded by the next
// call. A malformed record yields a *SyntaxError and ends the sequence.
func (d *Decoder) Feed(chunk []byte) iter.Seq2[Frame, error] {
	d.buf = append(d.buf, chunk...)

	return func(yield func(Frame, error) bool) {
		for {
			line, ok := d.nextLine()
			if !ok {
				return
			}

			frame, err := parseLine(line)
			if err != nil {
				yield(nil, err)
				return
			}
			if frame == nil {
				continue
			}

			if !yield(frame, nil) {
				return
			}
		}
	}
}

// Flush parses whatever is left in the buffer as a final line, for streams
// that end without a trailing newline. It reports false if nothing was
// buffered or the leftover line carried no frame.
func (d *Decoder) Flush() (Frame, bool, error) {
	if len(d.buf) == 0 {
		return nil, false, nil
	}

	line := string(d.buf)
	d.buf = nil

	frame, err := parseLine(line)
	if err != nil {
		return nil, false, err
	}
	return frame, frame != nil, nil
}

// Reset drops any buffered partial line.
func (d *Decoder) Reset() {
	d.buf = nil
}

func (d *Decoder) nextLine() (string, bool) {
	idx := bytes.IndexByte(d.buf, delimiter)
	if idx < 0 {
		return "", false
	}

	line := string(d.buf[:idx])
	d.buf = d.buf[idx+1:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return line, true
}

// parseLine returns a nil frame for lines that are not marked, such as
// keep-alives and comments.
func parseLine(line string) (Frame, error) {
	line = strings.TrimSuffix(line, "\r")
	payload, ok := strings.CutPrefix(line, Marker)
	if !ok {
		return nil, nil
	}
	payload = strings.TrimPrefix(payload, " ")

	var rec record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, &SyntaxError{Line: line, Err: err}
	}

	frame, err := rec.frame()
	if err != nil {
		return nil, &SyntaxError{Line: line, Err: err}
	}
	return frame, nil
}

type record struct {
	Type    string   `json:"type"`
	Content *string  `json:"content"`
	State   State    `json:"state"`
	Metrics *Metrics `json:"metrics"`
	Message string   `json:"message"`
}

func (r record) frame() (Frame, error) {
	switch r.Type {
	case "token":
		if r.Content == nil {
			return nil, errMissingContent
		}
		return Token{Content: *r.Content}, nil
	case "status":
		if !r.State.valid() {
			return nil, fmt.Errorf("%w: %q", errUnknownState, r.State)
		}
		return Status{State: r.State, Metrics: r.Metrics, Message: r.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, r.Type)
	}
}
