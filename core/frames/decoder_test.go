package frames

import (
	"errors"
	"reflect"
	"testing"
)

const wellFormedStream = "data: {\"type\":\"status\",\"state\":\"thinking\",\"message\":\"started\"}\n\n" +
	": keep-alive\n" +
	"data: {\"type\":\"token\",\"content\":\"Hi\"}\n\n" +
	"data: {\"type\":\"token\",\"content\":\" thére नमस्ते\"}\n\n" +
	"event: ping\n" +
	"data: {\"type\":\"status\",\"state\":\"complete\",\"metrics\":{\"latency\":0.42,\"tokens\":2,\"tokens_per_sec\":4.7,\"model\":\"llama\"}}\n\n"

func expectedStreamFrames() []Frame {
	return []Frame{
		Status{State: StateThinking, Message: "started"},
		Token{Content: "Hi"},
		Token{Content: " thére नमस्ते"},
		Status{State: StateComplete, Metrics: &Metrics{Latency: 0.42, Tokens: 2, TokensPerSec: 4.7, Model: "llama"}},
	}
}

func collect(t *testing.T, d *Decoder, chunks ...[]byte) []Frame {
	t.Helper()

	var got []Frame
	for _, chunk := range chunks {
		for frame, err := range d.Feed(chunk) {
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			got = append(got, frame)
		}
	}
	return got
}

func TestDecoderWholeStream(t *testing.T) {
	got := collect(t, NewDecoder(), []byte(wellFormedStream))

	if want := expectedStreamFrames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected frames %+v, got %+v", want, got)
	}
}

func TestDecoderIsSplitIndependent(t *testing.T) {
	stream := []byte(wellFormedStream)
	want := expectedStreamFrames()

	for split := 0; split <= len(stream); split++ {
		got := collect(t, NewDecoder(), stream[:split], stream[split:])
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: expected frames %+v, got %+v", split, want, got)
		}
	}
}

func TestDecoderOneChunkPerByte(t *testing.T) {
	stream := []byte(wellFormedStream)

	chunks := make([][]byte, 0, len(stream))
	for i := range stream {
		chunks = append(chunks, stream[i:i+1])
	}

	got := collect(t, NewDecoder(), chunks...)
	if want := expectedStreamFrames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected frames %+v, got %+v", want, got)
	}
}

func TestDecoderHoldsTrailingPartialLine(t *testing.T) {
	d := NewDecoder()

	got := collect(t, d, []byte(`data: {"type":"token","content":"Hi"}`))
	if len(got) != 0 {
		t.Fatalf("expected no frames before newline, got %+v", got)
	}

	got = collect(t, d, []byte("\n"))
	if want := []Frame{Token{Content: "Hi"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected frames %+v after newline, got %+v", want, got)
	}
}

func TestDecoderEmptyChunkIsNoop(t *testing.T) {
	d := NewDecoder()

	if got := collect(t, d, nil, []byte{}); len(got) != 0 {
		t.Fatalf("expected no frames, got %+v", got)
	}
	if d.buf != nil {
		t.Fatalf("expected empty buffer, got %q", d.buf)
	}
}

func TestDecoderChunkEndingAtNewlineLeavesEmptyBuffer(t *testing.T) {
	d := NewDecoder()

	got := collect(t, d, []byte("data: {\"type\":\"token\",\"content\":\"a\"}\ndata: {\"type\":\"token\",\"content\":\"b\"}\n"))
	if want := []Frame{Token{Content: "a"}, Token{Content: "b"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected frames %+v, got %+v", want, got)
	}
	if len(d.buf) != 0 {
		t.Fatalf("expected empty buffer, got %q", d.buf)
	}

	if frame, ok, err := d.Flush(); frame != nil || ok || err != nil {
		t.Fatalf("expected flush of empty buffer to be a no-op, got %v %v %v", frame, ok, err)
	}
}

func TestDecoderToleratesCarriageReturns(t *testing.T) {
	got := collect(t, NewDecoder(), []byte("data: {\"type\":\"token\",\"content\":\"a\"}\r\n\r\ndata:{\"type\":\"token\",\"content\":\"b\"}\r\n"))

	if want := []Frame{Token{Content: "a"}, Token{Content: "b"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected frames %+v, got %+v", want, got)
	}
}

func TestDecoderMalformedRecordIsFatal(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{name: "invalid json", line: "data: {\"type\":\"token\",\"content\":"},
		{name: "unknown type", line: `data: {"type":"audio","content":"x"}`},
		{name: "unknown state", line: `data: {"type":"status","state":"sleeping"}`},
		{name: "token without content", line: `data: {"type":"token"}`},
		{name: "empty payload", line: "data: "},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			d := NewDecoder()
			stream := `data: {"type":"token","content":"ok"}` + "\n" + testCase.line + "\n" + `data: {"type":"token","content":"after"}` + "\n"

			var frames []Frame
			var decodeErr error
			for frame, err := range d.Feed([]byte(stream)) {
				if err != nil {
					decodeErr = err
					continue
				}
				frames = append(frames, frame)
			}

			var syntaxErr *SyntaxError
			if !errors.As(decodeErr, &syntaxErr) {
				t.Fatalf("expected syntax error, got %v", decodeErr)
			}
			if want := []Frame{Token{Content: "ok"}}; !reflect.DeepEqual(frames, want) {
				t.Fatalf("expected only frames before the malformed line %+v, got %+v", want, frames)
			}

			// The malformed line is consumed; the rest of the buffer is intact.
			got := collect(t, d, nil)
			if want := []Frame{Token{Content: "after"}}; !reflect.DeepEqual(got, want) {
				t.Fatalf("expected decoder to continue after malformed line with %+v, got %+v", want, got)
			}
		})
	}
}

func TestDecoderEarlyBreakKeepsRemainingLines(t *testing.T) {
	d := NewDecoder()
	stream := []byte("data: {\"type\":\"token\",\"content\":\"a\"}\ndata: {\"type\":\"token\",\"content\":\"b\"}\n")

	for frame, err := range d.Feed(stream) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(frame, Token{Content: "a"}) {
			t.Fatalf("expected first frame to be token a, got %+v", frame)
		}
		break
	}

	got := collect(t, d, nil)
	if want := []Frame{Token{Content: "b"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected remaining frames %+v, got %+v", want, got)
	}
}

func TestDecoderResetDropsPartialLine(t *testing.T) {
	d := NewDecoder()
	collect(t, d, []byte(`data: {"type":"token","content":"stale`))

	d.Reset()

	got := collect(t, d, []byte("data: {\"type\":\"token\",\"content\":\"fresh\"}\n"))
	if want := []Frame{Token{Content: "fresh"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected frames %+v after reset, got %+v", want, got)
	}
}

func TestDecoderFlushParsesUnterminatedLine(t *testing.T) {
	d := NewDecoder()
	collect(t, d, []byte(`data: {"type":"status","state":"complete"}`))

	frame, ok, err := d.Flush()
	if err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if !ok || !reflect.DeepEqual(frame, Status{State: StateComplete}) {
		t.Fatalf("expected complete status from flush, got %+v (ok=%t)", frame, ok)
	}
	if d.buf != nil {
		t.Fatalf("expected buffer to be cleared by flush, got %q", d.buf)
	}
}

func TestDecoderFlushIgnoresUnmarkedLine(t *testing.T) {
	d := NewDecoder()
	collect(t, d, []byte(": trailing comment"))

	if frame, ok, err := d.Flush(); frame != nil || ok || err != nil {
		t.Fatalf("expected unmarked leftover to be dropped, got %v %v %v", frame, ok, err)
	}
}
