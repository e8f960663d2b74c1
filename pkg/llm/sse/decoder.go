// Package sse decodes the server-sent event stream returned by OpenAI-compatible
// chat completion endpoints.
//
// Bytes arrive in arbitrary fragments that are not aligned to line boundaries.
// LineDecoder buffers the unterminated tail between fragments and yields only
// complete lines. Decoder builds on it to recognize "data: " records, skip the
// [DONE] sentinel and drop payloads that are not valid JSON.
package sse

import (
	"bytes"
	"iter"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// DataPrefix marks a line that carries an event payload.
	DataPrefix = "data: "

	// DoneSentinel is the payload that terminates a completion stream.
	DoneSentinel = "[DONE]"
)

// LineDecoder splits a fragmented byte stream into complete lines.
//
// A LineDecoder is not safe for concurrent use; one instance serves one stream.
type LineDecoder struct {
	buf []byte
}

// NewLineDecoder creates an empty line decoder.
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{}
}

// Feed appends a fragment and returns the complete lines now available.
//
// The sequence is lazy: lines are cut from the buffer as they are pulled.
// Lines the caller does not pull stay buffered and are yielded by the next
// Feed. Data after the last newline is retained until a later fragment
// terminates it. A trailing carriage return is stripped from each line.
func (d *LineDecoder) Feed(fragment []byte) iter.Seq[string] {
	d.buf = append(d.buf, fragment...)
	return func(yield func(string) bool) {
		for {
			i := bytes.IndexByte(d.buf, '\n')
			if i < 0 {
				return
			}
			line := string(bytes.TrimSuffix(d.buf[:i], []byte{'\r'}))
			d.buf = d.buf[i+1:]
			if !yield(line) {
				return
			}
		}
	}
}

// Remainder returns the unterminated tail currently buffered. At end of
// stream the remainder is a partial record and is discarded by callers.
func (d *LineDecoder) Remainder() []byte {
	return d.buf
}

// Payload is one decoded JSON record from a data line.
type Payload struct {
	gjson.Result
}

// Decoder turns stream fragments into JSON payloads.
type Decoder struct {
	lines *LineDecoder
}

// NewDecoder creates a decoder for one stream.
func NewDecoder() *Decoder {
	return &Decoder{lines: NewLineDecoder()}
}

// Feed appends a fragment and returns the payloads of the complete lines now
// available. Blank lines, lines without the data prefix, the [DONE] sentinel and
// malformed JSON are skipped without error.
func (d *Decoder) Feed(fragment []byte) iter.Seq[Payload] {
	lines := d.lines.Feed(fragment)
	return func(yield func(Payload) bool) {
		for line := range lines {
			payload, ok := ParseLine(line)
			if !ok {
				continue
			}
			if !yield(payload) {
				return
			}
		}
	}
}

// Remainder returns the unterminated tail currently buffered.
func (d *Decoder) Remainder() []byte {
	return d.lines.Remainder()
}

// ParseLine extracts the JSON payload of a single complete line. It reports
// false for lines that carry no usable payload.
func ParseLine(line string) (Payload, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, DataPrefix) {
		return Payload{}, false
	}

	data := trimmed[len(DataPrefix):]
	if data == DoneSentinel {
		return Payload{}, false
	}

	// Partial or corrupt chunks are dropped rather than surfaced.
	if !gjson.Valid(data) {
		return Payload{}, false
	}

	return Payload{Result: gjson.Parse(data)}, true
}

// Delta returns choices[0].delta.<field> as a string, or "" when absent.
func (p Payload) Delta(field string) string {
	return p.Get("choices.0.delta." + field).String()
}
