// Package proto implements the wire codec spoken between the server and a
// speaker device.
//
// The device channel is full duplex and carries two frame kinds: UTF-8 JSON
// text frames and binary frames. A text frame is one of three envelopes —
// {"Request": …} (server → device), {"Response": …} and {"Event": …}
// (device → server). Older firmware emits events and responses without the
// envelope wrapper; the decoder accepts both forms. A binary frame is a
// JSON-encoded Stream whose "bytes" field is an array of unsigned 8-bit
// integers holding raw PCM; binary frames that are not valid JSON are
// treated as bare PCM.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Device event names recognised by the decoder.
const (
	// EventWake is emitted when the device's local wake-word engine fires.
	// The event data is the wake phrase.
	EventWake = "kws"

	// EventPlaying reports a playback state change. The event data is one
	// of "Playing", "Paused" or "Idle" (case-insensitive).
	EventPlaying = "playing"

	// EventInstruction carries a streaming partial from the device's own
	// cloud ASR. The data is either the literal NewFileMarker string or an
	// object {"NewLine": "<escaped-json>"}.
	EventInstruction = "instruction"
)

// Response codes.
const (
	CodeOK     = 0
	CodeFailed = -1
)

// ErrUnrecognizedFrame is returned when a text frame is valid JSON but does
// not match any known envelope or flat form.
var ErrUnrecognizedFrame = errors.New("proto: unrecognized frame")

// Request is a server-issued command. Payload is kept as raw JSON so a
// decoded request round-trips byte-identically through Encode/DecodeText.
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the device's reply to a Request, matched by ID.
// Code 0 means success, -1 means failure.
type Response struct {
	ID   string          `json:"id"`
	Code int             `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the response indicates success.
func (r *Response) OK() bool { return r.Code == CodeOK }

// Event is an unsolicited device notification.
type Event struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TextData interprets the event data as a JSON string. Returns "" when the
// data is absent or not a string.
func (e *Event) TextData() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return ""
	}
	return s
}

// Frame is the result of decoding a text frame. Exactly one field is
// non-nil.
type Frame struct {
	Request  *Request
	Response *Response
	Event    *Event
}

// envelope is the wrapped text-frame form.
type envelope struct {
	Request  *Request  `json:"Request,omitempty"`
	Response *Response `json:"Response,omitempty"`
	Event    *Event    `json:"Event,omitempty"`
}

// flatProbe detects the legacy unwrapped event/response forms.
type flatProbe struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Code  *int            `json:"code"`
	Msg   string          `json:"msg"`
}

// DecodeText parses a JSON text frame into a Frame. Both the wrapped
// envelope and the legacy flat event/response forms are accepted.
func DecodeText(data []byte) (*Frame, error) {
	// The flat form's string "event" key collides with the envelope's
	// Event field under encoding/json's case-insensitive tag matching, so
	// an envelope decode error means flat form, not malformed input.
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil {
		switch {
		case env.Request != nil:
			return &Frame{Request: env.Request}, nil
		case env.Response != nil:
			return &Frame{Response: env.Response}, nil
		case env.Event != nil:
			return &Frame{Event: env.Event}, nil
		}
	}

	// Legacy flat forms: an object with an "event" key is an event, one
	// with a "code" key is a response.
	var flat flatProbe
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("proto: decode text frame: %w", err)
	}
	if flat.Event != "" {
		return &Frame{Event: &Event{ID: flat.ID, Event: flat.Event, Data: flat.Data}}, nil
	}
	if flat.Code != nil {
		return &Frame{Response: &Response{ID: flat.ID, Code: *flat.Code, Msg: flat.Msg}}, nil
	}
	return nil, ErrUnrecognizedFrame
}

// EncodeRequest serializes req into its wrapped text-frame form.
func EncodeRequest(req *Request) ([]byte, error) {
	b, err := json.Marshal(envelope{Request: req})
	if err != nil {
		return nil, fmt.Errorf("proto: encode request: %w", err)
	}
	return b, nil
}

// EncodeResponse serializes resp into its wrapped text-frame form. Used by
// device simulators in tests; the server itself only decodes responses.
func EncodeResponse(resp *Response) ([]byte, error) {
	b, err := json.Marshal(envelope{Response: resp})
	if err != nil {
		return nil, fmt.Errorf("proto: encode response: %w", err)
	}
	return b, nil
}

// EncodeEvent serializes ev into its wrapped text-frame form.
func EncodeEvent(ev *Event) ([]byte, error) {
	b, err := json.Marshal(envelope{Event: ev})
	if err != nil {
		return nil, fmt.Errorf("proto: encode event: %w", err)
	}
	return b, nil
}

// ─── Binary streams ────────────────────────────────────────────────────────

// TagRecord marks a Stream carrying recorded audio.
const TagRecord = "record"

// ByteArray is a byte slice that marshals as a JSON array of unsigned 8-bit
// integers rather than the base64 string encoding/json would otherwise use.
// The device firmware emits and expects the array form.
type ByteArray []byte

// MarshalJSON encodes b as a JSON number array.
func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	var sb strings.Builder
	sb.Grow(len(b)*4 + 2)
	sb.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

// UnmarshalJSON decodes a JSON number array into b. Values outside [0,255]
// are rejected.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]byte, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return fmt.Errorf("proto: byte array element %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Stream is the decoded form of a binary frame.
type Stream struct {
	ID    string          `json:"id"`
	Tag   string          `json:"tag"`
	Bytes ByteArray       `json:"bytes"`
	Data  json.RawMessage `json:"data"`
}

// DecodeBinary parses a binary frame. If the frame is a valid JSON Stream
// object it is decoded as such; otherwise the whole frame is treated as raw
// PCM belonging to the record stream. DecodeBinary never fails.
func DecodeBinary(frame []byte) *Stream {
	var s Stream
	if err := json.Unmarshal(frame, &s); err == nil && s.Tag != "" {
		return &s
	}
	pcm := make([]byte, len(frame))
	copy(pcm, frame)
	return &Stream{Tag: TagRecord, Bytes: pcm}
}

// EncodeBinary serializes s into the JSON binary-frame form.
func EncodeBinary(s *Stream) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("proto: encode binary frame: %w", err)
	}
	return b, nil
}

// ─── Playback state ────────────────────────────────────────────────────────

// PlayingState is the device-reported playback state.
type PlayingState string

const (
	PlayingStatePlaying PlayingState = "Playing"
	PlayingStatePaused  PlayingState = "Paused"
	PlayingStateIdle    PlayingState = "Idle"
)

// ParsePlayingState normalises a playing-event payload. Matching is
// case-insensitive; unknown values return an error.
func ParsePlayingState(s string) (PlayingState, error) {
	switch strings.ToLower(s) {
	case "playing":
		return PlayingStatePlaying, nil
	case "paused":
		return PlayingStatePaused, nil
	case "idle":
		return PlayingStateIdle, nil
	}
	return "", fmt.Errorf("proto: unknown playing state %q", s)
}
