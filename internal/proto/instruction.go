package proto

import (
	"encoding/json"
	"fmt"
)

// NewFileMarker is the instruction-event data value signalling that the
// device's cloud session rotated its transcript file. It carries no text.
const NewFileMarker = "NewFile"

// InstructionHeader identifies the cloud directive carried by a NewLine
// payload.
type InstructionHeader struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// cloudPlaybackMarkers lists the directives that indicate the device's
// built-in cloud assistant is about to speak or play media on its own.
// Seeing one of these while a server pipeline is active means the cloud
// response must be intercepted before it reaches the speaker.
var cloudPlaybackMarkers = map[InstructionHeader]bool{
	{Namespace: "AudioPlayer", Name: "Play"}:        true,
	{Namespace: "SpeechSynthesizer", Name: "Speak"}: true,
}

// IsCloudPlayback reports whether h marks imminent cloud-side playback.
func (h InstructionHeader) IsCloudPlayback() bool {
	return cloudPlaybackMarkers[h]
}

// Instruction is a decoded NewLine payload: one streaming partial from the
// device's cloud ASR, or a cloud directive such as a playback announcement.
type Instruction struct {
	Header InstructionHeader

	// Text is the recognised transcript so far. Empty for non-ASR
	// directives.
	Text string

	// Final reports whether the cloud considers this utterance complete.
	Final bool
}

// newLineEnvelope is the outer instruction-event data object. NewLine holds
// a second JSON document, escaped into a string by the firmware.
type newLineEnvelope struct {
	NewLine string `json:"NewLine"`
}

type newLineMessage struct {
	Header  InstructionHeader `json:"header"`
	Payload struct {
		IsFinal bool `json:"is_final"`
		Results []struct {
			Text   string `json:"text"`
			IsStop bool   `json:"is_stop"`
		} `json:"results"`
	} `json:"payload"`
}

// ParseInstruction decodes the data field of an instruction event.
//
// The data is either the bare string "NewFile" (returns nil, false, nil) or
// an object {"NewLine": "<json>"} whose inner document is decoded into an
// Instruction (returns inst, true, nil). Any other shape is an error.
func ParseInstruction(data json.RawMessage) (inst *Instruction, ok bool, err error) {
	var marker string
	if json.Unmarshal(data, &marker) == nil {
		if marker == NewFileMarker {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("proto: unknown instruction marker %q", marker)
	}

	var env newLineEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("proto: decode instruction data: %w", err)
	}
	if env.NewLine == "" {
		return nil, false, fmt.Errorf("proto: instruction data has no NewLine")
	}

	var msg newLineMessage
	if err := json.Unmarshal([]byte(env.NewLine), &msg); err != nil {
		return nil, false, fmt.Errorf("proto: decode NewLine payload: %w", err)
	}

	out := &Instruction{Header: msg.Header}
	// Finality is the union of the payload-level flag and the per-result
	// stop flag; firmware versions differ on which one they set.
	out.Final = msg.Payload.IsFinal
	if len(msg.Payload.Results) > 0 {
		out.Text = msg.Payload.Results[0].Text
		out.Final = out.Final || msg.Payload.Results[0].IsStop
	}
	return out, true, nil
}
