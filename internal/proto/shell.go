package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request command names understood by the device agent.
const (
	CmdRunShell       = "run_shell"
	CmdStartRecording = "start_recording"
	CmdStopRecording  = "stop_recording"
	CmdStartPlay      = "start_play"
	CmdStopPlay       = "stop_play"
	CmdGetVersion     = "get_version"
)

// RecordingParams configures the device's capture loop for a
// start_recording request.
type RecordingParams struct {
	PCM           string `json:"pcm"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
	PeriodSize    int    `json:"period_size"`
	BufferSize    int    `json:"buffer_size"`
}

// DefaultRecordingParams returns the standard 16 kHz mono capture setup for
// the given ALSA device name.
func DefaultRecordingParams(captureDevice string) RecordingParams {
	return RecordingParams{
		PCM:           captureDevice,
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
		PeriodSize:    360,
		BufferSize:    1440,
	}
}

// NewRequest builds a Request with the payload marshaled in place.
func NewRequest(id, command string, payload any) (*Request, error) {
	req := &Request{ID: id, Command: command}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("proto: marshal %s payload: %w", command, err)
		}
		req.Payload = raw
	}
	return req, nil
}

// NewShellRequest builds a run_shell request for the given command line.
func NewShellRequest(id, shell string) (*Request, error) {
	return NewRequest(id, CmdRunShell, shell)
}

// ─── Device shell command lines ─────────────────────────────────────────────
//
// These strings are executed verbatim by the on-device agent. The speaker
// firmware is sensitive to exact formatting (quoting, the ubus JSON
// argument shapes), so they are built here and nowhere else.

// ShellAbortAssistant restarts the built-in assistant service, killing any
// in-flight cloud response before it reaches the speaker.
func ShellAbortAssistant() string {
	return "/etc/init.d/mico_aivs_lab restart >/dev/null 2>&1"
}

// ShellPause pauses the device media player.
func ShellPause() string { return "mphelper pause" }

// ShellResume resumes the device media player.
func ShellResume() string { return "mphelper play" }

// ShellPlayURL plays the given URL through the device media player.
// The URL is interpolated into a ubus JSON argument; it must not contain
// single quotes or double quotes.
func ShellPlayURL(url string) string {
	return `ubus call mediaplayer player_play_url '{"url":"` + url + `","type": 1}'`
}

// ShellSpeak speaks text through the device's local TTS engine. Single
// quotes in the text are escaped for the surrounding single-quoted shell
// argument.
func ShellSpeak(text string) string {
	escaped := strings.ReplaceAll(text, `'`, `'\''`)
	return "/usr/sbin/tts_play.sh '" + escaped + "'"
}

// ShellWake triggers the device's own wake flow, as if the wake word had
// been spoken.
func ShellWake() string {
	return `ubus call pnshelper event_notify '{"src":1,"event":0}'`
}

// Volume control actions accepted by ShellVolume.
const (
	VolumeUp   = "up"
	VolumeDown = "down"
	VolumeSet  = "set"
)

// ShellVolume adjusts the speaker volume. For "up" and "down" the value is
// the step size; for "set" it is the absolute level in [0,100].
func ShellVolume(action string, value int) string {
	return fmt.Sprintf(`ubus call player_command volume_ctrl '{"action":"%s","value":%d}'`, action, value)
}
