// Package nlu turns a transcript into an intent tag and a slot map. The
// recognizer is rule based: command vocabulary on these devices is narrow
// and latency matters more than generality. Anything that matches no rule
// falls through to the chat intent.
package nlu

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent tags. The handler registry partitions these across handlers.
const (
	IntentPlayMusic     = "play_music"
	IntentPlayStory     = "play_story"
	IntentPlayContent   = "play_content"
	IntentPlayArtist    = "play_artist"
	IntentNextTrack     = "next_track"
	IntentPreviousTrack = "previous_track"
	IntentPause         = "pause"
	IntentStop          = "stop"
	IntentResume        = "resume"
	IntentVolumeUp      = "volume_up"
	IntentVolumeDown    = "volume_down"
	IntentVolumeSet     = "volume_set"
	IntentPlayMode      = "play_mode"
	IntentDeleteContent = "delete_content"
	IntentLearnEnglish  = "learn_english"
	IntentGetVersion    = "get_version"
	IntentChat          = "chat"
)

// Slot keys.
const (
	SlotContentName = "content_name"
	SlotArtistName  = "artist_name"
	SlotVolume      = "volume"
	SlotMode        = "mode"
)

// Result is the outcome of recognizing one utterance.
type Result struct {
	Intent     string
	Slots      map[string]string
	Confidence float64
}

// Recognizer maps text to an intent and slots.
type Recognizer interface {
	Recognize(text string) Result
}

// RuleRecognizer is the built-in keyword matcher.
type RuleRecognizer struct{}

var _ Recognizer = (*RuleRecognizer)(nil)

// NewRuleRecognizer returns the standard rule set.
func NewRuleRecognizer() *RuleRecognizer { return &RuleRecognizer{} }

var (
	volumeSetRe  = regexp.MustCompile(`音量(?:调到|调至|设置到|设为)?\s*(\d{1,3})`)
	playArtistRe = regexp.MustCompile(`^(?:播放|我想听|来一首)(.+?)的(?:歌|音乐|歌曲)$`)
	playNamedRe  = regexp.MustCompile(`^(?:播放|我想听|来一首|放一下)(.+)$`)
	deleteRe     = regexp.MustCompile(`^删除(.+)$`)
)

// containsAny reports whether text contains one of the keywords.
func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Recognize applies the rules in priority order. Exact control phrases win
// over the generic "play <name>" extraction, which in turn wins over chat.
func (r *RuleRecognizer) Recognize(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Intent: IntentChat, Slots: map[string]string{}}
	}

	hit := func(intent string, slots map[string]string) Result {
		if slots == nil {
			slots = map[string]string{}
		}
		return Result{Intent: intent, Slots: slots, Confidence: 0.9}
	}

	// Playback transport controls.
	switch {
	case containsAny(text, "下一首", "换一首", "切歌"):
		return hit(IntentNextTrack, nil)
	case containsAny(text, "上一首", "前一首"):
		return hit(IntentPreviousTrack, nil)
	case containsAny(text, "继续播放") || text == "继续":
		return hit(IntentResume, nil)
	case containsAny(text, "暂停"):
		return hit(IntentPause, nil)
	case containsAny(text, "停止", "别放了", "不听了"):
		return hit(IntentStop, nil)
	}

	// Volume.
	if m := volumeSetRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v <= 100 {
			return hit(IntentVolumeSet, map[string]string{SlotVolume: m[1]})
		}
	}
	switch {
	case containsAny(text, "大声一点", "声音大一点", "音量大一点", "调高音量"):
		return hit(IntentVolumeUp, nil)
	case containsAny(text, "小声一点", "声音小一点", "音量小一点", "调低音量"):
		return hit(IntentVolumeDown, nil)
	}

	// Play modes.
	for phrase, mode := range map[string]string{
		"单曲循环": "single_loop",
		"随机播放": "shuffle",
		"顺序播放": "sequential",
		"列表循环": "playlist_loop",
	} {
		if strings.Contains(text, phrase) {
			return hit(IntentPlayMode, map[string]string{SlotMode: mode})
		}
	}

	// Deletion.
	if m := deleteRe.FindStringSubmatch(text); m != nil {
		return hit(IntentDeleteContent, map[string]string{SlotContentName: strings.TrimSpace(m[1])})
	}

	// Content categories.
	switch {
	case containsAny(text, "学英语", "英语单词", "读单词"):
		return hit(IntentLearnEnglish, nil)
	case containsAny(text, "讲故事", "听故事", "讲个故事"):
		return hit(IntentPlayStory, nil)
	case containsAny(text, "播放音乐", "听音乐", "放首歌", "来点音乐"):
		return hit(IntentPlayMusic, nil)
	case containsAny(text, "版本"):
		return hit(IntentGetVersion, nil)
	}

	// "播放<artist>的歌" before the generic "播放<name>".
	if m := playArtistRe.FindStringSubmatch(text); m != nil {
		return hit(IntentPlayArtist, map[string]string{SlotArtistName: strings.TrimSpace(m[1])})
	}
	if m := playNamedRe.FindStringSubmatch(text); m != nil {
		return hit(IntentPlayContent, map[string]string{SlotContentName: strings.TrimSpace(m[1])})
	}

	return Result{Intent: IntentChat, Slots: map[string]string{}, Confidence: 0.3}
}
