package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/pkg/catalog"
	"github.com/voxleaf/voxleaf/pkg/playqueue"
)

// controlHandler covers transport control: pause, stop, resume, volume,
// queue navigation and play modes.
//
// Resume and the volume commands set SkipInterrupt with empty text: the
// response phase must not send abort+pause first (it would destroy the
// paused media state), and any spoken reply would overwrite it too.
type controlHandler struct{}

var _ Handler = (*controlHandler)(nil)

var modeNames = map[playqueue.Mode]string{
	playqueue.ModeSequential:   "顺序播放",
	playqueue.ModeSingleLoop:   "单曲循环",
	playqueue.ModePlaylistLoop: "列表循环",
	playqueue.ModeShuffle:      "随机播放",
}

func (h *controlHandler) Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error) {
	switch res.Intent {
	case nlu.IntentPause:
		// The abort+pause preamble of the response phase is the intended
		// effect here.
		return &Response{Text: "已暂停"}, nil

	case nlu.IntentStop:
		if err := env.Queue.ClearQueue(ctx, env.DeviceID); err != nil {
			return nil, fmt.Errorf("handler: clear queue: %w", err)
		}
		return &Response{Text: "已停止", Queue: QueueDisable}, nil

	case nlu.IntentResume:
		queue, err := env.Queue.GetQueue(ctx, env.DeviceID)
		if err != nil {
			env.log().Warn("queue lookup failed on resume", "device", env.DeviceID, "error", err)
		}
		flag := QueueDisable
		if len(queue) > 0 {
			flag = QueueEnable
		}
		return &Response{
			SkipInterrupt: true,
			Commands:      []Command{Play()},
			Queue:         flag,
		}, nil

	case nlu.IntentVolumeUp:
		return &Response{
			SkipInterrupt: true,
			Commands:      []Command{VolumeUp(), Play()},
		}, nil

	case nlu.IntentVolumeDown:
		return &Response{
			SkipInterrupt: true,
			Commands:      []Command{VolumeDown(), Play()},
		}, nil

	case nlu.IntentNextTrack:
		return h.navigate(ctx, env, true)

	case nlu.IntentPreviousTrack:
		return h.navigate(ctx, env, false)

	case nlu.IntentPlayMode:
		return h.setMode(ctx, res.Slots[nlu.SlotMode], env)

	default:
		return nil, fmt.Errorf("handler: control cannot handle intent %q", res.Intent)
	}
}

// navigate moves the queue cursor, skipping unplayable entries, trying at
// most the queue's length. Wrap-around is unconditional for user-initiated
// navigation.
func (h *controlHandler) navigate(ctx context.Context, env *Env, forward bool) (*Response, error) {
	queue, err := env.Queue.GetQueue(ctx, env.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("handler: queue lookup: %w", err)
	}
	if len(queue) == 0 {
		return &Response{Text: "播放队列是空的"}, nil
	}

	for attempt := 0; attempt < len(queue); attempt++ {
		var id int64
		if forward {
			id, err = env.Queue.GetNext(ctx, env.DeviceID, true)
		} else {
			id, err = env.Queue.GetPrevious(ctx, env.DeviceID, true)
		}
		if errors.Is(err, playqueue.ErrEmpty) {
			return &Response{Text: "播放队列是空的"}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("handler: advance queue: %w", err)
		}

		c, err := env.Catalog.GetContentByID(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) || (err == nil && !c.Playable()) {
			env.log().Info("skipping unplayable queue entry", "content_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("handler: load content %d: %w", id, err)
		}
		return playContent(ctx, env, c), nil
	}
	return &Response{Text: "没有可以播放的内容", Queue: QueueDisable}, nil
}

func (h *controlHandler) setMode(ctx context.Context, raw string, env *Env) (*Response, error) {
	mode := playqueue.Mode(raw)
	if !mode.IsValid() {
		return &Response{Text: "不支持这个播放模式"}, nil
	}
	if err := env.Queue.SetMode(ctx, env.DeviceID, mode); err != nil {
		return nil, fmt.Errorf("handler: set mode: %w", err)
	}
	return &Response{Text: "已切换到" + modeNames[mode]}, nil
}
