package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/voxleaf/voxleaf/internal/nlu"
)

// systemHandler answers device introspection and absolute volume requests.
type systemHandler struct{}

var _ Handler = (*systemHandler)(nil)

func (h *systemHandler) Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error) {
	switch res.Intent {
	case nlu.IntentGetVersion:
		if env.Version == nil {
			return &Response{Text: "无法获取版本信息"}, nil
		}
		v, err := env.Version(ctx)
		if err != nil || v == "" {
			env.log().Warn("version query failed", "device", env.DeviceID, "error", err)
			return &Response{Text: "无法获取版本信息"}, nil
		}
		return &Response{Text: "当前版本" + v}, nil

	case nlu.IntentVolumeSet:
		value, err := strconv.Atoi(res.Slots[nlu.SlotVolume])
		if err != nil {
			return &Response{Text: "没有听清要调到多少音量"}, nil
		}
		if value < 0 {
			value = 0
		}
		if value > 100 {
			value = 100
		}
		return &Response{
			SkipInterrupt: true,
			Commands:      []Command{VolumeSet(value), Play()},
		}, nil

	default:
		return nil, fmt.Errorf("handler: system cannot handle intent %q", res.Intent)
	}
}
