package eventbus

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind 标识信号类型，仅有 start/progress/end 三种。
type Kind string

const (
	KindStart    Kind = "start"
	KindProgress Kind = "progress"
	KindEnd      Kind = "end"
)

// Signal 是一次不带身份的操作事件；Value 仅对 progress 有意义（0-100）。
type Signal struct {
	Kind  Kind
	Value int
}

// Start/Progress/End 构造三种信号，Progress 会把取值钳制到 0-100。
func Start() Signal { return Signal{Kind: KindStart} }

func Progress(value int) Signal {
	return Signal{Kind: KindProgress, Value: clamp(value)}
}

func End() Signal { return Signal{Kind: KindEnd} }

// String 输出线上词汇：start、progress:<n>、end。
func (s Signal) String() string {
	if s.Kind == KindProgress {
		return fmt.Sprintf("%s:%d", KindProgress, clamp(s.Value))
	}
	return string(s.Kind)
}

// ParseSignal 解析 String 的输出，未知类型或非法数值返回错误。
func ParseSignal(raw string) (Signal, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case string(KindStart):
		return Start(), nil
	case string(KindEnd):
		return End(), nil
	}

	prefix := string(KindProgress) + ":"
	if !strings.HasPrefix(raw, prefix) {
		return Signal{}, fmt.Errorf("unknown signal %q", raw)
	}
	value, err := strconv.Atoi(strings.TrimPrefix(raw, prefix))
	if err != nil {
		return Signal{}, fmt.Errorf("invalid progress value in %q: %w", raw, err)
	}
	return Progress(value), nil
}

func clamp(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
