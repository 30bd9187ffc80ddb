package ot

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
	KindRetain Kind = "retain"
	KindFormat Kind = "format"
)

var ErrMalformedOperation = errors.New("MALFORMED_OPERATION")

// Operation 是一次原子编辑。位置与长度均按 rune 计数。
// insert 使用 Pos+Text；delete/retain/format 使用 Pos+Length；
// format 额外携带 Attrs（粗体/颜色等）。
type Operation struct {
	Kind   Kind           `json:"kind"`
	Pos    int            `json:"pos"`
	Length int            `json:"length,omitempty"`
	Text   string         `json:"text,omitempty"`
	Attrs  map[string]any `json:"attrs,omitempty"`

	// 客户端实例标识。同一用户可有多个 clientId（多端/多标签页）。
	ClientID string `json:"clientId,omitempty"`
	// 针对同一个 clientId 的本地递增序号，tie-break 用
	ClientSeq uint64 `json:"clientSeq,omitempty"`
}

func (op Operation) TextLen() int { return len([]rune(op.Text)) }

func (op Operation) End() int { return op.Pos + op.Length }

// Validate 校验操作相对于长度为 docLen 的文档是否良构。
// 不良构的操作绝不进入 Apply：静默 clamp 会让副本发散。
func (op Operation) Validate(docLen int) error {
	if op.Pos < 0 {
		return fmt.Errorf("%w: negative position %d", ErrMalformedOperation, op.Pos)
	}
	switch op.Kind {
	case KindInsert:
		if op.Pos > docLen {
			return fmt.Errorf("%w: insert at %d beyond length %d", ErrMalformedOperation, op.Pos, docLen)
		}
	case KindDelete, KindRetain, KindFormat:
		if op.Length < 0 {
			return fmt.Errorf("%w: negative length %d", ErrMalformedOperation, op.Length)
		}
		if op.End() > docLen {
			return fmt.Errorf("%w: range [%d,%d) beyond length %d", ErrMalformedOperation, op.Pos, op.End(), docLen)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedOperation, op.Kind)
	}
	return nil
}

// IsNoop: delete/delete 变换可能把一个操作缩成空操作，
// 空操作仍然会被排序（序列号不留空洞），只是 Apply 时什么都不做。
func (op Operation) IsNoop() bool {
	switch op.Kind {
	case KindInsert:
		return op.Text == ""
	case KindDelete, KindRetain, KindFormat:
		return op.Length == 0
	}
	return true
}

// Apply 把操作作用到纯文本内容上，返回新内容。
// 对 Validate 通过的操作绝不报错；retain/format 不改动文本本身
// （格式属性随操作日志下发，由客户端落到富文本上）。
func Apply(content string, op Operation) (string, error) {
	r := []rune(content)
	if err := op.Validate(len(r)); err != nil {
		return content, err
	}
	switch op.Kind {
	case KindInsert:
		out := make([]rune, 0, len(r)+op.TextLen())
		out = append(out, r[:op.Pos]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, r[op.Pos:]...)
		return string(out), nil
	case KindDelete:
		out := make([]rune, 0, len(r)-op.Length)
		out = append(out, r[:op.Pos]...)
		out = append(out, r[op.End():]...)
		return string(out), nil
	case KindRetain, KindFormat:
		return content, nil
	}
	return content, fmt.Errorf("%w: unknown kind %q", ErrMalformedOperation, op.Kind)
}
