package ot

import "errors"

var ErrNotComposable = errors.New("NOT_COMPOSABLE")

// Compose 把先 op1 后 op2 的两次相邻编辑合并成一个等价操作，
// 用于客户端在发送前折叠本地缓冲。只处理存在单一等价操作的情形，
// 其余返回 ErrNotComposable，客户端原样发送两条。
func Compose(op1, op2 Operation) (Operation, error) {
	switch {
	case op1.Kind == KindInsert && op2.Kind == KindInsert:
		// op2 插入点落在 op1 插入文本内（含两端）：拼接
		if op2.Pos >= op1.Pos && op2.Pos <= op1.Pos+op1.TextLen() {
			r := []rune(op1.Text)
			at := op2.Pos - op1.Pos
			merged := string(r[:at]) + op2.Text + string(r[at:])
			out := op1
			out.Text = merged
			return out, nil
		}

	case op1.Kind == KindDelete && op2.Kind == KindDelete:
		// 连续向前删除：op2 起点与 op1 起点重合
		if op2.Pos == op1.Pos {
			out := op1
			out.Length += op2.Length
			return out, nil
		}
		// 退格式删除：op2 终点抵住 op1 起点
		if op2.End() == op1.Pos {
			out := op2
			out.Length += op1.Length
			return out, nil
		}

	case op1.Kind == KindInsert && op2.Kind == KindDelete:
		// 删除范围完全落在刚插入的文本内：从插入文本中抠掉
		if op2.Pos >= op1.Pos && op2.End() <= op1.Pos+op1.TextLen() {
			r := []rune(op1.Text)
			from := op2.Pos - op1.Pos
			out := op1
			out.Text = string(r[:from]) + string(r[from+op2.Length:])
			return out, nil
		}

	case op1.Kind == KindFormat && op2.Kind == KindFormat:
		// 同一范围的两次格式化：属性合并，后者覆盖前者
		if op1.Pos == op2.Pos && op1.Length == op2.Length {
			out := op1
			attrs := make(map[string]any, len(op1.Attrs)+len(op2.Attrs))
			for k, v := range op1.Attrs {
				attrs[k] = v
			}
			for k, v := range op2.Attrs {
				attrs[k] = v
			}
			out.Attrs = attrs
			return out, nil
		}
	}
	return Operation{}, ErrNotComposable
}
