package collab

import (
	"strings"

	"syncServer/backend/internal/ot"
)

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	buf    bufferKind
	offset int
	length int
}

// PieceTable：original 只读，add 只追加，pieces 描述当前文本。
// 插入/删除只拆分或移除 piece，不搬动已有文本。
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	return &PieceTable{
		original: r,
		pieces:   []piece{{buf: bufOriginal, offset: 0, length: len(r)}},
	}
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			sb.WriteString(string(pt.original[p.offset : p.offset+p.length]))
		case bufAdd:
			sb.WriteString(string(pt.add[p.offset : p.offset+p.length]))
		}
	}
	return sb.String()
}

// ApplyOp 应用一个已变换、已排序的操作。
// 调用方保证操作相对当前长度良构（Validate 在 Sequencer 里做过）。
func (pt *PieceTable) ApplyOp(op ot.Operation) error {
	if err := op.Validate(pt.Len()); err != nil {
		return err
	}
	switch op.Kind {
	case ot.KindInsert:
		pt.insert(op.Pos, op.Text)
	case ot.KindDelete:
		pt.delete(op.Pos, op.Length)
	case ot.KindRetain, ot.KindFormat:
		// 不改动文本；格式属性由客户端按操作日志落地
	}
	return nil
}

func (pt *PieceTable) insert(pos int, text string) {
	runes := []rune(text)
	if len(runes) == 0 {
		return
	}
	start := len(pt.add)
	pt.add = append(pt.add, runes...)
	newPiece := piece{buf: bufAdd, offset: start, length: len(runes)}

	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		return
	}

	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

	out := make([]piece, 0, len(pt.pieces)+2)
	out = append(out, pt.pieces[:idx]...)
	if left.length > 0 {
		out = append(out, left)
	}
	out = append(out, newPiece)
	if right.length > 0 {
		out = append(out, right)
	}
	out = append(out, pt.pieces[idx+1:]...)
	pt.pieces = out
}

func (pt *PieceTable) delete(pos, count int) {
	remain := count
	idx, offset := pt.locate(pos)

	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// 整个 piece 移除，idx 原地指向下一个 piece
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
			offset = 0
		} else {
			// 只删中段：拆成左右两段。下一轮 can=0 会自动跳过左段，
			// 从右段（或后继 piece）的起点继续删
			leftLen := offset
			rightLen := cur.length - offset - take

			out := make([]piece, 0, len(pt.pieces)+1)
			out = append(out, pt.pieces[:idx]...)
			if leftLen > 0 {
				out = append(out, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				out = append(out, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			out = append(out, pt.pieces[idx+1:]...)
			pt.pieces = out
		}

		remain -= take
	}
}

// locate 把逻辑位置 pos 映射为 (piece 下标, piece 内偏移)
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
