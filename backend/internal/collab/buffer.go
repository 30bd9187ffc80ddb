package collab

import (
	"syncServer/backend/internal/ot"
)

// 文档内容缓冲区。Sequencer 串行写，String/Len 供 catch-up 读。
type Buffer interface {
	Len() int
	ApplyOp(op ot.Operation) error
	String() string
}
