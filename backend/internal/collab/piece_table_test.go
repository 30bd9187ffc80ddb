package collab

import (
	"testing"

	"syncServer/backend/internal/ot"
)

func TestPieceTable_BasicString(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if got := pt.String(); got != "Hello world" {
		t.Fatalf("String() = %q, want %q", got, "Hello world")
	}
	if gotLen := pt.Len(); gotLen != len([]rune("Hello world")) {
		t.Fatalf("Len() = %d, want %d", gotLen, len([]rune("Hello world")))
	}
}

func TestPieceTable_InsertMiddle(t *testing.T) {
	pt := NewPieceTable("Hello world")

	op := ot.Operation{Kind: ot.KindInsert, Pos: 5, Text: " collaborative"}
	if err := pt.ApplyOp(op); err != nil {
		t.Fatalf("ApplyOp() error = %v", err)
	}

	want := "Hello collaborative world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("Hello collaborative world")

	// 保留 "Hello"，删 " collaborative"
	op := ot.Operation{Kind: ot.KindDelete, Pos: 5, Length: 14}
	if err := pt.ApplyOp(op); err != nil {
		t.Fatalf("ApplyOp() error = %v", err)
	}

	want := "Hello world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("abcdef")

	// 先插入拆出多个 piece，再跨 piece 删除
	if err := pt.ApplyOp(ot.Operation{Kind: ot.KindInsert, Pos: 3, Text: "XYZ"}); err != nil {
		t.Fatalf("ApplyOp() error = %v", err)
	}
	if got := pt.String(); got != "abcXYZdef" {
		t.Fatalf("String() = %q, want %q", got, "abcXYZdef")
	}

	if err := pt.ApplyOp(ot.Operation{Kind: ot.KindDelete, Pos: 2, Length: 5}); err != nil {
		t.Fatalf("ApplyOp() error = %v", err)
	}
	if got := pt.String(); got != "abef" {
		t.Fatalf("String() = %q, want %q", got, "abef")
	}
}

func TestPieceTable_MatchesPureApply(t *testing.T) {
	// PieceTable 与 ot.Apply 必须对同一串操作给出相同结果
	ops := []ot.Operation{
		{Kind: ot.KindInsert, Pos: 0, Text: "Hello"},
		{Kind: ot.KindInsert, Pos: 5, Text: " world"},
		{Kind: ot.KindDelete, Pos: 0, Length: 1},
		{Kind: ot.KindInsert, Pos: 0, Text: "h"},
		{Kind: ot.KindFormat, Pos: 0, Length: 5, Attrs: map[string]any{"bold": true}},
		{Kind: ot.KindDelete, Pos: 5, Length: 6},
	}

	pt := NewPieceTable("")
	content := ""
	for _, op := range ops {
		if err := pt.ApplyOp(op); err != nil {
			t.Fatalf("ApplyOp(%+v) error = %v", op, err)
		}
		var err error
		content, err = ot.Apply(content, op)
		if err != nil {
			t.Fatalf("Apply(%+v) error = %v", op, err)
		}
		if pt.String() != content {
			t.Fatalf("diverged after %+v: piece table %q, pure apply %q", op, pt.String(), content)
		}
	}
	if content != "hello" {
		t.Fatalf("final content = %q, want %q", content, "hello")
	}
}

func TestPieceTable_RejectsMalformed(t *testing.T) {
	pt := NewPieceTable("abc")
	if err := pt.ApplyOp(ot.Operation{Kind: ot.KindDelete, Pos: 1, Length: 10}); err == nil {
		t.Fatalf("expected error for out-of-range delete")
	}
	if got := pt.String(); got != "abc" {
		t.Fatalf("content changed on rejected op: %q", got)
	}
}
