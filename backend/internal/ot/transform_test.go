package ot

import (
	"errors"
	"testing"
)

func mustApply(t *testing.T, content string, op Operation) string {
	t.Helper()
	out, err := Apply(content, op)
	if err != nil {
		t.Fatalf("Apply(%q, %+v) error = %v", content, op, err)
	}
	return out
}

func TestTransform_InsertInsert_ServerOrder(t *testing.T) {
	// 文档 "AB"：A 端在 1 处插 "1"，B 端并发在 0 处插 "2"，
	// 服务端先收 X 后收 Y，两端最终都应得到 "2A1B"
	x := Operation{Kind: KindInsert, Pos: 1, Text: "1", ClientID: "A", ClientSeq: 1}
	y := Operation{Kind: KindInsert, Pos: 0, Text: "2", ClientID: "B", ClientSeq: 1}

	content := mustApply(t, "AB", x) // "A1B"
	y2 := Transform(y, x)
	content = mustApply(t, content, y2)

	if content != "2A1B" {
		t.Fatalf("final content = %q, want %q", content, "2A1B")
	}
}

func TestTransform_InsertInsert_TieBreak(t *testing.T) {
	// 同位置插入：(clientId, clientSeq) 字典序小者占左，
	// 两种到达顺序必须收敛到同一结果
	a := Operation{Kind: KindInsert, Pos: 2, Text: "aa", ClientID: "alpha", ClientSeq: 7}
	b := Operation{Kind: KindInsert, Pos: 2, Text: "bb", ClientID: "beta", ClientSeq: 3}

	r1 := mustApply(t, mustApply(t, "xxxx", a), Transform(b, a))
	r2 := mustApply(t, mustApply(t, "xxxx", b), Transform(a, b))

	if r1 != r2 {
		t.Fatalf("orders diverge: %q vs %q", r1, r2)
	}
	if r1 != "xxaabbxx" {
		t.Fatalf("tie-break result = %q, want %q", r1, "xxaabbxx")
	}
}

func TestTransform_DeleteSwallowsConcurrentInsert(t *testing.T) {
	// 文档 "HELLO"：并发的 insert "X"@2 与 delete [0,5)。
	// 先应用插入，再变换删除：删除范围应扩大到把 "X" 一并删掉
	ins := Operation{Kind: KindInsert, Pos: 2, Text: "X", ClientID: "A", ClientSeq: 1}
	del := Operation{Kind: KindDelete, Pos: 0, Length: 5, ClientID: "B", ClientSeq: 1}

	content := mustApply(t, "HELLO", ins) // "HEXLLO"
	del2 := Transform(del, ins)
	if del2.Length != 6 {
		t.Fatalf("transformed delete length = %d, want 6", del2.Length)
	}
	content = mustApply(t, content, del2)
	if content != "" {
		t.Fatalf("content = %q, want empty (no orphaned characters)", content)
	}
}

func TestTransform_InsertAgainstDelete(t *testing.T) {
	// 删除范围整体在插入点之前：插入点左移
	ins := Operation{Kind: KindInsert, Pos: 6, Text: "Z"}
	del := Operation{Kind: KindDelete, Pos: 0, Length: 3}
	got := Transform(ins, del)
	if got.Pos != 3 {
		t.Fatalf("shifted pos = %d, want 3", got.Pos)
	}

	// 插入点落在被删范围内：钳到范围起点
	ins2 := Operation{Kind: KindInsert, Pos: 4, Text: "Z"}
	del2 := Operation{Kind: KindDelete, Pos: 2, Length: 5}
	got2 := Transform(ins2, del2)
	if got2.Pos != 2 {
		t.Fatalf("clamped pos = %d, want 2", got2.Pos)
	}

	// 删除范围在插入点之后：不变
	ins3 := Operation{Kind: KindInsert, Pos: 1, Text: "Z"}
	got3 := Transform(ins3, del2)
	if got3.Pos != 1 {
		t.Fatalf("pos = %d, want 1", got3.Pos)
	}
}

func TestTransform_DeleteDelete_SymmetricDifference(t *testing.T) {
	// [2,6) 对 [4,8)：重叠 [4,6)，剩余 [2,4)
	a := Operation{Kind: KindDelete, Pos: 2, Length: 4}
	b := Operation{Kind: KindDelete, Pos: 4, Length: 4}
	got := Transform(a, b)
	if got.Pos != 2 || got.Length != 2 {
		t.Fatalf("got [%d,%d), want [2,4)", got.Pos, got.End())
	}

	// 完全被覆盖：缩成空操作，但仍可被排序
	c := Operation{Kind: KindDelete, Pos: 3, Length: 2}
	d := Operation{Kind: KindDelete, Pos: 0, Length: 10}
	got2 := Transform(c, d)
	if !got2.IsNoop() {
		t.Fatalf("fully covered delete should be a no-op, got %+v", got2)
	}
	if out := mustApply(t, "whatever", Operation{Kind: KindDelete, Pos: 0, Length: 0}); out != "whatever" {
		t.Fatalf("no-op apply changed content: %q", out)
	}

	// b 整体在 a 之后：a 不变
	e := Operation{Kind: KindDelete, Pos: 1, Length: 2}
	f := Operation{Kind: KindDelete, Pos: 5, Length: 3}
	got3 := Transform(e, f)
	if got3.Pos != 1 || got3.Length != 2 {
		t.Fatalf("got [%d,%d), want [1,3)", got3.Pos, got3.End())
	}
}

func TestTransform_FormatRangeAdjust(t *testing.T) {
	format := Operation{Kind: KindFormat, Pos: 2, Length: 4, Attrs: map[string]any{"bold": true}}

	// 左侧插入：整体右移
	got := Transform(format, Operation{Kind: KindInsert, Pos: 0, Text: "ab"})
	if got.Pos != 4 || got.Length != 4 {
		t.Fatalf("got [%d,%d), want [4,8)", got.Pos, got.End())
	}

	// 范围内删除：范围收缩
	got2 := Transform(format, Operation{Kind: KindDelete, Pos: 3, Length: 2})
	if got2.Pos != 2 || got2.Length != 2 {
		t.Fatalf("got [%d,%d), want [2,4)", got2.Pos, got2.End())
	}
}

func TestApply_MalformedOperation(t *testing.T) {
	cases := []Operation{
		{Kind: KindInsert, Pos: 10, Text: "x"},
		{Kind: KindDelete, Pos: 1, Length: 99},
		{Kind: KindDelete, Pos: -1, Length: 1},
		{Kind: Kind("replace"), Pos: 0},
	}
	for _, op := range cases {
		if _, err := Apply("abc", op); !errors.Is(err, ErrMalformedOperation) {
			t.Fatalf("Apply(%+v) error = %v, want ErrMalformedOperation", op, err)
		}
	}
}

func TestApply_RuneSafe(t *testing.T) {
	out := mustApply(t, "héllo", Operation{Kind: KindInsert, Pos: 2, Text: "→"})
	if out != "hé→llo" {
		t.Fatalf("got %q, want %q", out, "hé→llo")
	}
	out = mustApply(t, out, Operation{Kind: KindDelete, Pos: 2, Length: 1})
	if out != "héllo" {
		t.Fatalf("got %q, want %q", out, "héllo")
	}
}

func TestCompose(t *testing.T) {
	// 相邻插入拼接
	op, err := Compose(
		Operation{Kind: KindInsert, Pos: 3, Text: "ab"},
		Operation{Kind: KindInsert, Pos: 5, Text: "cd"},
	)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if op.Pos != 3 || op.Text != "abcd" {
		t.Fatalf("got %+v, want insert %q at 3", op, "abcd")
	}

	// 退格合并
	op, err = Compose(
		Operation{Kind: KindDelete, Pos: 4, Length: 1},
		Operation{Kind: KindDelete, Pos: 3, Length: 1},
	)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if op.Pos != 3 || op.Length != 2 {
		t.Fatalf("got %+v, want delete [3,5)", op)
	}

	// 删除落在刚插入的文本内：直接抠掉
	op, err = Compose(
		Operation{Kind: KindInsert, Pos: 0, Text: "hello"},
		Operation{Kind: KindDelete, Pos: 1, Length: 3},
	)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if op.Kind != KindInsert || op.Text != "ho" {
		t.Fatalf("got %+v, want insert %q", op, "ho")
	}

	// 不相邻：不可合并
	if _, err := Compose(
		Operation{Kind: KindInsert, Pos: 0, Text: "a"},
		Operation{Kind: KindInsert, Pos: 5, Text: "b"},
	); !errors.Is(err, ErrNotComposable) {
		t.Fatalf("error = %v, want ErrNotComposable", err)
	}
}
