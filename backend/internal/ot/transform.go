package ot

// Transform 把操作 a 调整为可以排在并发操作 b 之后应用的形式：
// 先应用 b，再应用 Transform(a, b)，效果等价于 a 原来的意图。
// Sequencer 只需要这个单向调整（不要求 transform-pair 对称性）。
func Transform(a, b Operation) Operation {
	switch b.Kind {
	case KindInsert:
		return transformAgainstInsert(a, b)
	case KindDelete:
		return transformAgainstDelete(a, b)
	case KindRetain, KindFormat:
		// retain/format 不改变文本位置，a 原样保留
		return a
	}
	return a
}

// insertWins: 同位置插入的全序 tie-break。
// 按 (clientId, clientSeq) 字典序，所有副本得到一致结果。
func insertWins(b, a Operation) bool {
	if b.ClientID != a.ClientID {
		return b.ClientID < a.ClientID
	}
	return b.ClientSeq < a.ClientSeq
}

func transformAgainstInsert(a, b Operation) Operation {
	n := b.TextLen()
	switch a.Kind {
	case KindInsert:
		// b 在 a 左侧（或同位置且 b 胜出）时 a 右移
		if b.Pos < a.Pos || (b.Pos == a.Pos && insertWins(b, a)) {
			a.Pos += n
		}
	case KindDelete:
		switch {
		case b.Pos <= a.Pos:
			a.Pos += n
		case b.Pos < a.End():
			// 并发插入落在删除范围内部：扩大删除范围，把没见过的
			// 插入内容一并删掉，保留删除者的意图（既定策略）
			a.Length += n
		}
	case KindRetain, KindFormat:
		// 范围调整与删除一致：左侧插入右移，内部插入并入范围
		switch {
		case b.Pos <= a.Pos:
			a.Pos += n
		case b.Pos < a.End():
			a.Length += n
		}
	}
	return a
}

func transformAgainstDelete(a, b Operation) Operation {
	s, e := b.Pos, b.End()
	switch a.Kind {
	case KindInsert:
		switch {
		case e <= a.Pos:
			// 删除范围整体在插入点之前
			a.Pos -= b.Length
		case s < a.Pos:
			// 插入点落在被删范围内：钳到范围起点
			a.Pos = s
		}
	case KindDelete, KindRetain, KindFormat:
		// 对称差：去掉与 b 的重叠部分，起点随删除左移
		overlap := intersectLen(a.Pos, a.End(), s, e)
		switch {
		case a.Pos >= e:
			a.Pos -= b.Length
		case a.Pos > s:
			a.Pos = s
		}
		a.Length -= overlap
		// 结果为空的操作仍会被排序，Apply 视为 no-op
	}
	return a
}

func intersectLen(aStart, aEnd, bStart, bEnd int) int {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// TransformAll 把 op 依次穿过一串按日志序排列的并发操作。
func TransformAll(op Operation, concurrent []Operation) Operation {
	for _, c := range concurrent {
		op = Transform(op, c)
	}
	return op
}
