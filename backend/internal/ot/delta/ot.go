package delta

import (
	"fmt"
	"math"
)

// opIterator 逐段消费 op，可以把一个 op 拆成几段
type opIterator struct {
	ops    Delta
	idx    int
	offset int
}

func newIterator(d Delta) *opIterator { return &opIterator{ops: d} }

func (it *opIterator) hasNext() bool { return it.idx < len(it.ops) }

func (it *opIterator) peekLen() int {
	if !it.hasNext() {
		return math.MaxInt
	}
	return it.ops[it.idx].Len() - it.offset
}

func (it *opIterator) peekKind() Kind {
	if !it.hasNext() {
		return ""
	}
	return it.ops[it.idx].Kind
}

// next 取出最多 n 个长度单位
func (it *opIterator) next(n int) Op {
	op := it.ops[it.idx]
	remain := op.Len() - it.offset
	if n >= remain {
		n = remain
	}
	out := Op{Kind: op.Kind, Attrs: op.Attrs}
	switch op.Kind {
	case KindInsert:
		runes := []rune(op.Text)
		out.Text = string(runes[it.offset : it.offset+n])
	default:
		out.Count = n
	}
	if it.offset+n == op.Len() {
		it.idx++
		it.offset = 0
	} else {
		it.offset += n
	}
	return out
}

// Compose 顺序合并：先 a 后 b 的效果等价于一个 delta
func Compose(a, b Delta) (Delta, error) {
	if a.TargetLen() != b.BaseLen() {
		return nil, fmt.Errorf("%w: compose: a target length %d, b base length %d", ErrMalformed, a.TargetLen(), b.BaseLen())
	}
	ai, bi := newIterator(a), newIterator(b)
	out := Delta{}
	for ai.hasNext() || bi.hasNext() {
		// b 的插入直接进结果
		if bi.peekKind() == KindInsert {
			out = out.push(bi.next(math.MaxInt))
			continue
		}
		// a 的删除 b 看不到
		if ai.peekKind() == KindDelete {
			out = out.push(ai.next(math.MaxInt))
			continue
		}
		if !ai.hasNext() || !bi.hasNext() {
			return nil, fmt.Errorf("%w: compose: operation lengths do not line up", ErrMalformed)
		}
		n := min(ai.peekLen(), bi.peekLen())
		aop, bop := ai.next(n), bi.next(n)
		switch bop.Kind {
		case KindRetain:
			if aop.Kind == KindRetain {
				out = out.retain(n, composeAttrs(aop.Attrs, bop.Attrs, true))
			} else {
				out = out.insert(aop.Text, composeAttrs(aop.Attrs, bop.Attrs, false))
			}
		case KindDelete:
			// insert 后又被 delete 的部分互相抵消
			if aop.Kind == KindRetain {
				out = out.delete(n)
			}
		}
	}
	return out, nil
}

// Transform 并发合并：a、b 基于同一文档，返回 (a', b')，
// 满足 apply(apply(doc, a), b') == apply(apply(doc, b), a')。
// 同位置插入时 a 优先，a 的内容排在 b 前面。
func Transform(a, b Delta) (Delta, Delta, error) {
	if a.BaseLen() != b.BaseLen() {
		return nil, nil, fmt.Errorf("%w: transform: base lengths %d and %d differ", ErrMalformed, a.BaseLen(), b.BaseLen())
	}
	ai, bi := newIterator(a), newIterator(b)
	ap, bp := Delta{}, Delta{}
	for ai.hasNext() || bi.hasNext() {
		if ai.peekKind() == KindInsert {
			op := ai.next(math.MaxInt)
			ap = ap.insert(op.Text, op.Attrs)
			bp = bp.retain(op.Len(), nil)
			continue
		}
		if bi.peekKind() == KindInsert {
			op := bi.next(math.MaxInt)
			ap = ap.retain(op.Len(), nil)
			bp = bp.insert(op.Text, op.Attrs)
			continue
		}
		if !ai.hasNext() || !bi.hasNext() {
			return nil, nil, fmt.Errorf("%w: transform: operation lengths do not line up", ErrMalformed)
		}
		n := min(ai.peekLen(), bi.peekLen())
		aop, bop := ai.next(n), bi.next(n)
		switch {
		case aop.Kind == KindDelete && bop.Kind == KindDelete:
			// 两边删了同一段
		case aop.Kind == KindDelete:
			ap = ap.delete(n)
		case bop.Kind == KindDelete:
			bp = bp.delete(n)
		default:
			ap = ap.retain(n, aop.Attrs)
			bp = bp.retain(n, transformAttrs(aop.Attrs, bop.Attrs))
		}
	}
	return ap, bp, nil
}

// composeAttrs b 覆盖 a；nil 值表示删除该属性，keepNull 时保留删除标记
func composeAttrs(a, b map[string]any, keepNull bool) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	if !keepNull {
		for k, v := range out {
			if v == nil {
				delete(out, k)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// transformAttrs a 优先：a 已经设置的 key 从 b 里去掉
func transformAttrs(a, b map[string]any) map[string]any {
	if len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(b))
	for k, v := range b {
		if _, ok := a[k]; ok {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
