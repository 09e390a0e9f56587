package collab

import (
	"fmt"
	"strings"

	"folderSync/backend/internal/ot/delta"
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

type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
	length   int
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r, length: len(r)}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int { return pt.length }

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		sb.WriteString(string(pt.source(p.buf)[p.offset : p.offset+p.length]))
	}
	return sb.String()
}

func (pt *PieceTable) source(kind bufferKind) []rune {
	if kind == bufAdd {
		return pt.add
	}
	return pt.original
}

// Apply retain 移动位置，insert 在当前位置拆分 piece，delete 裁剪或移除 piece
func (pt *PieceTable) Apply(d delta.Delta) error {
	if d.BaseLen() != pt.length {
		return fmt.Errorf("%w: base length %d, buffer length %d", delta.ErrMalformed, d.BaseLen(), pt.length)
	}
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			pos += pt.insert(pos, []rune(op.Text))
		case delta.KindDelete:
			pt.delete(pos, op.Count)
		}
	}
	return nil
}

func (pt *PieceTable) insert(pos int, text []rune) int {
	added := piece{buf: bufAdd, offset: len(pt.add), length: len(text)}
	pt.add = append(pt.add, text...)
	pt.length += len(text)

	idx, offset := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, added)
		return len(text)
	}
	cur := pt.pieces[idx]
	out := make([]piece, 0, len(pt.pieces)+2)
	out = append(out, pt.pieces[:idx]...)
	if offset > 0 {
		out = append(out, piece{buf: cur.buf, offset: cur.offset, length: offset})
	}
	out = append(out, added)
	if rest := cur.length - offset; rest > 0 {
		out = append(out, piece{buf: cur.buf, offset: cur.offset + offset, length: rest})
	}
	pt.pieces = append(out, pt.pieces[idx+1:]...)
	return len(text)
}

func (pt *PieceTable) delete(pos, count int) {
	pt.length -= count
	idx, offset := pt.locate(pos)
	for count > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		take := min(count, cur.length-offset)
		switch {
		case offset == 0 && take == cur.length:
			// 整个 piece 删掉，idx 指向下一个
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
		case offset == 0:
			pt.pieces[idx] = piece{buf: cur.buf, offset: cur.offset + take, length: cur.length - take}
		case offset+take == cur.length:
			pt.pieces[idx].length = offset
			idx++
		default:
			// 删中间一段，拆成左右两段
			left := piece{buf: cur.buf, offset: cur.offset, length: offset}
			right := piece{buf: cur.buf, offset: cur.offset + offset + take, length: cur.length - offset - take}
			out := make([]piece, 0, len(pt.pieces)+1)
			out = append(out, pt.pieces[:idx]...)
			out = append(out, left, right)
			pt.pieces = append(out, pt.pieces[idx+1:]...)
		}
		count -= take
		offset = 0
	}
}

// 根据逻辑位置 pos，找到对应的 piece 下标和在该 piece 内的偏移
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
