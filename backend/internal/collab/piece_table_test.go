package collab

import (
	"errors"
	"math/rand"
	"testing"
	"unicode/utf8"

	"folderSync/backend/internal/ot/delta"
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

	d := delta.Delta{
		{Kind: delta.KindRetain, Count: 5},               // 跳过 "Hello"
		{Kind: delta.KindInsert, Text: " collaborative"}, // 在 pos=5 插入
		{Kind: delta.KindRetain, Count: 6},
	}

	if err := pt.Apply(d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := "Hello collaborative world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("Hello collaborative world")

	d := delta.Delta{
		{Kind: delta.KindRetain, Count: 5},  // "Hello"
		{Kind: delta.KindDelete, Count: 14}, // " collaborative" 长度
		{Kind: delta.KindRetain, Count: 6},
	}

	if err := pt.Apply(d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := "Hello world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_RejectsLengthMismatch(t *testing.T) {
	pt := NewPieceTable("abc")
	err := pt.Apply(delta.Delta{}.Retain(2, nil).Insert("x", nil))
	if !errors.Is(err, delta.ErrMalformed) {
		t.Fatalf("Apply() error = %v, want ErrMalformed", err)
	}
	if pt.String() != "abc" || pt.Len() != 3 {
		t.Fatalf("buffer changed after rejected delta: %q", pt.String())
	}
}

func TestPieceTable_EmptyStart(t *testing.T) {
	pt := NewPieceTable("")
	if err := pt.Apply(delta.NewDocument("中文")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := pt.Apply(delta.Delta{}.Retain(1, nil).Insert("😀", nil).Retain(1, nil)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := pt.String(); got != "中😀文" || pt.Len() != 3 {
		t.Fatalf("String() = %q, Len() = %d", got, pt.Len())
	}
}

// 和 delta.Apply 的结果逐次对比
func TestPieceTable_MatchesApply(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	alphabet := []rune("abcxyz 中文")
	pt := NewPieceTable("seed text")
	want := "seed text"
	for i := 0; i < 300; i++ {
		n := utf8.RuneCountInString(want)
		d := delta.Delta{}
		for remain := n; remain > 0; {
			k := r.Intn(remain) + 1
			switch r.Intn(3) {
			case 0:
				d = d.Delete(k)
			case 1:
				d = d.Insert(string(alphabet[r.Intn(len(alphabet))]), nil)
				continue
			default:
				d = d.Retain(k, nil)
			}
			remain -= k
		}
		if r.Intn(2) == 0 {
			d = d.Insert(string(alphabet[r.Intn(len(alphabet))]), nil)
		}
		next, err := d.Apply(want)
		if err != nil {
			t.Fatalf("delta.Apply error = %v", err)
		}
		if err := pt.Apply(d); err != nil {
			t.Fatalf("step %d: Apply() error = %v", i, err)
		}
		want = next
		if got := pt.String(); got != want || pt.Len() != utf8.RuneCountInString(want) {
			t.Fatalf("step %d: got %q, want %q", i, got, want)
		}
	}
}
