package delta

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"unicode/utf8"
)

var alphabet = []rune("abcdefg 中文é😀")

func randomText(r *rand.Rand) string {
	n := r.Intn(4) + 1
	out := make([]rune, n)
	for i := range out {
		out[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(out)
}

func randomDocument(r *rand.Rand) string {
	var s string
	for i := r.Intn(5); i >= 0; i-- {
		s += randomText(r)
	}
	return s
}

// 生成一个作用在长度为 docLen 文档上的随机 delta
func randomDelta(r *rand.Rand, docLen int) Delta {
	d := Delta{}
	remain := docLen
	for remain > 0 {
		n := r.Intn(remain) + 1
		switch r.Intn(5) {
		case 0:
			d = d.Insert(randomText(r), nil)
		case 1:
			d = d.Delete(n)
			remain -= n
		case 2:
			d = d.Retain(n, map[string]any{"bold": true})
			remain -= n
		default:
			d = d.Retain(n, nil)
			remain -= n
		}
	}
	if r.Intn(2) == 0 {
		d = d.Insert(randomText(r), nil)
	}
	return d
}

func TestApply_InsertRetainDelete(t *testing.T) {
	d := Delta{}.Retain(5, nil).Insert(" collaborative", nil).Retain(6, nil)
	got, err := d.Apply("Hello world")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if want := "Hello collaborative world"; got != want {
		t.Fatalf("Apply() = %q, want %q", got, want)
	}

	d = Delta{}.Retain(5, nil).Delete(14).Retain(6, nil)
	got, err = d.Apply("Hello collaborative world")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if want := "Hello world"; got != want {
		t.Fatalf("Apply() = %q, want %q", got, want)
	}
}

func TestApply_CountsRunes(t *testing.T) {
	// "中文😀" 是 3 个码点，9+ 个字节
	d := Delta{}.Retain(2, nil).Insert("!", nil).Retain(1, nil)
	got, err := d.Apply("中文😀")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got != "中文!😀" {
		t.Fatalf("Apply() = %q", got)
	}
}

func TestApply_LengthMismatch(t *testing.T) {
	_, err := Delta{}.Retain(3, nil).Apply("ab")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Apply() error = %v, want ErrMalformed", err)
	}
}

func TestInsert_CanonicalOrder(t *testing.T) {
	d := Delta{}.Retain(1, nil).Delete(2).Insert("x", nil)
	want := Delta{
		{Kind: KindRetain, Count: 1},
		{Kind: KindInsert, Text: "x"},
		{Kind: KindDelete, Count: 2},
	}
	if !reflect.DeepEqual(d, want) {
		t.Fatalf("got %+v, want %+v", d, want)
	}
}

func TestBuilders_DoNotMutateReceiver(t *testing.T) {
	base := Delta{}.Retain(1, nil).Insert("ab", nil).Delete(1)
	cases := []struct {
		name string
		x    Delta
		grow func(Delta) Delta
	}{
		{"retain", Delta{}.Retain(1, nil), func(d Delta) Delta { return d.Retain(2, nil) }},
		{"insert", Delta{}.Insert("a", nil), func(d Delta) Delta { return d.Insert("b", nil) }},
		{"delete", Delta{}.Delete(1), func(d Delta) Delta { return d.Delete(2) }},
		// insert 要挪到 delete 前面时会改倒数第二个 op
		{"insert before delete", base, func(d Delta) Delta { return d.Insert("c", nil) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := append(Delta(nil), tc.x...)
			y := tc.grow(tc.x)
			if !reflect.DeepEqual(tc.x, before) {
				t.Fatalf("receiver changed to %+v, want %+v", tc.x, before)
			}
			if reflect.DeepEqual(y, before) {
				t.Fatalf("result %+v did not grow", y)
			}
		})
	}
}

func TestCompose_MatchesSequentialApply(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		doc := randomDocument(r)
		a := randomDelta(r, utf8.RuneCountInString(doc))
		afterA, err := a.Apply(doc)
		if err != nil {
			t.Fatalf("apply a: %v", err)
		}
		b := randomDelta(r, utf8.RuneCountInString(afterA))
		want, err := b.Apply(afterA)
		if err != nil {
			t.Fatalf("apply b: %v", err)
		}
		ab, err := Compose(a, b)
		if err != nil {
			t.Fatalf("Compose() error = %v", err)
		}
		got, err := ab.Apply(doc)
		if err != nil {
			t.Fatalf("apply composed: %v", err)
		}
		if got != want {
			t.Fatalf("case %d: composed = %q, sequential = %q (a=%+v b=%+v)", i, got, want, a, b)
		}
	}
}

func TestCompose_DocumentStaysDocument(t *testing.T) {
	doc := NewDocument("Hello")
	change := Delta{}.Retain(5, map[string]any{"bold": true}).Insert(" world", nil)
	got, err := Compose(doc, change)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !got.IsDocument() {
		t.Fatalf("composed document has non-insert ops: %+v", got)
	}
	if got.Text() != "Hello world" {
		t.Fatalf("Text() = %q", got.Text())
	}
	if got[0].Attrs["bold"] != true {
		t.Fatalf("attrs not composed: %+v", got)
	}
}

func TestCompose_RemovesNullAttrs(t *testing.T) {
	doc := Delta{}.Insert("ab", map[string]any{"bold": true})
	got, err := Compose(doc, Delta{}.Retain(2, map[string]any{"bold": nil}))
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	want := NewDocument("ab")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCompose_Malformed(t *testing.T) {
	_, err := Compose(NewDocument("abc"), Delta{}.Retain(5, nil))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Compose() error = %v, want ErrMalformed", err)
	}
}

func TestTransform_Convergence(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		text := randomDocument(r)
		doc := NewDocument(text)
		a := randomDelta(r, utf8.RuneCountInString(text))
		b := randomDelta(r, utf8.RuneCountInString(text))

		ap, bp, err := Transform(a, b)
		if err != nil {
			t.Fatalf("Transform() error = %v", err)
		}

		left, err := Compose(doc, a)
		if err != nil {
			t.Fatalf("compose doc a: %v", err)
		}
		if left, err = Compose(left, bp); err != nil {
			t.Fatalf("compose b': %v", err)
		}
		right, err := Compose(doc, b)
		if err != nil {
			t.Fatalf("compose doc b: %v", err)
		}
		if right, err = Compose(right, ap); err != nil {
			t.Fatalf("compose a': %v", err)
		}
		if !reflect.DeepEqual(left.Normalize(), right.Normalize()) {
			t.Fatalf("case %d diverged\ndoc=%q\na=%+v\nb=%+v\nleft=%+v\nright=%+v", i, text, a, b, left, right)
		}
	}
}

func TestTransform_FirstArgumentWinsTie(t *testing.T) {
	local := Delta{}.Retain(1, nil).Insert("X", nil).Retain(1, nil)
	remote := Delta{}.Retain(1, nil).Insert("Y", nil).Retain(1, nil)

	lp, rp, err := Transform(local, remote)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	s1, _ := local.Apply("ab")
	s1, _ = rp.Apply(s1)
	s2, _ := remote.Apply("ab")
	s2, _ = lp.Apply(s2)
	if s1 != "aXYb" || s2 != "aXYb" {
		t.Fatalf("got %q / %q, want aXYb", s1, s2)
	}
}

func TestTransform_OverlappingDeletes(t *testing.T) {
	a := Delta{}.Delete(3).Retain(2, nil)
	b := Delta{}.Retain(1, nil).Delete(3).Retain(1, nil)
	ap, bp, err := Transform(a, b)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	s1, _ := a.Apply("abcde")
	s1, _ = bp.Apply(s1)
	s2, _ := b.Apply("abcde")
	s2, _ = ap.Apply(s2)
	if s1 != "e" || s2 != "e" {
		t.Fatalf("got %q / %q, want e", s1, s2)
	}
}

func TestTransform_BaseMismatch(t *testing.T) {
	_, _, err := Transform(Delta{}.Retain(2, nil), Delta{}.Retain(3, nil))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Transform() error = %v, want ErrMalformed", err)
	}
}

func TestFromBytes(t *testing.T) {
	d := Delta{}.Retain(2, nil).Insert("hi", map[string]any{"color": "red"}).Delete(1)
	b, err := d.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes() error = %v", err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("got %+v, want %+v", got, d)
	}

	bad := []string{
		`not json`,
		`[{"kind":"move","count":1}]`,
		`[{"kind":"retain","count":0}]`,
		`[{"kind":"insert"}]`,
	}
	for _, s := range bad {
		if _, err := FromBytes([]byte(s)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("FromBytes(%s) error = %v, want ErrMalformed", s, err)
		}
	}
}

func TestDiff(t *testing.T) {
	cases := []struct{ before, after string }{
		{"", "hello"},
		{"hello", ""},
		{"héllo wörld", "héllo brave wörld"},
		{`{"workspaces":[]}`, `{"workspaces":[{"id":"1","name":"中文"}]}`},
		{"same", "same"},
	}
	for _, c := range cases {
		d := Diff(c.before, c.after)
		got, err := d.Apply(c.before)
		if err != nil {
			t.Fatalf("Diff(%q, %q).Apply error = %v", c.before, c.after, err)
		}
		if got != c.after {
			t.Fatalf("Diff(%q, %q) applied = %q", c.before, c.after, got)
		}
	}
}
