package delta

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// ErrMalformed 长度对不上或者结构损坏的 delta
var ErrMalformed = errors.New("MALFORMED_DELTA")

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete 的长度
	Text  string         `json:"text,omitempty"`  // insert 的文本
	Attrs map[string]any `json:"attrs,omitempty"` // 样式属性（粗体/颜色等）
}

// Len 以 Unicode 码点计数，不是字节
func (op Op) Len() int {
	if op.Kind == KindInsert {
		return utf8.RuneCountInString(op.Text)
	}
	return op.Count
}

type Delta []Op

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]

// NewDocument 文档本身就是一个只有 insert 的 delta
func NewDocument(text string) Delta {
	return Delta{}.insert(text, nil)
}

// Insert 等构造方法返回新的 delta，不改动 d 已有的元素
func (d Delta) Insert(text string, attrs map[string]any) Delta {
	return d.clone().insert(text, attrs)
}

func (d Delta) Retain(count int, attrs map[string]any) Delta {
	return d.clone().retain(count, attrs)
}

func (d Delta) Delete(count int) Delta {
	return d.clone().delete(count)
}

func (d Delta) clone() Delta {
	return append(make(Delta, 0, len(d)+1), d...)
}

// insert/retain/delete 会合并进最后一个 op，只用在自己持有的 delta 上
func (d Delta) insert(text string, attrs map[string]any) Delta {
	if text == "" {
		return d
	}
	n := len(d)
	if n > 0 && d[n-1].Kind == KindInsert && attrsEqual(d[n-1].Attrs, attrs) {
		d[n-1].Text += text
		return d
	}
	// 规范形式：同一位置 insert 总在 delete 前面
	if n > 0 && d[n-1].Kind == KindDelete {
		if n > 1 && d[n-2].Kind == KindInsert && attrsEqual(d[n-2].Attrs, attrs) {
			d[n-2].Text += text
			return d
		}
		del := d[n-1]
		d[n-1] = Op{Kind: KindInsert, Text: text, Attrs: cloneAttrs(attrs)}
		return append(d, del)
	}
	return append(d, Op{Kind: KindInsert, Text: text, Attrs: cloneAttrs(attrs)})
}

func (d Delta) retain(count int, attrs map[string]any) Delta {
	if count <= 0 {
		return d
	}
	n := len(d)
	if n > 0 && d[n-1].Kind == KindRetain && attrsEqual(d[n-1].Attrs, attrs) {
		d[n-1].Count += count
		return d
	}
	return append(d, Op{Kind: KindRetain, Count: count, Attrs: cloneAttrs(attrs)})
}

func (d Delta) delete(count int) Delta {
	if count <= 0 {
		return d
	}
	n := len(d)
	if n > 0 && d[n-1].Kind == KindDelete {
		d[n-1].Count += count
		return d
	}
	return append(d, Op{Kind: KindDelete, Count: count})
}

func (d Delta) push(op Op) Delta {
	switch op.Kind {
	case KindInsert:
		return d.insert(op.Text, op.Attrs)
	case KindRetain:
		return d.retain(op.Count, op.Attrs)
	case KindDelete:
		return d.delete(op.Count)
	}
	return d
}

// BaseLen 作用对象文档的长度（retain + delete）
func (d Delta) BaseLen() int {
	n := 0
	for _, op := range d {
		if op.Kind != KindInsert {
			n += op.Count
		}
	}
	return n
}

// TargetLen 作用后文档的长度（retain + insert）
func (d Delta) TargetLen() int {
	n := 0
	for _, op := range d {
		if op.Kind != KindDelete {
			n += op.Len()
		}
	}
	return n
}

// IsNoop 只有不带属性的 retain
func (d Delta) IsNoop() bool {
	for _, op := range d {
		if op.Kind != KindRetain || len(op.Attrs) > 0 {
			return false
		}
	}
	return true
}

// IsDocument 只包含 insert
func (d Delta) IsDocument() bool {
	for _, op := range d {
		if op.Kind != KindInsert {
			return false
		}
	}
	return true
}

// Text 拼接所有 insert 文本，文档 delta 的序列化形式
func (d Delta) Text() string {
	var sb strings.Builder
	for _, op := range d {
		if op.Kind == KindInsert {
			sb.WriteString(op.Text)
		}
	}
	return sb.String()
}

// Normalize 合并相邻同类 op，去掉空 op
func (d Delta) Normalize() Delta {
	out := make(Delta, 0, len(d))
	for _, op := range d {
		out = out.push(op)
	}
	return out
}

// Apply 把 delta 作用到纯文本上
func (d Delta) Apply(s string) (string, error) {
	runes := []rune(s)
	if d.BaseLen() != len(runes) {
		return "", fmt.Errorf("%w: base length %d, document length %d", ErrMalformed, d.BaseLen(), len(runes))
	}
	var sb strings.Builder
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case KindRetain:
			sb.WriteString(string(runes[pos : pos+op.Count]))
			pos += op.Count
		case KindInsert:
			sb.WriteString(op.Text)
		case KindDelete:
			pos += op.Count
		}
	}
	return sb.String(), nil
}

func (d Delta) ToBytes() ([]byte, error) {
	if d == nil {
		d = Delta{}
	}
	return json.Marshal(d)
}

// FromBytes 解析并校验结构
func FromBytes(b []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for i, op := range d {
		switch op.Kind {
		case KindInsert:
			if op.Text == "" || op.Count != 0 {
				return nil, fmt.Errorf("%w: op %d: bad insert", ErrMalformed, i)
			}
		case KindRetain, KindDelete:
			if op.Count <= 0 || op.Text != "" {
				return nil, fmt.Errorf("%w: op %d: bad %s", ErrMalformed, i, op.Kind)
			}
		default:
			return nil, fmt.Errorf("%w: op %d: unknown kind %q", ErrMalformed, i, op.Kind)
		}
	}
	return d, nil
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
