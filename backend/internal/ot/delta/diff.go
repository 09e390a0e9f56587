package delta

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff 计算把 before 变成 after 的 delta，长度按码点计
func Diff(before, after string) Delta {
	out := Delta{}
	if before == after {
		return out.retain(utf8.RuneCountInString(before), nil)
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	for _, df := range diffs {
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			out = out.retain(utf8.RuneCountInString(df.Text), nil)
		case diffmatchpatch.DiffInsert:
			out = out.insert(df.Text, nil)
		case diffmatchpatch.DiffDelete:
			out = out.delete(utf8.RuneCountInString(df.Text))
		}
	}
	return out
}
