package revision

import "folderSync/backend/internal/ot/delta"

// Replay 按顺序把修订折叠到初始状态上
func Replay[T any](initial T, revs []Revision, apply func(T, Revision) (T, error)) (T, error) {
	state := initial
	for _, r := range revs {
		next, err := apply(state, r)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

// ComposeRevision 用于 Replay 的文档折叠函数
func ComposeRevision(doc delta.Delta, r Revision) (delta.Delta, error) {
	d, err := r.Operations()
	if err != nil {
		return doc, err
	}
	return delta.Compose(doc, d)
}
