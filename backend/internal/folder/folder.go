package folder

import (
	"errors"
	"fmt"

	"folderSync/backend/internal/ot/delta"
	"folderSync/backend/internal/revision"
)

var ErrRecordNotFound = errors.New("record not found")

// Change 一次修改对应的 delta 和修改后文档的校验和；已存在等情况下 delta 是 noop
type Change struct {
	Delta    delta.Delta
	Checksum string
}

func (c Change) IsNoop() bool { return c.Delta.IsNoop() }

type UpdateWorkspaceParams struct {
	ID   string
	Name *string
	Desc *string
}

type UpdateAppParams struct {
	ID   string
	Name *string
	Desc *string
}

type UpdateViewParams struct {
	ID        string
	Name      *string
	Desc      *string
	Thumbnail *string
}

// modify 先做校验再改；fn 返回 false 表示没有改动。delta 以当前文档文本为基准
func (f *Folder) modify(fn func() (bool, error)) (Change, error) {
	before := f.text
	changed, err := fn()
	if err != nil {
		return Change{}, err
	}
	if !changed {
		return Change{Delta: delta.Diff(before, before), Checksum: revision.Checksum(before)}, nil
	}
	after, err := f.JSON()
	if err != nil {
		return Change{}, err
	}
	f.text = after
	return Change{Delta: delta.Diff(before, after), Checksum: revision.Checksum(after)}, nil
}

func (f *Folder) workspace(id string) (*Workspace, error) {
	for i := range f.Workspaces {
		if f.Workspaces[i].ID == id {
			return &f.Workspaces[i], nil
		}
	}
	return nil, fmt.Errorf("%w: workspace %s", ErrRecordNotFound, id)
}

func (f *Folder) app(id string) (*App, error) {
	for i := range f.Workspaces {
		apps := f.Workspaces[i].Apps
		for j := range apps {
			if apps[j].ID == id {
				return &apps[j], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: app %s", ErrRecordNotFound, id)
}

func (f *Folder) view(id string) (*View, error) {
	for i := range f.Workspaces {
		apps := f.Workspaces[i].Apps
		for j := range apps {
			views := apps[j].Belongings
			for k := range views {
				if views[k].ID == id {
					return &views[k], nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: view %s", ErrRecordNotFound, id)
}

func applyNameDesc(name, desc *string, dstName, dstDesc *string) (bool, error) {
	if name != nil {
		if err := validName(*name); err != nil {
			return false, err
		}
	}
	if desc != nil {
		if err := validDesc(*desc); err != nil {
			return false, err
		}
	}
	changed := false
	if name != nil && *name != *dstName {
		*dstName, changed = *name, true
	}
	if desc != nil && *desc != *dstDesc {
		*dstDesc, changed = *desc, true
	}
	return changed, nil
}

// CreateWorkspace 已存在同 id 的工作区时不做修改
func (f *Folder) CreateWorkspace(w Workspace) (Change, error) {
	return f.modify(func() (bool, error) {
		if err := validate(w.Name, w.Desc); err != nil {
			return false, err
		}
		if _, err := f.workspace(w.ID); err == nil {
			return false, nil
		}
		f.Workspaces = append(f.Workspaces, w)
		return true, nil
	})
}

func (f *Folder) UpdateWorkspace(p UpdateWorkspaceParams) (Change, error) {
	return f.modify(func() (bool, error) {
		w, err := f.workspace(p.ID)
		if err != nil {
			return false, err
		}
		changed, err := applyNameDesc(p.Name, p.Desc, &w.Name, &w.Desc)
		if changed {
			w.ModifiedTime = now()
		}
		return changed, err
	})
}

func (f *Folder) DeleteWorkspace(id string) (Change, error) {
	return f.modify(func() (bool, error) {
		for i := range f.Workspaces {
			if f.Workspaces[i].ID == id {
				f.Workspaces = append(f.Workspaces[:i], f.Workspaces[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
}

func (f *Folder) CreateApp(a App) (Change, error) {
	return f.modify(func() (bool, error) {
		if err := validate(a.Name, a.Desc); err != nil {
			return false, err
		}
		w, err := f.workspace(a.WorkspaceID)
		if err != nil {
			return false, err
		}
		for _, existing := range w.Apps {
			if existing.ID == a.ID {
				return false, nil
			}
		}
		w.Apps = append(w.Apps, a)
		return true, nil
	})
}

func (f *Folder) UpdateApp(p UpdateAppParams) (Change, error) {
	return f.modify(func() (bool, error) {
		a, err := f.app(p.ID)
		if err != nil {
			return false, err
		}
		changed, err := applyNameDesc(p.Name, p.Desc, &a.Name, &a.Desc)
		if changed {
			a.ModifiedTime = now()
			a.Version++
		}
		return changed, err
	})
}

func (f *Folder) DeleteApp(id string) (Change, error) {
	return f.modify(func() (bool, error) {
		a, err := f.app(id)
		if err != nil {
			return false, nil
		}
		w, err := f.workspace(a.WorkspaceID)
		if err != nil {
			return false, err
		}
		for i := range w.Apps {
			if w.Apps[i].ID == id {
				w.Apps = append(w.Apps[:i], w.Apps[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
}

func (f *Folder) CreateView(v View) (Change, error) {
	return f.modify(func() (bool, error) {
		if err := validate(v.Name, v.Desc); err != nil {
			return false, err
		}
		a, err := f.app(v.BelongToID)
		if err != nil {
			return false, err
		}
		for _, existing := range a.Belongings {
			if existing.ID == v.ID {
				return false, nil
			}
		}
		a.Belongings = append(a.Belongings, v)
		return true, nil
	})
}

func (f *Folder) UpdateView(p UpdateViewParams) (Change, error) {
	return f.modify(func() (bool, error) {
		v, err := f.view(p.ID)
		if err != nil {
			return false, err
		}
		changed, err := applyNameDesc(p.Name, p.Desc, &v.Name, &v.Desc)
		if err != nil {
			return false, err
		}
		if p.Thumbnail != nil && *p.Thumbnail != v.Thumbnail {
			v.Thumbnail, changed = *p.Thumbnail, true
		}
		if changed {
			v.ModifiedTime = now()
			v.Version++
		}
		return changed, nil
	})
}

func (f *Folder) DeleteView(id string) (Change, error) {
	return f.modify(func() (bool, error) {
		v, err := f.view(id)
		if err != nil {
			return false, nil
		}
		a, err := f.app(v.BelongToID)
		if err != nil {
			return false, err
		}
		for i := range a.Belongings {
			if a.Belongings[i].ID == id {
				a.Belongings = append(a.Belongings[:i], a.Belongings[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
}

// CreateTrash 已经在回收站里的 id 会跳过
func (f *Folder) CreateTrash(items []Trash) (Change, error) {
	return f.modify(func() (bool, error) {
		seen := make(map[string]struct{}, len(f.Trash))
		for _, t := range f.Trash {
			seen[t.ID] = struct{}{}
		}
		changed := false
		for _, t := range items {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			f.Trash = append(f.Trash, t)
			changed = true
		}
		return changed, nil
	})
}

// DeleteTrash ids 为 nil 时清空回收站
func (f *Folder) DeleteTrash(ids []string) (Change, error) {
	return f.modify(func() (bool, error) {
		if ids == nil {
			changed := len(f.Trash) > 0
			f.Trash = nil
			return changed, nil
		}
		drop := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			drop[id] = struct{}{}
		}
		kept := f.Trash[:0]
		for _, t := range f.Trash {
			if _, ok := drop[t.ID]; !ok {
				kept = append(kept, t)
			}
		}
		changed := len(kept) != len(f.Trash)
		f.Trash = kept
		return changed, nil
	})
}

func (f *Folder) trashIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(f.Trash))
	for _, t := range f.Trash {
		ids[t.ID] = struct{}{}
	}
	return ids
}

// visibleApp 去掉回收站里的 view，返回副本
func visibleApp(a App, trash map[string]struct{}) App {
	views := make([]View, 0, len(a.Belongings))
	for _, v := range a.Belongings {
		if _, ok := trash[v.ID]; !ok {
			views = append(views, v)
		}
	}
	a.Belongings = views
	return a
}

func visibleWorkspace(w Workspace, trash map[string]struct{}) Workspace {
	apps := make([]App, 0, len(w.Apps))
	for _, a := range w.Apps {
		if _, ok := trash[a.ID]; !ok {
			apps = append(apps, visibleApp(a, trash))
		}
	}
	w.Apps = apps
	return w
}

// ReadWorkspaces id 为空返回全部；回收站里的 app 和 view 不返回
func (f *Folder) ReadWorkspaces(id string) ([]Workspace, error) {
	trash := f.trashIDs()
	if id == "" {
		out := make([]Workspace, 0, len(f.Workspaces))
		for _, w := range f.Workspaces {
			out = append(out, visibleWorkspace(w, trash))
		}
		return out, nil
	}
	w, err := f.workspace(id)
	if err != nil {
		return nil, err
	}
	return []Workspace{visibleWorkspace(*w, trash)}, nil
}

// ReadApp 在回收站里的 app 当作不存在
func (f *Folder) ReadApp(id string) (App, error) {
	trash := f.trashIDs()
	if _, ok := trash[id]; ok {
		return App{}, fmt.Errorf("%w: app %s is in trash", ErrRecordNotFound, id)
	}
	a, err := f.app(id)
	if err != nil {
		return App{}, err
	}
	return visibleApp(*a, trash), nil
}

func (f *Folder) ReadView(id string) (View, error) {
	if _, ok := f.trashIDs()[id]; ok {
		return View{}, fmt.Errorf("%w: view %s is in trash", ErrRecordNotFound, id)
	}
	v, err := f.view(id)
	if err != nil {
		return View{}, err
	}
	return *v, nil
}

// ReadTrash id 为空返回全部
func (f *Folder) ReadTrash(id string) []Trash {
	var out []Trash
	for _, t := range f.Trash {
		if id == "" || t.ID == id {
			out = append(out, t)
		}
	}
	return out
}
