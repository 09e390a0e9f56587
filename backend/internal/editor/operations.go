package editor

import (
	"context"

	"folderSync/backend/internal/folder"
)

func (e *FolderEditor) CreateWorkspace(ctx context.Context, name, desc string) (folder.Workspace, error) {
	w, err := folder.NewWorkspace(name, desc)
	if err != nil {
		return folder.Workspace{}, err
	}
	if _, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.CreateWorkspace(w) }); err != nil {
		return folder.Workspace{}, err
	}
	return w, nil
}

func (e *FolderEditor) UpdateWorkspace(ctx context.Context, p folder.UpdateWorkspaceParams) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.UpdateWorkspace(p) })
	return err
}

func (e *FolderEditor) DeleteWorkspace(ctx context.Context, id string) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.DeleteWorkspace(id) })
	return err
}

func (e *FolderEditor) CreateApp(ctx context.Context, workspaceID, name, desc string) (folder.App, error) {
	a, err := folder.NewApp(workspaceID, name, desc)
	if err != nil {
		return folder.App{}, err
	}
	if _, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.CreateApp(a) }); err != nil {
		return folder.App{}, err
	}
	return a, nil
}

func (e *FolderEditor) UpdateApp(ctx context.Context, p folder.UpdateAppParams) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.UpdateApp(p) })
	return err
}

func (e *FolderEditor) DeleteApp(ctx context.Context, id string) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.DeleteApp(id) })
	return err
}

func (e *FolderEditor) CreateView(ctx context.Context, appID, name, desc string, ty folder.ViewType) (folder.View, error) {
	v, err := folder.NewView(appID, name, desc, ty)
	if err != nil {
		return folder.View{}, err
	}
	if _, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.CreateView(v) }); err != nil {
		return folder.View{}, err
	}
	return v, nil
}

func (e *FolderEditor) UpdateView(ctx context.Context, p folder.UpdateViewParams) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.UpdateView(p) })
	return err
}

func (e *FolderEditor) DeleteView(ctx context.Context, id string) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.DeleteView(id) })
	return err
}

func (e *FolderEditor) CreateTrash(ctx context.Context, items []folder.Trash) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.CreateTrash(items) })
	return err
}

// DeleteTrash ids 为 nil 时清空回收站
func (e *FolderEditor) DeleteTrash(ctx context.Context, ids []string) error {
	_, err := e.apply(ctx, func(f *folder.Folder) (folder.Change, error) { return f.DeleteTrash(ids) })
	return err
}

// ReadWorkspaces id 为空返回全部，不含回收站里的 app 和 view
func (e *FolderEditor) ReadWorkspaces(id string) ([]folder.Workspace, error) {
	f, err := e.Folder()
	if err != nil {
		return nil, err
	}
	return f.ReadWorkspaces(id)
}

func (e *FolderEditor) ReadApp(id string) (folder.App, error) {
	f, err := e.Folder()
	if err != nil {
		return folder.App{}, err
	}
	return f.ReadApp(id)
}

func (e *FolderEditor) ReadView(id string) (folder.View, error) {
	f, err := e.Folder()
	if err != nil {
		return folder.View{}, err
	}
	return f.ReadView(id)
}

func (e *FolderEditor) ReadTrash(id string) ([]folder.Trash, error) {
	f, err := e.Folder()
	if err != nil {
		return nil, err
	}
	return f.ReadTrash(id), nil
}
