package folder

import (
	"errors"
	"strings"
	"testing"

	"folderSync/backend/internal/revision"
)

func init() {
	now = func() int64 { return 1700000000 }
}

func mustApply(t *testing.T, f *Folder, before string, c Change) string {
	t.Helper()
	after, err := c.Delta.Apply(before)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want, err := f.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if after != want {
		t.Fatalf("delta produced %s, folder is %s", after, want)
	}
	if c.Checksum != revision.Checksum(after) {
		t.Fatalf("checksum %s does not match post-state", c.Checksum)
	}
	return after
}

func TestFolder_OperationsProduceMatchingDeltas(t *testing.T) {
	f, _ := Parse("")
	doc := ""

	w, err := NewWorkspace("我的工作区", "desc")
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}
	c, err := f.CreateWorkspace(w)
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)

	a, _ := NewApp(w.ID, "app", "")
	c, err = f.CreateApp(a)
	if err != nil {
		t.Fatalf("CreateApp() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)

	v, _ := NewView(a.ID, "notes", "", ViewTypeDoc)
	c, err = f.CreateView(v)
	if err != nil {
		t.Fatalf("CreateView() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)

	name := "renamed"
	c, err = f.UpdateView(UpdateViewParams{ID: v.ID, Name: &name})
	if err != nil {
		t.Fatalf("UpdateView() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)
	got, err := f.ReadView(v.ID)
	if err != nil || got.Name != "renamed" || got.Version != 1 {
		t.Fatalf("ReadView() = %+v, %v", got, err)
	}

	c, err = f.CreateTrash([]Trash{{ID: v.ID, Name: "renamed", Ty: TrashTypeView}})
	if err != nil {
		t.Fatalf("CreateTrash() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)
	c, err = f.DeleteView(v.ID)
	if err != nil {
		t.Fatalf("DeleteView() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)
	if _, err := f.ReadView(v.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("ReadView() after delete error = %v", err)
	}

	c, err = f.DeleteTrash(nil)
	if err != nil {
		t.Fatalf("DeleteTrash() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)
	if len(f.ReadTrash("")) != 0 {
		t.Fatalf("trash not emptied")
	}

	c, err = f.DeleteApp(a.ID)
	if err != nil {
		t.Fatalf("DeleteApp() error = %v", err)
	}
	doc = mustApply(t, f, doc, c)
	c, err = f.DeleteWorkspace(w.ID)
	if err != nil {
		t.Fatalf("DeleteWorkspace() error = %v", err)
	}
	mustApply(t, f, doc, c)
	if ws, _ := f.ReadWorkspaces(""); len(ws) != 0 {
		t.Fatalf("workspaces = %+v", ws)
	}
}

func TestFolder_ExistingRecordsAreNoops(t *testing.T) {
	f := &Folder{}
	w, _ := NewWorkspace("w", "")
	if _, err := f.CreateWorkspace(w); err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	c, err := f.CreateWorkspace(w)
	if err != nil {
		t.Fatalf("second CreateWorkspace() error = %v", err)
	}
	if !c.IsNoop() {
		t.Fatalf("duplicate create produced %+v", c.Delta)
	}

	same := "w"
	if c, _ := f.UpdateWorkspace(UpdateWorkspaceParams{ID: w.ID, Name: &same}); !c.IsNoop() {
		t.Fatalf("update with same name produced %+v", c.Delta)
	}
	if c, _ := f.DeleteWorkspace("missing"); !c.IsNoop() {
		t.Fatalf("delete of missing workspace produced %+v", c.Delta)
	}
	if c, _ := f.DeleteTrash([]string{"nothing"}); !c.IsNoop() {
		t.Fatalf("delete of missing trash produced %+v", c.Delta)
	}
}

func TestFolder_Validation(t *testing.T) {
	f := &Folder{}
	if _, err := NewWorkspace("  ", ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("blank name error = %v", err)
	}
	if _, err := NewWorkspace(strings.Repeat("名", maxNameLen+1), ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("long name error = %v", err)
	}
	if _, err := NewApp("w", "tab\tname", ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("control char error = %v", err)
	}

	w, _ := NewWorkspace("w", "")
	if _, err := f.CreateWorkspace(w); err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	before, _ := f.JSON()
	empty := ""
	if _, err := f.UpdateWorkspace(UpdateWorkspaceParams{ID: w.ID, Name: &empty}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("UpdateWorkspace() error = %v", err)
	}
	if after, _ := f.JSON(); after != before {
		t.Fatalf("rejected update modified folder")
	}

	a, _ := NewApp("missing", "app", "")
	if _, err := f.CreateApp(a); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("CreateApp() in missing workspace error = %v", err)
	}
}

func TestFromRevisions_SnapshotRoundTrip(t *testing.T) {
	f := &Folder{}
	var revs []revision.Revision
	doc := ""
	record := func(c Change) {
		b, err := c.Delta.ToBytes()
		if err != nil {
			t.Fatalf("ToBytes() error = %v", err)
		}
		base := uint64(len(revs))
		revs = append(revs, revision.New("folder", base, base+1, b, "alice", c.Checksum))
		doc, _ = c.Delta.Apply(doc)
	}

	w, _ := NewWorkspace("w", "first")
	c, _ := f.CreateWorkspace(w)
	record(c)
	a, _ := NewApp(w.ID, "app", "")
	c, _ = f.CreateApp(a)
	record(c)
	desc := "second"
	c, _ = f.UpdateWorkspace(UpdateWorkspaceParams{ID: w.ID, Desc: &desc})
	record(c)

	rebuilt, err := FromRevisions(revs)
	if err != nil {
		t.Fatalf("FromRevisions() error = %v", err)
	}
	got, _ := rebuilt.JSON()
	want, _ := f.JSON()
	if got != want || got != doc {
		t.Fatalf("rebuilt %s, want %s", got, want)
	}
	ws, _ := rebuilt.ReadWorkspaces(w.ID)
	if len(ws) != 1 || ws[0].Desc != "second" || len(ws[0].Apps) != 1 {
		t.Fatalf("ReadWorkspaces() = %+v", ws)
	}
	if revs[0].BaseRevID != 0 || !strings.HasPrefix(doc, `{"workspaces":`) {
		t.Fatalf("first revision %s, doc %s", revs[0], doc)
	}
}

func TestFolder_TrashedItemsHiddenFromReads(t *testing.T) {
	f, _ := Parse("")
	w, _ := NewWorkspace("ws", "")
	a, _ := NewApp(w.ID, "app", "")
	kept, _ := NewApp(w.ID, "kept", "")
	v, _ := NewView(kept.ID, "view", "", ViewTypeDoc)
	for _, op := range []func() (Change, error){
		func() (Change, error) { return f.CreateWorkspace(w) },
		func() (Change, error) { return f.CreateApp(a) },
		func() (Change, error) { return f.CreateApp(kept) },
		func() (Change, error) { return f.CreateView(v) },
		func() (Change, error) {
			return f.CreateTrash([]Trash{{ID: a.ID, Name: a.Name, Ty: TrashTypeApp}, {ID: v.ID, Name: v.Name, Ty: TrashTypeView}})
		},
	} {
		if _, err := op(); err != nil {
			t.Fatalf("setup error = %v", err)
		}
	}

	if _, err := f.ReadApp(a.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("ReadApp(trashed) error = %v, want ErrRecordNotFound", err)
	}
	if _, err := f.ReadView(v.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("ReadView(trashed) error = %v, want ErrRecordNotFound", err)
	}
	ws, err := f.ReadWorkspaces("")
	if err != nil || len(ws) != 1 {
		t.Fatalf("ReadWorkspaces() = %+v, %v", ws, err)
	}
	if len(ws[0].Apps) != 1 || ws[0].Apps[0].ID != kept.ID || len(ws[0].Apps[0].Belongings) != 0 {
		t.Fatalf("visible apps = %+v", ws[0].Apps)
	}
	got, err := f.ReadApp(kept.ID)
	if err != nil || len(got.Belongings) != 0 {
		t.Fatalf("ReadApp(kept) = %+v, %v", got, err)
	}
	// 读的结果是副本，文件夹本身没变
	if len(f.Workspaces[0].Apps) != 2 || len(f.Workspaces[0].Apps[1].Belongings) != 1 {
		t.Fatalf("reads mutated the folder: %+v", f.Workspaces)
	}

	// 从回收站移出后又能读到
	if _, err := f.DeleteTrash([]string{a.ID}); err != nil {
		t.Fatalf("DeleteTrash() error = %v", err)
	}
	if _, err := f.ReadApp(a.ID); err != nil {
		t.Fatalf("ReadApp(restored) error = %v", err)
	}
}
