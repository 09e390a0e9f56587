package folder

import (
	"encoding/json"
	"fmt"
	"time"

	"folderSync/backend/internal/ot/delta"
	"folderSync/backend/internal/revision"

	"github.com/google/uuid"
)

type ViewType int

const (
	ViewTypeBlank ViewType = iota
	ViewTypeDoc
)

type TrashType int

const (
	TrashTypeView TrashType = iota
	TrashTypeApp
)

type Workspace struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Desc         string `json:"desc"`
	Apps         []App  `json:"apps"`
	ModifiedTime int64  `json:"modified_time"`
	CreateTime   int64  `json:"create_time"`
}

type App struct {
	ID           string `json:"id"`
	WorkspaceID  string `json:"workspace_id"`
	Name         string `json:"name"`
	Desc         string `json:"desc"`
	Belongings   []View `json:"belongings"`
	Version      int64  `json:"version"`
	ModifiedTime int64  `json:"modified_time"`
	CreateTime   int64  `json:"create_time"`
}

type View struct {
	ID           string   `json:"id"`
	BelongToID   string   `json:"belong_to_id"`
	Name         string   `json:"name"`
	Desc         string   `json:"desc"`
	ViewType     ViewType `json:"view_type"`
	Version      int64    `json:"version"`
	Belongings   []View   `json:"belongings"`
	ModifiedTime int64    `json:"modified_time"`
	CreateTime   int64    `json:"create_time"`
	Thumbnail    string   `json:"thumbnail"`
}

type Trash struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime int64     `json:"modified_time"`
	CreateTime   int64     `json:"create_time"`
	Ty           TrashType `json:"ty"`
}

// Folder 文件夹的完整状态；序列化后的 JSON 就是 Pad 里的文档
type Folder struct {
	Workspaces []Workspace `json:"workspaces"`
	Trash      []Trash     `json:"trash"`

	// 当前的文档文本，新建的空文件夹是空串
	text string
}

var now = func() int64 { return time.Now().Unix() }

func NewWorkspace(name, desc string) (Workspace, error) {
	if err := validate(name, desc); err != nil {
		return Workspace{}, err
	}
	ts := now()
	return Workspace{ID: uuid.NewString(), Name: name, Desc: desc, ModifiedTime: ts, CreateTime: ts}, nil
}

func NewApp(workspaceID, name, desc string) (App, error) {
	if err := validate(name, desc); err != nil {
		return App{}, err
	}
	ts := now()
	return App{ID: uuid.NewString(), WorkspaceID: workspaceID, Name: name, Desc: desc, ModifiedTime: ts, CreateTime: ts}, nil
}

func NewView(appID, name, desc string, ty ViewType) (View, error) {
	if err := validate(name, desc); err != nil {
		return View{}, err
	}
	ts := now()
	return View{ID: uuid.NewString(), BelongToID: appID, Name: name, Desc: desc, ViewType: ty, ModifiedTime: ts, CreateTime: ts}, nil
}

// Parse 空文档就是空文件夹
func Parse(snapshot string) (*Folder, error) {
	f := &Folder{}
	if snapshot == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(snapshot), f); err != nil {
		return nil, fmt.Errorf("parse folder: %w", err)
	}
	f.text = snapshot
	return f, nil
}

// JSON 字段顺序固定，同样的内容总是得到同样的文本
func (f *Folder) JSON() (string, error) {
	out := Folder{Workspaces: f.Workspaces, Trash: f.Trash}
	if out.Workspaces == nil {
		out.Workspaces = []Workspace{}
	}
	if out.Trash == nil {
		out.Trash = []Trash{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FromRevisions 按修订顺序重放出文件夹
func FromRevisions(revs []revision.Revision) (*Folder, error) {
	doc, err := revision.Replay(delta.Delta{}, revs, revision.ComposeRevision)
	if err != nil {
		return nil, err
	}
	return Parse(doc.Text())
}
