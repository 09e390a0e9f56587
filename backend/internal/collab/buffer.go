package collab

import (
	"folderSync/backend/internal/ot/delta"
)

// 服务端对象内容缓冲区
type Buffer interface {
	Len() int
	// Apply 长度对不上时返回 delta.ErrMalformed，缓冲区保持不变
	Apply(d delta.Delta) error
	String() string
}

/*
结构示例

初始内容 `{"workspaces":[]}`：

- original buffer 为初始内容
- add buffer 为空
- piece 表：

[ (orig, offset=0, length=17) ]

在位置 15 插入 `{"id":"w1"}`：
- add buffer 末尾追加插入内容
- piece 表从一条拆成三条：

[
  (orig, offset=0,  length=15),
  (add,  offset=0,  length=11),
  (orig, offset=15, length=2),
]
*/
