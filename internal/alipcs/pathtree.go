package alipcs

import (
	"context"
	"path"
	"strings"
	"sync"
)

// lister PathTree 需要的最小列举能力，*Client 实现它
// 抽象成接口方便测试时换成假实现
type lister interface {
	listEach(ctx context.Context, fileID, shareID string, fn func(*RemoteFile) bool) error
}

// treeNode 树中一个已确认存在的节点
// 只有列举结果里出现过的条目才会进树，不做任何推测性预填充
type treeNode struct {
	fileID   string
	file     *RemoteFile
	parent   *treeNode
	children map[string]*treeNode // name -> node
}

func newTreeNode(f *RemoteFile, parent *treeNode) *treeNode {
	return &treeNode{
		fileID:   f.FileID,
		file:     f,
		parent:   parent,
		children: make(map[string]*treeNode),
	}
}

// PathTree 远端路径解析缓存
// 服务端只认 file_id，路径是客户端的便利层：按需列举目录、
// 把发现的节点记到树里，把"绝对路径"翻译成 file_id
type PathTree struct {
	lst     lister
	shareID string // 非空时整棵树解析分享内容

	// 整棵树一把锁，串行化并发下潜，避免同一目录被重复列举
	// 牺牲跨目录并发换取简单性；目录列举不在吞吐关键路径上
	mu       sync.Mutex
	root     *treeNode
	byFileID map[string]*treeNode
}

// NewPathTree 创建以虚拟根 ("root") 为起点的路径树
func NewPathTree(lst lister) *PathTree {
	return newPathTree(lst, "")
}

// NewSharedPathTree 创建解析某个分享内容的路径树
func NewSharedPathTree(lst lister, shareID string) *PathTree {
	return newPathTree(lst, shareID)
}

func newPathTree(lst lister, shareID string) *PathTree {
	root := newTreeNode(RootFile(), nil)
	return &PathTree{
		lst:      lst,
		shareID:  shareID,
		root:     root,
		byFileID: map[string]*treeNode{"root": root},
	}
}

// splitPath 把绝对路径拆成有序的段
// "/" -> []; "/a/b/" -> ["a", "b"]
func splitPath(remotePath string) []string {
	cleaned := path.Clean("/" + remotePath)
	if cleaned == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(cleaned, "/"), "/")
}

// Resolve 把绝对路径解析为 RemoteFile
// 逐段下潜：段已缓存则零网络开销；未缓存则列举当前目录并把
// 返回的每个条目都记进缓存 (摊薄同目录的后续查找)，一旦看到
// 目标名字就提前停止翻页。找不到返回 (nil, nil)
func (t *PathTree) Resolve(ctx context.Context, remotePath string) (*RemoteFile, error) {
	segments := splitPath(remotePath)

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, name := range segments {
		child, ok := node.children[name]
		if !ok {
			if err := t.expand(ctx, node, name); err != nil {
				return nil, err
			}
			child, ok = node.children[name]
			if !ok {
				return nil, nil
			}
		}
		node = child
	}

	// 返回副本，调用方改 Path/DownloadURL 不影响缓存
	cp := *node.file
	return &cp, nil
}

// expand 列举 node 对应目录，把条目插入缓存
// 注意: 看到 wantName 就提前返回，同页靠后的兄弟条目不会进缓存，
// 这是刻意的摊销取舍 (完整列举交给 ListPath 一类调用)
func (t *PathTree) expand(ctx context.Context, node *treeNode, wantName string) error {
	return t.lst.listEach(ctx, node.fileID, t.shareID, func(f *RemoteFile) bool {
		if _, exists := node.children[f.Name]; !exists {
			f.Path = path.Join(node.file.Path, f.Name)
			child := newTreeNode(f, node)
			node.children[f.Name] = child
			t.byFileID[f.FileID] = child
		}
		return f.Name == wantName
	})
}

// Invalidate 在 rename/move/remove 之后失效某个节点
// 把节点从父目录的子表和反向索引里摘掉，下次解析到这个名字
// 会重新列举父目录。没有 TTL，过期只靠显式失效或查无此名
func (t *PathTree) Invalidate(fileID string) *RemoteFile {
	if fileID == "root" {
		return nil // 根节点是哨兵，永不失效
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.byFileID[fileID]
	if !ok {
		return nil
	}
	delete(t.byFileID, fileID)
	if node.parent != nil {
		delete(node.parent.children, node.file.Name)
	}
	return node.file
}
