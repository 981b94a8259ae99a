package alipcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeLister 内存目录树，记录列举次数
type fakeLister struct {
	calls int
	dirs  map[string][]*RemoteFile // fileID -> entries
}

func (l *fakeLister) listEach(ctx context.Context, fileID, shareID string, fn func(*RemoteFile) bool) error {
	l.calls++
	for _, f := range l.dirs[fileID] {
		// 回调拿到的是副本，树会改写 Path 并持有指针
		cp := *f
		if fn(&cp) {
			return nil
		}
	}
	return nil
}

func file(id, name string) *RemoteFile {
	return &RemoteFile{FileID: id, Name: name, Type: "file", IsFile: true}
}

func folder(id, name string) *RemoteFile {
	return &RemoteFile{FileID: id, Name: name, Type: "folder", IsDir: true}
}

func docsTree() *fakeLister {
	return &fakeLister{dirs: map[string][]*RemoteFile{
		"root": {folder("d1", "docs"), file("f9", "readme.md")},
		"d1":   {file("f1", "report.pdf"), file("f2", "notes.txt")},
	}}
}

func TestResolveCachesSegments(t *testing.T) {
	lst := docsTree()
	tree := NewPathTree(lst)

	f, err := tree.Resolve(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, "f1", f.FileID)
	require.Equal(t, "/docs/report.pdf", f.Path)

	// 下潜两级，各列举一次
	require.Equal(t, 2, lst.calls)

	// 再解析同一路径和兄弟路径都不再碰网络
	f2, err := tree.Resolve(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, "f1", f2.FileID)
	require.Equal(t, 2, lst.calls)

	// report.pdf 排在前面，上次列举提前停止，notes.txt 没进缓存，
	// 解析它要再列举一次 docs
	_, err = tree.Resolve(context.Background(), "/docs/notes.txt")
	require.NoError(t, err)
	require.Equal(t, 3, lst.calls)
}

func TestResolveRootAndAbsent(t *testing.T) {
	lst := docsTree()
	tree := NewPathTree(lst)

	// 根路径零网络开销
	root, err := tree.Resolve(context.Background(), "/")
	require.NoError(t, err)
	require.True(t, root.IsRoot())
	require.Equal(t, 0, lst.calls)

	// 不存在的路径返回 (nil, nil)，不是错误
	f, err := tree.Resolve(context.Background(), "/docs/ghost.txt")
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestExpandStopsAtWantedName(t *testing.T) {
	lst := &fakeLister{dirs: map[string][]*RemoteFile{
		"root": {file("a", "a.txt"), file("b", "b.txt"), file("c", "c.txt"), file("z", "z.txt")},
	}}
	tree := NewPathTree(lst)

	_, err := tree.Resolve(context.Background(), "/b.txt")
	require.NoError(t, err)

	// 看到目标名就提前停止，排在后面的兄弟不进缓存
	require.Contains(t, tree.root.children, "a.txt")
	require.Contains(t, tree.root.children, "b.txt")
	require.NotContains(t, tree.root.children, "c.txt")
	require.NotContains(t, tree.root.children, "z.txt")
}

func TestInvalidateDetachesSingleNode(t *testing.T) {
	lst := docsTree()
	tree := NewPathTree(lst)

	_, err := tree.Resolve(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	callsBefore := lst.calls

	// 失效后返回被摘掉的节点
	detached := tree.Invalidate("f1")
	require.NotNil(t, detached)
	require.Equal(t, "report.pdf", detached.Name)

	// 同名路径的下一次解析重新列举父目录
	f, err := tree.Resolve(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, "f1", f.FileID)
	require.Equal(t, callsBefore+1, lst.calls)

	// docs 本身还在缓存里，失效是单点的
	require.Contains(t, tree.root.children, "docs")
}

func TestInvalidateRootIsNoop(t *testing.T) {
	tree := NewPathTree(docsTree())
	require.Nil(t, tree.Invalidate("root"))
	require.NotNil(t, tree.root)

	// 未知 file_id 同样安静返回
	require.Nil(t, tree.Invalidate("nope"))
}

func TestResolveReturnsCopy(t *testing.T) {
	lst := docsTree()
	tree := NewPathTree(lst)

	f, err := tree.Resolve(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)

	// 调用方改副本不应污染缓存
	f.Path = "/mangled"
	f.DownloadURL = "http://example.com/x"

	again, err := tree.Resolve(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, "/docs/report.pdf", again.Path)
	require.Empty(t, again.DownloadURL)
}

func TestSharedTreePassesShareID(t *testing.T) {
	seen := ""
	lst := &recordingLister{onList: func(shareID string) { seen = shareID }}
	tree := NewSharedPathTree(lst, "share-9")

	_, err := tree.Resolve(context.Background(), "/anything")
	require.NoError(t, err)
	require.Equal(t, "share-9", seen)
}

type recordingLister struct {
	onList func(shareID string)
}

func (l *recordingLister) listEach(ctx context.Context, fileID, shareID string, fn func(*RemoteFile) bool) error {
	l.onList(shareID)
	return nil
}
