package alipcs

import (
	"context"
	"fmt"
	"path"
	"sync"
)

// linkProvider 下载直链的来源
// 预留给开放平台客户端之类的第二实现，Drive 通过组合显式选择
// 由谁提供直链，而不是靠继承覆盖
type linkProvider interface {
	DownloadLink(ctx context.Context, fileID string) (string, int64, error)
}

// Drive 面向路径的高层封装
// 持有原始 Client 和路径树缓存；NotFound 类错误在这一层被
// 转换为"不存在" (nil)，其他错误原样上抛
type Drive struct {
	client *Client
	links  linkProvider // 直链走谁，默认就是 client

	tree *PathTree

	mu          sync.Mutex
	sharedTrees map[string]*PathTree // share_id -> tree
}

// NewDrive 创建高层封装
func NewDrive(client *Client) *Drive {
	return &Drive{
		client:      client,
		links:       client,
		tree:        NewPathTree(client),
		sharedTrees: make(map[string]*PathTree),
	}
}

// Client 暴露底层客户端 (上传/分享等操作直接用)
func (d *Drive) Client() *Client {
	return d.client
}

// sharedTree 取 (或建) 某个分享的路径树
func (d *Drive) sharedTree(shareID string) *PathTree {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.sharedTrees[shareID]
	if !ok {
		t = NewSharedPathTree(d.client, shareID)
		d.sharedTrees[shareID] = t
	}
	return t
}

// GetFile 按绝对路径取文件，不存在返回 (nil, nil)
func (d *Drive) GetFile(ctx context.Context, remotePath string) (*RemoteFile, error) {
	f, err := d.tree.Resolve(ctx, remotePath)
	if IsNotFound(err) {
		return nil, nil
	}
	return f, err
}

// GetSharedFile 按绝对路径取分享里的文件
func (d *Drive) GetSharedFile(ctx context.Context, shareID, remotePath string) (*RemoteFile, error) {
	f, err := d.sharedTree(shareID).Resolve(ctx, remotePath)
	if IsNotFound(err) {
		return nil, nil
	}
	return f, err
}

// Exists 路径是否存在
func (d *Drive) Exists(ctx context.Context, remotePath string) (bool, error) {
	f, err := d.GetFile(ctx, remotePath)
	return f != nil, err
}

// ListPath 列出目录路径下的全部条目 (翻完所有页)，并补齐 Path
func (d *Drive) ListPath(ctx context.Context, remotePath string) ([]*RemoteFile, error) {
	dir, err := d.GetFile(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return nil, fmt.Errorf("目录不存在: %s", remotePath)
	}

	var files []*RemoteFile
	err = d.client.listEach(ctx, dir.FileID, "", func(f *RemoteFile) bool {
		f.Path = path.Join(dir.Path, f.Name)
		files = append(files, f)
		return false
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// walkItem 待访问的节点和它已经解析好的完整路径
type walkItem struct {
	file *RemoteFile
	dir  string // file 所在目录的绝对路径
}

// Walk 深度优先遍历目录树，对每个条目回调
// 用显式工作栈携带解析好的路径下潜，条目 yield 之后不再改写
func (d *Drive) Walk(ctx context.Context, remotePath string, fn func(*RemoteFile) error) error {
	start, err := d.GetFile(ctx, remotePath)
	if err != nil {
		return err
	}
	if start == nil {
		return fmt.Errorf("路径不存在: %s", remotePath)
	}

	stack := []walkItem{{file: start, dir: path.Dir(start.Path)}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		item.file.Path = path.Join(item.dir, item.file.Name)
		if item.file.IsRoot() {
			item.file.Path = "/"
		}
		if err := fn(item.file); err != nil {
			return err
		}

		if !item.file.IsDir && !item.file.IsRoot() {
			continue
		}

		var children []*RemoteFile
		err := d.client.listEach(ctx, item.file.FileID, "", func(f *RemoteFile) bool {
			children = append(children, f)
			return false
		})
		if err != nil {
			return err
		}
		// 逆序入栈，保持列举顺序出栈
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, walkItem{file: children[i], dir: item.file.Path})
		}
	}
	return nil
}

// MakedirPath 逐级创建目录路径，返回最深一级
func (d *Drive) MakedirPath(ctx context.Context, remotePath string) (*RemoteFile, error) {
	segments := splitPath(remotePath)
	if len(segments) == 0 {
		return RootFile(), nil
	}

	cur := RootFile()
	curPath := "/"
	for _, name := range segments {
		curPath = path.Join(curPath, name)

		existing, err := d.GetFile(ctx, curPath)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.IsFile {
				return nil, fmt.Errorf("路径被同名文件占用: %s", curPath)
			}
			cur = existing
			continue
		}

		created, err := d.client.Makedir(ctx, cur.FileID, name)
		if err != nil {
			// refuse 模式下并发创建会撞 AlreadyExist，重新解析即可
			if ErrorCode(err) == codeAlreadyExist {
				existing, rerr := d.GetFile(ctx, curPath)
				if rerr != nil {
					return nil, rerr
				}
				if existing != nil {
					cur = existing
					continue
				}
			}
			return nil, err
		}
		created.Path = curPath
		cur = created
	}
	return cur, nil
}

// Move 移动文件并失效路径缓存
func (d *Drive) Move(ctx context.Context, fileIDs []string, destID string) error {
	if err := d.client.Move(ctx, fileIDs, destID); err != nil {
		return err
	}
	for _, id := range fileIDs {
		d.tree.Invalidate(id)
	}
	return nil
}

// Rename 重命名文件并失效路径缓存
func (d *Drive) Rename(ctx context.Context, fileID, name string) (*RemoteFile, error) {
	f, err := d.client.Rename(ctx, fileID, name)
	if err != nil {
		return nil, err
	}
	d.tree.Invalidate(fileID)
	return f, nil
}

// Remove 删除 (回收站) 文件并失效路径缓存
func (d *Drive) Remove(ctx context.Context, fileIDs []string) error {
	if err := d.client.Remove(ctx, fileIDs); err != nil {
		return err
	}
	for _, id := range fileIDs {
		d.tree.Invalidate(id)
	}
	return nil
}

// RefreshDownloadURL 确保文件的下载直链可用
// 直链带着过期时间，临近过期 (5 秒余量) 就重新获取
func (d *Drive) RefreshDownloadURL(ctx context.Context, f *RemoteFile) error {
	if !f.IsFile {
		return fmt.Errorf("目录没有下载直链: %s", f.Path)
	}
	if !f.DownloadURLExpired() {
		return nil
	}
	url, _, err := d.links.DownloadLink(ctx, f.FileID)
	if err != nil {
		return err
	}
	f.DownloadURL = url
	return nil
}
