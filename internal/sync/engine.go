package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"alipcs/internal/alipcs"
	"alipcs/internal/crypto"
	"alipcs/internal/transfer"
)

// EngineOptions 初始化选项
type EngineOptions struct {
	LocalDir  string // 本地同步根
	RemoteDir string // 云盘同步根 (绝对路径)

	EncryptKey       []byte // 32字节密钥，非空时加密上传
	EncryptFilenames bool   // 是否加密文件名 (只加密文件名，目录名保持明文)

	SliceSize  int64
	MaxWorkers int

	// DeleteExtraneous 删除云端有而本地没有的文件 (严格镜像)
	DeleteExtraneous bool
}

// Engine 单向同步引擎：把本地目录镜像到云盘目录
// 内容没变的文件被大小粗筛跳过，变过的交给上传管线，
// 上传管线里的秒传再把"换了名字的同内容"省掉
type Engine struct {
	drive    *alipcs.Drive
	uploader *transfer.Uploader
	opts     *EngineOptions

	dirMu  sync.Mutex
	dirIDs map[string]string // 云端目录绝对路径 -> file_id
}

// NewEngine 创建同步引擎
func NewEngine(drive *alipcs.Drive, uploader *transfer.Uploader, opts *EngineOptions) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 3
	}
	return &Engine{
		drive:    drive,
		uploader: uploader,
		opts:     opts,
		dirIDs:   make(map[string]string),
	}
}

// Run 执行一次完整的同步周期
func (e *Engine) Run(ctx context.Context) error {
	// 1. 并发扫描本地和云端
	var (
		localMap  map[string]*localMeta
		remoteMap map[string]*alipcs.RemoteFile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localMap, err = e.scanLocal()
		if err != nil {
			return fmt.Errorf("扫描本地失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		remoteMap, err = e.scanRemote(gctx)
		if err != nil {
			return fmt.Errorf("扫描云端失败: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// 2. 生成任务队列 (两边路径的并集)
	allPaths := make(map[string]bool)
	for p := range localMap {
		allPaths[p] = true
	}
	for p := range remoteMap {
		allPaths[p] = true
	}

	var tasks []Task
	for p := range allPaths {
		if op := e.compare(localMap[p], remoteMap[p]); op != OpIgnore {
			tasks = append(tasks, Task{Op: op, RelPath: p})
		}
	}

	slog.Info("同步检查完成", "本地文件数", len(localMap), "云端文件数", len(remoteMap), "任务数", len(tasks))
	if len(tasks) == 0 {
		return nil
	}

	// 3. Worker 池执行，单个任务失败不拖垮整轮
	var mu sync.Mutex
	var failed int

	wg := &errgroup.Group{}
	wg.SetLimit(e.opts.MaxWorkers)
	for _, t := range tasks {
		t := t
		wg.Go(func() error {
			if err := e.processTask(ctx, t, localMap[t.RelPath], remoteMap[t.RelPath]); err != nil {
				slog.Error("同步任务失败", "path", t.RelPath, "op", t.Op, "err", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%d 个同步任务失败", failed)
	}
	return nil
}

// scanLocal 遍历本地目录收集文件 (目录本身不记录)
func (e *Engine) scanLocal() (map[string]*localMeta, error) {
	result := make(map[string]*localMeta)
	root := e.opts.LocalDir

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		result[rel] = &localMeta{RelPath: rel, AbsPath: p, Size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// scanRemote 遍历云端同步根收集文件
// 同步根不存在时先创建，首轮同步自然变成全量上传
func (e *Engine) scanRemote(ctx context.Context) (map[string]*alipcs.RemoteFile, error) {
	root, err := e.drive.MakedirPath(ctx, e.opts.RemoteDir)
	if err != nil {
		return nil, err
	}
	e.rememberDir(root.Path, root.FileID)

	result := make(map[string]*alipcs.RemoteFile)
	err = e.drive.Walk(ctx, root.Path, func(f *alipcs.RemoteFile) error {
		if f.IsDir || f.IsRoot() {
			if f.Path != "" {
				e.rememberDir(f.Path, f.FileID)
			}
			return nil
		}
		rel := strings.TrimPrefix(f.Path, root.Path)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			return nil
		}
		rel = e.plainRelPath(rel)
		result[rel] = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// plainRelPath 把云端相对路径的文件名解密回明文
// 解不开的名字 (历史明文文件) 原样保留
func (e *Engine) plainRelPath(rel string) string {
	if !e.opts.EncryptFilenames || len(e.opts.EncryptKey) == 0 {
		return rel
	}
	dir, name := path.Split(rel)
	plain, err := crypto.DecryptName(name, e.opts.EncryptKey)
	if err != nil {
		return rel
	}
	return dir + plain
}

// processTask 处理单个任务
func (e *Engine) processTask(ctx context.Context, t Task, local *localMeta, remote *alipcs.RemoteFile) error {
	switch t.Op {
	case OpUpload:
		return e.doUpload(ctx, local)
	case OpDeleteRemote:
		slog.Info("删除云端多余文件", "path", t.RelPath)
		return e.drive.Remove(ctx, []string{remote.FileID})
	}
	return nil
}

// doUpload 上传流程：定位云端目录 -> (可选) 加密文件名 -> 走上传管线
func (e *Engine) doUpload(ctx context.Context, local *localMeta) error {
	slog.Info("开始上传", "path", local.RelPath)

	remoteDir := path.Join(e.opts.RemoteDir, path.Dir(local.RelPath))
	dirID, err := e.ensureDir(ctx, remoteDir)
	if err != nil {
		return err
	}

	name := path.Base(local.RelPath)
	if e.opts.EncryptFilenames && len(e.opts.EncryptKey) > 0 {
		name, err = crypto.EncryptName(name, e.opts.EncryptKey)
		if err != nil {
			return fmt.Errorf("加密文件名失败: %w", err)
		}
	}

	_, err = e.uploader.UploadFile(ctx, local.AbsPath, dirID, name, transfer.UploadOptions{
		SliceSize:     e.opts.SliceSize,
		CheckNameMode: alipcs.CheckNameOverwrite,
		EncryptKey:    e.opts.EncryptKey,
	})
	return err
}

// ensureDir 取 (或建) 云端目录的 file_id，带本地缓存
func (e *Engine) ensureDir(ctx context.Context, remoteDir string) (string, error) {
	e.dirMu.Lock()
	id, ok := e.dirIDs[remoteDir]
	e.dirMu.Unlock()
	if ok {
		return id, nil
	}

	dir, err := e.drive.MakedirPath(ctx, remoteDir)
	if err != nil {
		return "", err
	}
	e.rememberDir(remoteDir, dir.FileID)
	return dir.FileID, nil
}

func (e *Engine) rememberDir(remoteDir, fileID string) {
	e.dirMu.Lock()
	e.dirIDs[remoteDir] = fileID
	e.dirMu.Unlock()
}
