package transfer

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"alipcs/internal/alipcs"
	"alipcs/internal/crypto"
)

const (
	// DefaultSliceSize 默认分片大小 (10 MiB)
	DefaultSliceSize = 10 << 20

	// MaxPartNumber 服务端允许的分片数上限
	// 超过时必须把分片放大到 ceil(总长/上限)
	MaxPartNumber = 10_000

	// preHashWindow 秒传探测取样的前缀长度 (1 KiB)
	// 小于这个长度的文件不值得探测，直接传
	preHashWindow = 1024

	// defaultSliceRetries 单个分片的默认重试上限
	defaultSliceRetries = 5
)

// AdjustSliceSize 校正分片大小，保证分片数不超过服务端上限
func AdjustSliceSize(sliceSize, ioLen int64) int64 {
	if sliceSize <= 0 {
		sliceSize = DefaultSliceSize
	}
	parts := (ioLen + sliceSize - 1) / sliceSize
	if parts > MaxPartNumber {
		sliceSize = (ioLen + MaxPartNumber - 1) / MaxPartNumber
	}
	return sliceSize
}

// PartNumber 按分片大小算分片数，空文件也算一片
func PartNumber(ioLen, sliceSize int64) int {
	if ioLen <= 0 {
		return 1
	}
	return int((ioLen + sliceSize - 1) / sliceSize)
}

// UploadOptions 单个文件的上传参数
type UploadOptions struct {
	SliceSize     int64
	CheckNameMode alipcs.CheckNameMode

	// EncryptKey 非空时先整体加密到临时文件再上传
	// 密文哈希和明文无关，秒传探测自动跳过
	EncryptKey []byte

	// SliceWorkers 分片并发数，<=1 时严格串行
	SliceWorkers int

	// SliceRetries 单个分片的重试上限，0 用默认值，负数不限次
	SliceRetries int

	// OnProgress 每个分片落地后收到累计上传字节数，只管发不管等
	OnProgress func(uploaded int64)
}

// Uploader 上传器，绑定一个客户端
type Uploader struct {
	client *alipcs.Client
	http   *http.Client // 分片 PUT 直连 OSS，不走 API 客户端
}

// NewUploader 创建上传器
func NewUploader(client *alipcs.Client) *Uploader {
	return &Uploader{
		client: client,
		http:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// UploadFile 上传一个本地文件到目录 dirID 下
// 流程:
//  1. 文件足够大时先拿前 1KiB 的 SHA1 探测秒传
//  2. 探测命中再算全文 SHA1 + 持有证明，尝试秒传
//  3. 秒传未命中 (或不适用) 走分片上传，边读边累计全文 SHA1
//  4. 收尾后用服务端回传的哈希做一致性校验
func (u *Uploader) UploadFile(ctx context.Context, localPath, dirID, name string, opts UploadOptions) (*alipcs.RemoteFile, error) {
	if opts.CheckNameMode == "" {
		opts.CheckNameMode = alipcs.CheckNameOverwrite
	}

	src, cleanup, err := u.openSource(localPath, opts.EncryptKey)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	info, err := src.Stat()
	if err != nil {
		return nil, err
	}
	ioLen := info.Size()

	sliceSize := AdjustSliceSize(opts.SliceSize, ioLen)
	partNumber := PartNumber(ioLen, sliceSize)

	var session *alipcs.UploadSession

	// 秒传只对未加密且不小于 1KiB 的文件有意义
	if len(opts.EncryptKey) == 0 && ioLen >= preHashWindow {
		done, rapidFile, probed, err := u.tryRapidUpload(ctx, src, dirID, name, ioLen, partNumber, opts.CheckNameMode)
		if err != nil {
			return nil, err
		}
		if done {
			return rapidFile, nil
		}
		session = probed // 探测未命中时响应本身就是可用的上传会话
	}

	if session == nil || len(session.PartInfoList) == 0 {
		session, err = u.client.CreateFile(ctx, alipcs.CreateFileOptions{
			Name:          name,
			DirID:         dirID,
			Size:          ioLen,
			PartNumber:    partNumber,
			CheckNameMode: opts.CheckNameMode,
		})
		if err != nil {
			return nil, err
		}
	}
	if len(session.PartInfoList) != partNumber {
		return nil, fmt.Errorf("分片地址数不符: want=%d got=%d", partNumber, len(session.PartInfoList))
	}

	hasher := sha1.New()
	if err := u.uploadSlices(ctx, src, session, ioLen, sliceSize, hasher, opts); err != nil {
		return nil, err
	}

	remote, err := u.client.UploadComplete(ctx, session.FileID, session.UploadID)
	if err != nil {
		return nil, err
	}

	// 一致性校验：本地边读边算的哈希必须和服务端落盘的一致
	localHash := hex.EncodeToString(hasher.Sum(nil))
	if remote.ContentHash != "" && !crypto.EqualHashFold(localHash, remote.ContentHash) {
		return nil, &alipcs.IntegrityError{
			Path:       localPath,
			LocalHash:  localHash,
			RemoteHash: remote.ContentHash,
		}
	}
	return remote, nil
}

// openSource 打开上传源
// 加密上传时把密文整体写进临时文件，让后面的分片读取拿到确定的
// 长度和 ReaderAt；cleanup 负责删临时文件
func (u *Uploader) openSource(localPath string, encryptKey []byte) (*os.File, func(), error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, nil, fmt.Errorf("打开本地文件失败: %w", err)
	}
	if len(encryptKey) == 0 {
		return f, func() { f.Close() }, nil
	}
	defer f.Close()

	enc, err := crypto.NewEncryptReader(f, encryptKey)
	if err != nil {
		return nil, nil, err
	}

	tmp, err := os.CreateTemp("", "alipcs-enc-*")
	if err != nil {
		return nil, nil, fmt.Errorf("创建临时加密文件失败: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	if _, err := io.Copy(tmp, enc); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("加密到临时文件失败: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}
	return tmp, cleanup, nil
}

// tryRapidUpload 秒传探测与尝试
// 返回 done=true 表示已经秒传完成；done=false 且 session 非 nil
// 表示探测响应可以直接当上传会话用
func (u *Uploader) tryRapidUpload(ctx context.Context, src *os.File, dirID, name string, ioLen int64, partNumber int, mode alipcs.CheckNameMode) (done bool, remote *alipcs.RemoteFile, session *alipcs.UploadSession, err error) {
	// 1. 前 1KiB 探测
	head := make([]byte, preHashWindow)
	if _, err := io.ReadFull(io.NewSectionReader(src, 0, preHashWindow), head); err != nil {
		return false, nil, nil, fmt.Errorf("读取秒传探测窗口失败: %w", err)
	}

	probe, err := u.client.CreateFile(ctx, alipcs.CreateFileOptions{
		Name:          name,
		DirID:         dirID,
		Size:          ioLen,
		PreHash:       crypto.Sha1HexBytes(head),
		PartNumber:    partNumber,
		CheckNameMode: mode,
	})
	if err != nil {
		return false, nil, nil, err
	}
	if !probe.CanRapidUpload() {
		return false, nil, probe, nil
	}

	// 2. 命中探测，算全文哈希和持有证明
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return false, nil, nil, err
	}
	contentHash, err := crypto.Sha1Hex(src)
	if err != nil {
		return false, nil, nil, fmt.Errorf("计算全文 SHA1 失败: %w", err)
	}

	token, err := u.client.AccessToken(ctx)
	if err != nil {
		return false, nil, nil, err
	}
	proofCode, err := crypto.ProofCode(src, ioLen, token)
	if err != nil {
		return false, nil, nil, err
	}

	// 3. 秒传
	rapid, err := u.client.RapidUploadFile(ctx, name, dirID, ioLen, contentHash, proofCode, mode)
	if err != nil {
		// 探测假阳性：前缀撞了但全文不在服务端，回落分片上传
		if alipcs.IsRapidUploadMiss(err) {
			slog.Debug("秒传未命中，回落分片上传", "name", name)
			return false, nil, nil, nil
		}
		return false, nil, nil, err
	}
	if !rapid.RapidUpload {
		return false, nil, nil, nil
	}

	remote, err = u.client.Meta(ctx, rapid.FileID, "")
	if err != nil {
		return false, nil, nil, err
	}
	return true, remote, nil, nil
}

// uploadSlices 分片上传正文
// 读取永远按分片顺序串行进行 (全文哈希依赖顺序)，SliceWorkers>1 时
// 只把已读进内存的分片交给工作组并发 PUT
func (u *Uploader) uploadSlices(ctx context.Context, src io.ReaderAt, session *alipcs.UploadSession, ioLen, sliceSize int64, hasher hash.Hash, opts UploadOptions) error {
	workers := int64(opts.SliceWorkers)
	if workers < 1 {
		workers = 1
	}
	retries := opts.SliceRetries
	if retries == 0 {
		retries = defaultSliceRetries
	}

	state := &sliceURLState{session: session}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(workers)

	var uploaded int64
	var uploadedMu sync.Mutex

	partNumber := len(session.PartInfoList)
	for i := 0; i < partNumber; i++ {
		if err := waitResume(gctx); err != nil {
			break
		}
		// 先占并发额度再读，飞行中的分片内存占用不超过 workers 份
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		offset := int64(i) * sliceSize
		size := min(sliceSize, ioLen-offset)
		data := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(io.NewSectionReader(src, offset, size), data); err != nil {
				sem.Release(1)
				return fmt.Errorf("读取分片 %d 失败: %w", i+1, err)
			}
		}
		hasher.Write(data)

		part := i + 1
		g.Go(func() error {
			defer sem.Release(1)
			if err := u.putSliceRetry(gctx, state, part, data, retries); err != nil {
				return err
			}
			if opts.OnProgress != nil {
				uploadedMu.Lock()
				uploaded += int64(len(data))
				n := uploaded
				uploadedMu.Unlock()
				opts.OnProgress(n)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// sliceURLState 共享的分片地址表，过期后整批刷新
type sliceURLState struct {
	mu      sync.Mutex
	session *alipcs.UploadSession
}

// url 取某个分片的预签名地址，过期就先刷新
func (s *sliceURLState) url(ctx context.Context, c *alipcs.Client, part int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slice := s.session.PartInfoList[part-1]
	if !slice.Expired() {
		return slice.UploadURL, nil
	}
	if err := s.refreshLocked(ctx, c); err != nil {
		return "", err
	}
	return s.session.PartInfoList[part-1].UploadURL, nil
}

// refresh 强制刷新整批地址 (某个分片 PUT 被拒后调用)
func (s *sliceURLState) refresh(ctx context.Context, c *alipcs.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx, c)
}

func (s *sliceURLState) refreshLocked(ctx context.Context, c *alipcs.Client) error {
	fresh, err := c.GetUploadURLs(ctx, s.session.FileID, s.session.UploadID, len(s.session.PartInfoList))
	if err != nil {
		return fmt.Errorf("刷新分片地址失败: %w", err)
	}
	if len(fresh.PartInfoList) != len(s.session.PartInfoList) {
		return fmt.Errorf("刷新后分片地址数不符: want=%d got=%d",
			len(s.session.PartInfoList), len(fresh.PartInfoList))
	}
	s.session.PartInfoList = fresh.PartInfoList
	return nil
}

// putSliceRetry 带重试地上传一个分片
// 分片数据在内存里，每次重试从头再发，不存在读游标问题
func (u *Uploader) putSliceRetry(ctx context.Context, state *sliceURLState, part int, data []byte, retries int) error {
	var lastErr error
	for attempt := 0; retries < 0 || attempt <= retries; attempt++ {
		if err := waitResume(ctx); err != nil {
			return err
		}
		if attempt > 0 {
			slog.Debug("分片重试", "part", part, "attempt", attempt, "err", lastErr)
		}

		url, err := state.url(ctx, u.client, part)
		if err != nil {
			lastErr = err
			continue
		}

		err = u.putSlice(ctx, url, data)
		if err == nil {
			return nil
		}
		lastErr = err

		// 预签名地址被拒绝大概率是中途过期，刷新后再试
		var se *sliceStatusError
		if errors.As(err, &se) && (se.status == http.StatusForbidden || se.status == http.StatusConflict) {
			if rerr := state.refresh(ctx, u.client); rerr != nil {
				lastErr = rerr
			}
		}
	}
	return fmt.Errorf("分片 %d 上传失败: %w", part, lastErr)
}

// sliceStatusError 分片 PUT 的非 2xx 响应
type sliceStatusError struct {
	status int
}

func (e *sliceStatusError) Error() string {
	return fmt.Sprintf("分片上传 http status %d", e.status)
}

// putSlice 把分片数据 PUT 到预签名地址
func (u *Uploader) putSlice(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))

	resp, err := u.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &sliceStatusError{status: resp.StatusCode}
	}
	return nil
}

// UploadItem 批量上传的一项
type UploadItem struct {
	LocalPath string
	DirID     string
	Name      string
}

// UploadMany 并发上传多个文件
// 单个文件失败不影响其余文件，所有错误合并返回
func (u *Uploader) UploadMany(ctx context.Context, items []UploadItem, workers int, opts UploadOptions) error {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var errs []error

	g := &errgroup.Group{}
	g.SetLimit(workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			_, err := u.UploadFile(ctx, item.LocalPath, item.DirID, item.Name, opts)
			if err != nil {
				slog.Error("上传失败", "path", item.LocalPath, "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", item.LocalPath, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
