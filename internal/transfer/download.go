package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// DownloadMode 本地已存在同名文件时的处理方式
type DownloadMode int

const (
	// DownloadOverwrite 从头重下，覆盖本地文件
	DownloadOverwrite DownloadMode = iota
	// DownloadContinue 断点续传：流和文件都定位到本地已有长度
	DownloadContinue
	// DownloadSkip 本地已是完整长度时跳过
	DownloadSkip
)

// DownloadOptions 下载参数
type DownloadOptions struct {
	Mode DownloadMode

	// Retries 整个下载的重试上限 (流内分块已经各自重试过)
	Retries int

	// OnProgress 每写入一批数据后收到当前文件内偏移
	OnProgress func(offset int64)
}

// Downloader 把一个 RangeStream 落到本地文件，支持断点续传
type Downloader struct {
	stream    *RangeStream
	localPath string
	opts      DownloadOptions
}

// NewDownloader 创建下载器
func NewDownloader(stream *RangeStream, localPath string, opts DownloadOptions) *Downloader {
	if opts.Retries <= 0 {
		opts.Retries = 2
	}
	return &Downloader{stream: stream, localPath: localPath, opts: opts}
}

// Download 执行下载
// 单次尝试失败后把流重置再整体重试，重试次数有界；
// 续传模式下每次尝试都按本地文件的当前长度重新定位
func (d *Downloader) Download(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.localPath), 0o755); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		if attempt > 0 {
			slog.Warn("下载整体重试", "path", d.localPath, "attempt", attempt, "err", lastErr)
		}

		done, err := d.once(ctx)
		if err == nil {
			return nil
		}
		if done || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("下载失败 %s: %w", d.localPath, lastErr)
}

// once 一次完整的下载尝试
// 返回 done=true 表示错误不可重试 (比如本地文件比远端还大)
func (d *Downloader) once(ctx context.Context) (done bool, err error) {
	offset := int64(0)
	flags := os.O_CREATE | os.O_WRONLY

	switch d.opts.Mode {
	case DownloadContinue, DownloadSkip:
		if info, serr := os.Stat(d.localPath); serr == nil {
			offset = info.Size()
		}
		if offset == d.stream.Length() {
			return true, nil
		}
		if offset > d.stream.Length() {
			return true, fmt.Errorf("本地文件比远端还长 (%d > %d)，拒绝续传: %s",
				offset, d.stream.Length(), d.localPath)
		}
		if d.opts.Mode == DownloadSkip && offset > 0 {
			// skip 只认完整文件，残缺的从头重下
			offset = 0
			flags |= os.O_TRUNC
		}
	default:
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(d.localPath, flags, 0o644)
	if err != nil {
		return true, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return true, err
		}
	}
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return true, err
	}

	buf := make([]byte, readBufSize)
	for {
		n, rerr := d.stream.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return true, werr
			}
			offset += int64(n)
			if d.opts.OnProgress != nil {
				d.opts.OnProgress(offset)
			}
		}
		if rerr == io.EOF {
			return false, nil
		}
		if rerr != nil {
			return false, rerr
		}
	}
}
