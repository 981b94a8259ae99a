package transfer

import (
	"context"
	"crypto/aes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alipcs/internal/crypto"
)

const (
	// DefaultMaxChunkSize 单个 Range 请求的最大跨度 (50 MiB)
	// 服务端对超大 Range 响应不稳定，按这个粒度切开
	DefaultMaxChunkSize = 50 << 20

	// chunkRetries 单个分块请求的重试次数
	chunkRetries = 3

	// readBufSize 从响应体搬运数据的缓冲大小
	readBufSize = 64 << 10
)

// RangeStreamOptions 打开下载流的参数
type RangeStreamOptions struct {
	URL          string
	Headers      map[string]string
	MaxChunkSize int64
	HTTPClient   *http.Client

	// Callback 每搬完一个分块后收到当前绝对偏移，只管发不管等
	Callback func(offset int64)

	// DecryptKey 非空时按 [16字节IV]+[AES-CTR密文] 透明解密
	DecryptKey []byte
}

// RangeStream 把远端文件呈现为可 Seek 可 Read 的字节流
// 内部按 MaxChunkSize 切分成连续的 Range 请求，各分块独立重试；
// 总长度在打开时确定，流的生命周期内不变
type RangeStream struct {
	ctx    context.Context
	client *http.Client
	opts   RangeStreamOptions

	length  int64 // 逻辑长度 (解密后)
	offset  int64 // 当前逻辑偏移
	iv      []byte
	headLen int64 // 密文头部长度，未加密时为 0
}

// OpenRangeStream 打开流：探测总长度，加密文件顺带取出 IV 头
func OpenRangeStream(ctx context.Context, opts RangeStreamOptions) (*RangeStream, error) {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	s := &RangeStream{
		ctx:    ctx,
		client: client,
		opts:   opts,
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// init 发一个小 Range 请求，从 Content-Range 解析总长度
// 加密流顺带读走前 16 字节作为 IV
func (s *RangeStream) init() error {
	probeEnd := int64(0)
	if len(s.opts.DecryptKey) > 0 {
		probeEnd = crypto.EncryptedOverhead - 1
	}

	body, total, err := s.fetchRaw(0, probeEnd)
	if err != nil {
		return fmt.Errorf("探测远端长度失败: %w", err)
	}

	if len(s.opts.DecryptKey) > 0 {
		if len(body) < aes.BlockSize {
			return fmt.Errorf("密文太短，没有完整的 IV 头 (%d 字节)", len(body))
		}
		s.iv = body[:aes.BlockSize]
		s.headLen = crypto.EncryptedOverhead
	}

	s.length = total - s.headLen
	if s.length < 0 {
		return fmt.Errorf("远端长度异常: total=%d head=%d", total, s.headLen)
	}
	return nil
}

// Length 逻辑总长度 (解密后的字节数)
func (s *RangeStream) Length() int64 {
	return s.length
}

// Seek 移动逻辑偏移，语义同 io.Seeker，越界会被夹到 [0, length]
func (s *RangeStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.offset = offset
	case io.SeekCurrent:
		s.offset += offset
	case io.SeekEnd:
		s.offset = s.length + offset
	default:
		return 0, fmt.Errorf("无效的 whence: %d", whence)
	}
	s.offset = max(0, min(s.offset, s.length))
	return s.offset, nil
}

// Reset 回到起点 (整体重试前调用)
func (s *RangeStream) Reset() {
	s.offset = 0
}

// Read 从当前偏移读取，按需发起一个或多个分块请求
func (s *RangeStream) Read(p []byte) (int, error) {
	if s.offset >= s.length {
		return 0, io.EOF
	}

	want := min(int64(len(p)), s.length-s.offset)
	n := int64(0)
	for n < want {
		if err := waitResume(s.ctx); err != nil {
			return int(n), err
		}

		start := s.offset
		end := min(start+s.opts.MaxChunkSize, start+want-n) // 开区间
		if err := s.fetchChunk(start, end, p[n:n+end-start]); err != nil {
			return int(n), err
		}
		read := end - start
		n += read
		s.offset += read

		if s.opts.Callback != nil {
			s.opts.Callback(s.offset)
		}
	}
	return int(n), nil
}

// fetchChunk 拉取 [start, end) 的逻辑字节到 dst，独立重试
// 解密是有状态的：每次 (重) 试都从 start 重新推导 CTR 计数器，
// 绝不沿用上一次失败尝试的流状态
func (s *RangeStream) fetchChunk(start, end int64, dst []byte) error {
	var lastErr error
	for attempt := 0; attempt < chunkRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("分块重试", "start", start, "end", end, "attempt", attempt)
		}

		body, _, err := s.fetchRaw(start+s.headLen, end-1+s.headLen)
		if err != nil {
			lastErr = err
			continue
		}
		if int64(len(body)) != end-start {
			lastErr = fmt.Errorf("分块长度不符: want=%d got=%d", end-start, len(body))
			continue
		}

		if len(s.opts.DecryptKey) > 0 {
			stream, err := crypto.NewDecryptStreamAt(s.opts.DecryptKey, s.iv, start)
			if err != nil {
				return err
			}
			stream.XORKeyStream(dst, body)
		} else {
			copy(dst, body)
		}
		return nil
	}
	return fmt.Errorf("分块下载失败 [%d, %d): %w", start, end, lastErr)
}

// fetchRaw 发一个 Range 请求 (闭区间)，返回响应体和远端总长度
func (s *RangeStream) fetchRaw(start, end int64) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	// 零长度文件对任何 Range 都回 416，总长在 "bytes */N" 里
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		total, terr := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if terr != nil {
			return nil, 0, fmt.Errorf("range 请求 http status 416: %w", terr)
		}
		return nil, total, nil
	}

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("range 请求 http status %d", resp.StatusCode)
	}

	total, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if err != nil {
		// 个别网关不回 Content-Range，退化用 Content-Length (仅全量响应可信)
		if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
			total = resp.ContentLength
		} else {
			return nil, 0, err
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, total, nil
}

// parseContentRangeTotal 从 "bytes 0-0/12345" 里取总长度
func parseContentRangeTotal(header string) (int64, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, fmt.Errorf("缺少 Content-Range 头: %q", header)
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 Content-Range 失败 %q: %w", header, err)
	}
	return total, nil
}
