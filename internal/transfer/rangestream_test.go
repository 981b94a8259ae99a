package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"alipcs/internal/crypto"
)

// rangeServer 按 Range 头切片应答的假直链服务
type rangeServer struct {
	mu         sync.Mutex
	data       []byte
	requests   []string // 收到的 Range 头
	failNth    int      // 从第 n 个请求 (1 起) 开始返回 500
	failStreak int      // 连续失败个数，0 视作 1
	served     int
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.served++
	n := s.served
	s.requests = append(s.requests, r.Header.Get("Range"))
	s.mu.Unlock()

	streak := s.failStreak
	if streak <= 0 {
		streak = 1
	}
	if s.failNth > 0 && n >= s.failNth && n < s.failNth+streak {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	start, end, err := parseRangeHeader(r.Header.Get("Range"), int64(len(s.data)))
	if err != nil || start >= int64(len(s.data)) {
		// 规范服务端对不可满足的 Range 回 416，并在头里带总长
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(s.data)))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(s.data)))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(s.data[start : end+1])
}

func parseRangeHeader(header string, total int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("bad range %q", header)
	}
	lo, hi, _ := strings.Cut(spec, "-")
	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.ParseInt(hi, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if end >= total {
		end = total - 1
	}
	return start, end, nil
}

func (s *rangeServer) dataRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 第一个请求是长度探测
	return append([]string(nil), s.requests[1:]...)
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}

func openTestStream(t *testing.T, s *rangeServer, opts RangeStreamOptions) *RangeStream {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	opts.URL = ts.URL
	stream, err := OpenRangeStream(context.Background(), opts)
	require.NoError(t, err)
	return stream
}

func TestRangeStreamLength(t *testing.T) {
	s := &rangeServer{data: testData(12345)}
	stream := openTestStream(t, s, RangeStreamOptions{})

	require.Equal(t, int64(12345), stream.Length())
	// 只发了一个 0-0 的探测请求
	require.Equal(t, []string{"bytes=0-0"}, s.requests)
}

func TestRangeStreamEmptyFile(t *testing.T) {
	// 零字节远端：长度探测的 bytes=0-0 会被 416 拒绝，
	// 总长只能从 416 响应的 Content-Range 里拿
	s := &rangeServer{data: nil}
	stream := openTestStream(t, s, RangeStreamOptions{})

	require.Zero(t, stream.Length())

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRangeStreamReadSplitsChunks(t *testing.T) {
	data := testData(100_000)
	s := &rangeServer{data: data}
	stream := openTestStream(t, s, RangeStreamOptions{MaxChunkSize: 16 << 10})

	_, err := stream.Seek(10, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 50_000)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 50_000, n)
	require.Equal(t, data[10:50_010], buf)

	// 50000 字节按 16KiB 切 4 个请求，每个跨度不超过上限
	reqs := s.dataRequests()
	require.Len(t, reqs, 4)
	for _, r := range reqs {
		start, end, err := parseRangeHeader(r, int64(len(data)))
		require.NoError(t, err)
		require.LessOrEqual(t, end-start+1, int64(16<<10))
	}
}

func TestRangeStreamReadToEOF(t *testing.T) {
	data := testData(1000)
	s := &rangeServer{data: data}
	stream := openTestStream(t, s, RangeStreamOptions{})

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// 再读直接 EOF
	n, err := stream.Read(make([]byte, 10))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestRangeStreamSeekSemantics(t *testing.T) {
	s := &rangeServer{data: testData(100)}
	stream := openTestStream(t, s, RangeStreamOptions{})

	pos, err := stream.Seek(-10, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(90), pos)

	pos, err = stream.Seek(5, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(95), pos)

	// 越界夹回边界
	pos, err = stream.Seek(-500, io.SeekCurrent)
	require.NoError(t, err)
	require.Zero(t, pos)

	_, err = stream.Seek(0, 42)
	require.Error(t, err)
}

func TestRangeStreamRetriesFailedChunk(t *testing.T) {
	data := testData(8192)
	s := &rangeServer{data: data, failNth: 2} // 第一个数据请求失败一次
	stream := openTestStream(t, s, RangeStreamOptions{MaxChunkSize: 4096})

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestRangeStreamProgressCallback(t *testing.T) {
	var offsets []int64
	s := &rangeServer{data: testData(10_000)}
	stream := openTestStream(t, s, RangeStreamOptions{
		MaxChunkSize: 4096,
		Callback:     func(off int64) { offsets = append(offsets, off) },
	})

	buf := make([]byte, stream.Length())
	_, err := io.ReadFull(stream, buf)
	require.NoError(t, err)

	// 每个分块回调一次，偏移单调递增到总长
	require.Len(t, offsets, 3)
	require.Equal(t, int64(10_000), offsets[len(offsets)-1])
	for i := 1; i < len(offsets); i++ {
		require.Greater(t, offsets[i], offsets[i-1])
	}
}

func TestRangeStreamTransparentDecrypt(t *testing.T) {
	key := crypto.DeriveKey("dl-pass")
	plain := testData(9_999)

	enc, err := crypto.NewEncryptReader(bytes.NewReader(plain), key)
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(enc)
	require.NoError(t, err)

	s := &rangeServer{data: ciphertext}
	stream := openTestStream(t, s, RangeStreamOptions{
		MaxChunkSize: 2048,
		DecryptKey:   key,
	})

	// 逻辑长度是明文长度
	require.Equal(t, int64(len(plain)), stream.Length())

	// 任意偏移起读，拿到的都是明文
	_, err = stream.Seek(5000, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, plain[5000:], got)

	// 回头整读一遍
	stream.Reset()
	got, err = io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestRangeStreamDecryptRetrySafe(t *testing.T) {
	key := crypto.DeriveKey("retry-pass")
	plain := testData(8_000)

	enc, err := crypto.NewEncryptReader(bytes.NewReader(plain), key)
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(enc)
	require.NoError(t, err)

	// 中途一个分块失败，重试后解密状态必须依然正确
	s := &rangeServer{data: ciphertext, failNth: 3}
	stream := openTestStream(t, s, RangeStreamOptions{
		MaxChunkSize: 2048,
		DecryptKey:   key,
	})

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}
