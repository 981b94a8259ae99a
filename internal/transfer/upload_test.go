package transfer

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alipcs/internal/alipcs"
	"alipcs/internal/crypto"
)

func TestAdjustSliceSize(t *testing.T) {
	const MiB = int64(1 << 20)

	tests := []struct {
		name      string
		sliceSize int64
		ioLen     int64
		want      int64
	}{
		{"零值用默认", 0, 100 * MiB, DefaultSliceSize},
		{"分片数未超限不动", 10 * MiB, 500 * MiB, 10 * MiB},
		{"恰好一万片不动", 1 * MiB, 10_000 * MiB, 1 * MiB},
		{"超限放大到恰好容纳", 1 * MiB, 10_000*MiB + 1, (10_000*MiB + 1 + MaxPartNumber - 1) / MaxPartNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdjustSliceSize(tt.sliceSize, tt.ioLen)
			require.Equal(t, tt.want, got)
			// 校正后的分片数永远不超上限
			require.LessOrEqual(t, PartNumber(tt.ioLen, got), MaxPartNumber)
		})
	}
}

func TestPartNumber(t *testing.T) {
	require.Equal(t, 1, PartNumber(0, 1024))
	require.Equal(t, 1, PartNumber(1, 1024))
	require.Equal(t, 1, PartNumber(1024, 1024))
	require.Equal(t, 2, PartNumber(1025, 1024))
	require.Equal(t, 3, PartNumber(2600, 1024))
}

// fakeUploadAPI 按阿里云盘上传协议应答的假服务端
// createWithFolders / get_upload_url / complete 和 OSS 分片 PUT 都在这里
type fakeUploadAPI struct {
	t  *testing.T
	ts *httptest.Server

	mu            sync.Mutex
	parts         map[int][]byte // 已收到的分片
	createCalls   int
	urlCalls      int
	completeCalls int

	preHashMatched bool   // pre_hash 探测命中
	rapidOK        bool   // 秒传放行
	failPutsOnce   bool   // 每个分片第一次 PUT 都拒绝
	failedPuts     map[int]bool
	wrongHash      string // 非空时 complete 返回这个哈希
}

func newFakeUploadAPI(t *testing.T) *fakeUploadAPI {
	s := &fakeUploadAPI{
		t:          t,
		parts:      make(map[int][]byte),
		failedPuts: make(map[int]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/users/v1/users/device/create_session", func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, map[string]any{"result": true, "success": true})
	})
	mux.HandleFunc("/adrive/v2/file/createWithFolders", s.handleCreate)
	mux.HandleFunc("/v2/file/get_upload_url", s.handleGetURLs)
	mux.HandleFunc("/v2/file/complete", s.handleComplete)
	mux.HandleFunc("/v2/file/get", func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, map[string]any{
			"file_id": "f1", "name": "rapid.bin", "type": "file", "content_hash": "cafe",
		})
	})
	mux.HandleFunc("/oss/part/", s.handlePut)

	s.ts = httptest.NewServer(mux)
	t.Cleanup(s.ts.Close)
	return s
}

func (s *fakeUploadAPI) reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *fakeUploadAPI) partURLs(n int) []map[string]any {
	expires := time.Now().Add(time.Hour).Unix()
	urls := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		urls = append(urls, map[string]any{
			"part_number": i,
			"upload_url":  fmt.Sprintf("%s/oss/part/%d?x-oss-expires=%d", s.ts.URL, i, expires),
		})
	}
	return urls
}

func (s *fakeUploadAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.createCalls++
	s.mu.Unlock()

	if hash, _ := req["content_hash"].(string); hash != "" {
		// 秒传尝试
		if s.rapidOK {
			s.reply(w, map[string]any{"file_id": "f1", "rapid_upload": true})
		} else {
			s.reply(w, map[string]string{"code": "NotFound.FileHash", "message": "no such content"})
		}
		return
	}
	if preHash, _ := req["pre_hash"].(string); preHash != "" && s.preHashMatched {
		s.reply(w, map[string]string{"code": "PreHashMatched"})
		return
	}

	parts, _ := req["part_info_list"].([]any)
	s.reply(w, map[string]any{
		"file_id":        "f1",
		"upload_id":      "u1",
		"part_info_list": s.partURLs(len(parts)),
	})
}

func (s *fakeUploadAPI) handleGetURLs(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.urlCalls++
	s.mu.Unlock()

	parts, _ := req["part_info_list"].([]any)
	s.reply(w, map[string]any{
		"file_id":        "f1",
		"upload_id":      "u1",
		"part_info_list": s.partURLs(len(parts)),
	})
}

func (s *fakeUploadAPI) handlePut(w http.ResponseWriter, r *http.Request) {
	part, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/oss/part/"))
	require.NoError(s.t, err)

	s.mu.Lock()
	if s.failPutsOnce && !s.failedPuts[part] {
		s.failedPuts[part] = true
		s.mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
		return
	}
	s.mu.Unlock()

	data, err := io.ReadAll(r.Body)
	require.NoError(s.t, err)

	s.mu.Lock()
	s.parts[part] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *fakeUploadAPI) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.completeCalls++
	hash := s.wrongHash
	if hash == "" {
		hash = s.assembledHashLocked()
	}
	size := 0
	for _, p := range s.parts {
		size += len(p)
	}
	s.mu.Unlock()

	s.reply(w, map[string]any{
		"file_id": "f1", "name": "done.bin", "type": "file",
		"size": size, "content_hash": hash, "content_hash_name": "sha1",
	})
}

// assembledHashLocked 按分片序号拼回全文算 SHA1
func (s *fakeUploadAPI) assembledHashLocked() string {
	nums := make([]int, 0, len(s.parts))
	for n := range s.parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	h := sha1.New()
	for _, n := range nums {
		h.Write(s.parts[n])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *fakeUploadAPI) assembled() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	nums := make([]int, 0, len(s.parts))
	for n := range s.parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var buf bytes.Buffer
	for _, n := range nums {
		buf.Write(s.parts[n])
	}
	return buf.Bytes()
}

func (s *fakeUploadAPI) newUploader() *Uploader {
	cred := alipcs.Credential{
		RefreshToken:   "rt",
		AccessToken:    "tok",
		ExpireTime:     time.Now().Add(3 * time.Hour).Unix(),
		UserID:         "u1",
		DeviceID:       "d1",
		DefaultDriveID: "drv1",
	}
	client := alipcs.NewClient(&alipcs.Options{Credential: cred, BaseURL: s.ts.URL})
	return NewUploader(client)
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestUploadSmallFileSingleSlice(t *testing.T) {
	api := newFakeUploadAPI(t)
	up := api.newUploader()

	data := []byte("hello world")
	local := writeTempFile(t, data)

	f, err := up.UploadFile(context.Background(), local, "root", "hello.txt", UploadOptions{})
	require.NoError(t, err)

	// 小于 1KiB 不做秒传探测，一次预创建直接传
	require.Equal(t, 1, api.createCalls)
	require.Equal(t, 1, api.completeCalls)
	require.Equal(t, data, api.assembled())
	require.Equal(t, crypto.Sha1HexBytes(data), f.ContentHash)
}

func TestUploadSplitsIntoSlices(t *testing.T) {
	api := newFakeUploadAPI(t)
	up := api.newUploader()

	data := make([]byte, 2600)
	for i := range data {
		data[i] = byte(i % 251)
	}
	local := writeTempFile(t, data)

	var progress []int64
	_, err := up.UploadFile(context.Background(), local, "root", "big.bin", UploadOptions{
		SliceSize:  1024,
		OnProgress: func(n int64) { progress = append(progress, n) },
	})
	require.NoError(t, err)

	// 2600 字节按 1024 切成 3 片: 1024 + 1024 + 552
	require.Len(t, api.parts, 3)
	require.Len(t, api.parts[1], 1024)
	require.Len(t, api.parts[2], 1024)
	require.Len(t, api.parts[3], 552)
	require.Equal(t, data, api.assembled())

	// 进度单调递增到总量
	require.NotEmpty(t, progress)
	require.Equal(t, int64(2600), progress[len(progress)-1])
	require.True(t, sort.SliceIsSorted(progress, func(i, j int) bool { return progress[i] < progress[j] }))
}

func TestUploadRapidUploadHit(t *testing.T) {
	api := newFakeUploadAPI(t)
	api.preHashMatched = true
	api.rapidOK = true
	up := api.newUploader()

	data := bytes.Repeat([]byte("x"), 4096)
	local := writeTempFile(t, data)

	f, err := up.UploadFile(context.Background(), local, "root", "rapid.bin", UploadOptions{})
	require.NoError(t, err)
	require.Equal(t, "f1", f.FileID)

	// 探测 + 秒传各一次，一个字节都不用传
	require.Equal(t, 2, api.createCalls)
	require.Empty(t, api.parts)
	require.Zero(t, api.completeCalls)
}

func TestUploadRapidUploadMissFallsBack(t *testing.T) {
	api := newFakeUploadAPI(t)
	api.preHashMatched = true
	api.rapidOK = false // 前缀撞了但全文不在
	up := api.newUploader()

	data := bytes.Repeat([]byte("y"), 4096)
	local := writeTempFile(t, data)

	_, err := up.UploadFile(context.Background(), local, "root", "miss.bin", UploadOptions{SliceSize: 2048})
	require.NoError(t, err)

	// 探测、秒传、回落预创建，然后分片照常传
	require.Equal(t, 3, api.createCalls)
	require.Equal(t, data, api.assembled())
	require.Equal(t, 1, api.completeCalls)
}

func TestUploadIntegrityMismatch(t *testing.T) {
	api := newFakeUploadAPI(t)
	api.wrongHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	up := api.newUploader()

	local := writeTempFile(t, []byte("content"))

	_, err := up.UploadFile(context.Background(), local, "root", "bad.bin", UploadOptions{})
	require.Error(t, err)

	var ie *alipcs.IntegrityError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, api.wrongHash, ie.RemoteHash)
	require.Equal(t, crypto.Sha1HexBytes([]byte("content")), ie.LocalHash)
}

func TestUploadRetriesRejectedSlices(t *testing.T) {
	api := newFakeUploadAPI(t)
	api.failPutsOnce = true
	up := api.newUploader()

	data := make([]byte, 3000)
	local := writeTempFile(t, data)

	_, err := up.UploadFile(context.Background(), local, "root", "retry.bin", UploadOptions{SliceSize: 1024})
	require.NoError(t, err)

	// 每片第一次 403，刷新地址后重试成功
	require.Equal(t, data, api.assembled())
	require.GreaterOrEqual(t, api.urlCalls, 1)
}

func TestUploadEncryptedSkipsRapidUpload(t *testing.T) {
	api := newFakeUploadAPI(t)
	api.preHashMatched = true // 即便服务端愿意秒传也不该被问到
	up := api.newUploader()

	key := crypto.DeriveKey("secret")
	plain := bytes.Repeat([]byte("机密数据"), 500)
	local := writeTempFile(t, plain)

	_, err := up.UploadFile(context.Background(), local, "root", "enc.bin", UploadOptions{EncryptKey: key})
	require.NoError(t, err)

	// 密文哈希和明文无关，秒传探测直接跳过
	require.Equal(t, 1, api.createCalls)

	// 云端收到的是 [IV]+密文，解开要和明文一致
	ciphertext := api.assembled()
	require.Equal(t, len(plain)+crypto.EncryptedOverhead, len(ciphertext))

	dec, err := crypto.NewDecryptReader(bytes.NewReader(ciphertext), key)
	require.NoError(t, err)
	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestUploadManyCollectsErrors(t *testing.T) {
	api := newFakeUploadAPI(t)
	up := api.newUploader()

	good := writeTempFile(t, []byte("ok"))
	items := []UploadItem{
		{LocalPath: good, DirID: "root", Name: "ok.txt"},
		{LocalPath: filepath.Join(t.TempDir(), "missing.txt"), DirID: "root", Name: "missing.txt"},
	}

	err := up.UploadMany(context.Background(), items, 2, UploadOptions{})
	// 失败的那个报错，但不影响另一个传完
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing.txt")
	require.Equal(t, []byte("ok"), api.assembled())
}
