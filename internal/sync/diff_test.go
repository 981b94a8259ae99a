package sync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"alipcs/internal/alipcs"
	"alipcs/internal/crypto"
)

func newTestEngine(encrypt bool, deleteExtraneous bool) *Engine {
	opts := &EngineOptions{DeleteExtraneous: deleteExtraneous}
	if encrypt {
		opts.EncryptKey = crypto.DeriveKey("p")
	}
	return NewEngine(nil, nil, opts)
}

func TestCompare(t *testing.T) {
	local := &localMeta{RelPath: "a.txt", Size: 100}

	tests := []struct {
		name   string
		e      *Engine
		local  *localMeta
		remote *alipcs.RemoteFile
		want   OpType
	}{
		{"云端缺失则上传", newTestEngine(false, false), local, nil, OpUpload},
		{"大小一致则跳过", newTestEngine(false, false), local, &alipcs.RemoteFile{Size: 100}, OpIgnore},
		{"大小不一致则上传", newTestEngine(false, false), local, &alipcs.RemoteFile{Size: 99}, OpUpload},
		{"本地缺失默认保留云端", newTestEngine(false, false), nil, &alipcs.RemoteFile{Size: 100}, OpIgnore},
		{"本地缺失镜像模式删云端", newTestEngine(false, true), nil, &alipcs.RemoteFile{Size: 100}, OpDeleteRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.e.compare(tt.local, tt.remote))
		})
	}
}

func TestCompareEncryptedSizeOffset(t *testing.T) {
	e := newTestEngine(true, false)
	local := &localMeta{RelPath: "a.txt", Size: 100}

	// 加密上传后云端是密文: 明文大小 + IV 头
	require.Equal(t, OpIgnore, e.compare(local, &alipcs.RemoteFile{Size: 100 + crypto.EncryptedOverhead}))
	require.Equal(t, OpUpload, e.compare(local, &alipcs.RemoteFile{Size: 100}))
}
