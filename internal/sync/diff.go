package sync

import (
	"alipcs/internal/alipcs"
	"alipcs/internal/crypto"
)

// localMeta 本地文件的比对要素
type localMeta struct {
	RelPath string
	AbsPath string
	Size    int64
}

// compare 决策函数
// 单向镜像：本地是基准，云端只追赶
// 内容级判断交给上传阶段的秒传 (同内容会直接命中，不重复传字节)，
// 这里只做大小级的粗筛
func (e *Engine) compare(local *localMeta, remote *alipcs.RemoteFile) OpType {
	// 1. 云端没有 -> 上传
	if remote == nil {
		return OpUpload
	}

	// 2. 本地没有 -> 多出来的云端文件，按配置决定删不删
	if local == nil {
		if e.opts.DeleteExtraneous {
			return OpDeleteRemote
		}
		return OpIgnore
	}

	// 3. 双向存在，比大小
	// 加密上传时云端是密文，大小 = 明文 + 头部开销
	expectedRemoteSize := local.Size
	if len(e.opts.EncryptKey) > 0 {
		expectedRemoteSize += crypto.EncryptedOverhead
	}
	if remote.Size != expectedRemoteSize {
		return OpUpload
	}
	return OpIgnore
}
