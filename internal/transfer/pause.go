package transfer

import (
	"context"
	"sync"
)

// 全局暂停开关
// 上传在分片之间、下载在分块之间检查一次，已发出的请求不会被打断，
// 所以恢复生效是尽力而为的
var (
	pauseMu sync.Mutex
	pauseCh chan struct{} // 非 nil 表示暂停中，close 即恢复
)

// Pause 暂停所有传输 (在下一个分片/分块边界生效)
func Pause() {
	pauseMu.Lock()
	defer pauseMu.Unlock()
	if pauseCh == nil {
		pauseCh = make(chan struct{})
	}
}

// Resume 恢复所有传输
func Resume() {
	pauseMu.Lock()
	defer pauseMu.Unlock()
	if pauseCh != nil {
		close(pauseCh)
		pauseCh = nil
	}
}

// waitResume 暂停中就阻塞到恢复或 ctx 取消
func waitResume(ctx context.Context) error {
	pauseMu.Lock()
	ch := pauseCh
	pauseMu.Unlock()

	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
