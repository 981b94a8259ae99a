package storage

import (
	"time"

	"alipcs/internal/alipcs"
)

// Account 一个已登录的云盘账号
// 存入数据库时会序列化为 JSON
type Account struct {
	// 账号别名 (作为数据库的 Key，这里也存一份冗余方便反序列化)
	Name string `json:"name"`

	// 凭据：refresh token 换来的 access token 会被客户端
	// 刷新，刷新后通过回调写回这里
	Credential alipcs.Credential `json:"credential"`

	// 用户昵称/ID，登录时抓一次留作展示
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`

	// 最后一次使用时间 (Unix Nano)
	LastUsed int64 `json:"last_used"`
}

// LastUsedTime 辅助方法：转为 Go Time 对象
func (a *Account) LastUsedTime() time.Time {
	return time.Unix(0, a.LastUsed)
}

// ShareBookmark 收藏的分享链接
// 转存常用分享前先存一条，免得每次都重新输链接和提取码
type ShareBookmark struct {
	ShareID  string `json:"share_id"`
	URL      string `json:"url"`
	Password string `json:"password"`
	Note     string `json:"note"`

	// 收藏时间 (Unix Nano)
	CreatedAt int64 `json:"created_at"`
}
