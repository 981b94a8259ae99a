package alipcs

import (
	"context"
	"sync"
	"time"
)

// shareAuth 单个分享的令牌与口令
type shareAuth struct {
	token    string
	password string
	expireAt time.Time
}

func (a *shareAuth) expired() bool {
	return a.token == "" || time.Now().After(a.expireAt)
}

// ShareTokenCache 分享令牌缓存
// 显式对象、由调用方注入并控制生命周期，不做成包级共享状态，
// 并发使用和测试时各 Client 互不干扰
type ShareTokenCache struct {
	mu    sync.Mutex
	auths map[string]*shareAuth
}

// NewShareTokenCache 创建空缓存
func NewShareTokenCache() *ShareTokenCache {
	return &ShareTokenCache{auths: make(map[string]*shareAuth)}
}

// SetPassword 预置某个分享的提取码，首次取令牌时使用
func (s *ShareTokenCache) SetPassword(shareID, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auths[shareID]
	if a == nil {
		a = &shareAuth{}
		s.auths[shareID] = a
	}
	a.password = password
}

// Expire 使某个分享的令牌立即失效 (保留提取码以便重取)
func (s *ShareTokenCache) Expire(shareID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.auths[shareID]; a != nil {
		a.token = ""
		a.expireAt = time.Time{}
	}
}

// get 取未过期的令牌
func (s *ShareTokenCache) get(shareID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auths[shareID]
	if a == nil || a.expired() {
		return "", false
	}
	return a.token, true
}

// password 取预置的提取码
func (s *ShareTokenCache) password(shareID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.auths[shareID]; a != nil {
		return a.password
	}
	return ""
}

// put 存入新令牌
func (s *ShareTokenCache) put(shareID, token string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auths[shareID]
	if a == nil {
		a = &shareAuth{}
		s.auths[shareID] = a
	}
	a.token = token
	a.expireAt = time.Now().Add(ttl)
}

// SetSharePassword 预置某个分享的提取码
func (c *Client) SetSharePassword(shareID, password string) {
	c.shareTokens.SetPassword(shareID, password)
}

// ShareToken 获取某个分享的访问令牌，缓存未过期时不发请求
func (c *Client) ShareToken(ctx context.Context, shareID string) (string, error) {
	if token, ok := c.shareTokens.get(shareID); ok {
		return token, nil
	}

	reqBody := map[string]string{
		"share_id":  shareID,
		"share_pwd": c.shareTokens.password(shareID),
	}

	// 不走 call 的重试循环：ShareLinkTokenInvalid 的重试要依赖这里写入的新令牌
	var resp shareTokenResponse
	if _, err := c.doOnce(ctx, nodeShareToken, reqBody, &resp, callOptions{}); err != nil {
		return "", err
	}
	if resp.Code != "" {
		return "", &Error{Code: resp.Code, Message: resp.Message}
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	c.shareTokens.put(shareID, resp.ShareToken, ttl)
	return resp.ShareToken, nil
}

// CreateShare 把一批文件创建为分享链接
// period 为过期天数，0 表示永久
func (c *Client) CreateShare(ctx context.Context, fileIDs []string, password string, period int, description string) (*SharedLink, error) {
	expiration := ""
	if period > 0 {
		expiration = time.Now().
			Add(time.Duration(period) * 24 * time.Hour).
			UTC().Format("2006-01-02T15:04:05.000Z")
	}

	reqBody := map[string]any{
		"drive_id":     c.DriveID(),
		"expiration":   expiration,
		"file_id_list": fileIDs,
		"share_pwd":    password,
		"description":  description,
	}

	var resp sharedLinkItem
	if err := c.call(ctx, nodeShareCreate, reqBody, &resp, callOptions{}); err != nil {
		return nil, err
	}
	return resp.toSharedLink(), nil
}

// ListShared 列出自己创建的分享链接 (一页)
func (c *Client) ListShared(ctx context.Context, marker string) ([]*SharedLink, string, error) {
	reqBody := map[string]any{
		"creator":          c.Credential().UserID,
		"include_canceled": false,
		"order_by":         "created_at",
		"order_direction":  "DESC",
		"marker":           marker,
	}

	var resp sharedListResponse
	if err := c.call(ctx, nodeSharedList, reqBody, &resp, callOptions{}); err != nil {
		return nil, "", err
	}

	links := make([]*SharedLink, 0, len(resp.Items))
	for _, it := range resp.Items {
		links = append(links, it.toSharedLink())
	}
	return links, resp.NextMarker, nil
}

// CancelShared 取消一批分享链接
func (c *Client) CancelShared(ctx context.Context, shareIDs []string) error {
	reqs := make([]batchRequest, 0, len(shareIDs))
	for _, id := range shareIDs {
		reqs = append(reqs, batchRequest{
			ID:      id,
			Method:  "POST",
			URL:     "/share_link/cancel",
			Headers: jsonHeaders,
			Body:    map[string]any{"share_id": id},
		})
	}
	_, err := c.batchOperate(ctx, reqs, "")
	return err
}

// SharedInfo 匿名获取分享链接信息 (名称、根文件列表)
func (c *Client) SharedInfo(ctx context.Context, shareID string) (*SharedLink, error) {
	reqBody := map[string]string{"share_id": shareID}

	var resp sharedLinkItem
	if err := c.call(ctx, nodeSharedInfo, reqBody, &resp, callOptions{}); err != nil {
		return nil, err
	}
	link := resp.toSharedLink()
	link.ShareID = shareID
	return link, nil
}
