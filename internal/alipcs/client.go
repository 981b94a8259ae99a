package alipcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// BaseURL 阿里云盘 API 地址
	BaseURL = "https://api.aliyundrive.com"

	// AppID 网页版的应用 ID，create_session 签名时使用
	AppID = "5dde4e1bdf9e4966b387ba58f4b3fdc3"

	// DefaultUserAgent 伪装成浏览器，防止被屏蔽
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_14_6) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/77.0.3865.75 Safari/537.36"

	// rateLimitBackoff 被限流后的固定退避时长
	rateLimitBackoff = 10 * time.Second
)

// API 节点路径 (POST JSON)
const (
	nodeRefresh           = "token/refresh"
	nodeCreateSession     = "users/v1/users/device/create_session"
	nodeFileList          = "adrive/v3/file/list"
	nodeMeta              = "v2/file/get"
	nodeSearch            = "adrive/v3/file/search"
	nodeDownloadURL       = "v2/file/get_download_url"
	nodeCreateWithFolders = "adrive/v2/file/createWithFolders"
	nodeGetUploadURL      = "v2/file/get_upload_url"
	nodeUploadComplete    = "v2/file/complete"
	nodeBatch             = "v3/batch"
	nodeUpdate            = "v3/file/update"
	nodeShareCreate       = "adrive/v2/share_link/create"
	nodeShareToken        = "v2/share_link/get_share_token"
	nodeSharedInfo        = "adrive/v3/share_link/get_share_by_anonymous"
	nodeSharedList        = "adrive/v3/share_link/list"
	nodeSharedDownloadURL = "v2/file/get_share_link_download_url"
	nodePersonalInfo      = "v2/databox/get_personal_info"
	nodeUser              = "v2/user/get"
)

// Credential 一个账号的完整凭证，刷新后需要持久化
type Credential struct {
	RefreshToken   string `json:"refresh_token"`
	AccessToken    string `json:"access_token"`
	TokenType      string `json:"token_type"`
	ExpireTime     int64  `json:"expire_time"` // Unix 秒
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	NickName       string `json:"nick_name"`
	DeviceID       string `json:"device_id"`
	DefaultDriveID string `json:"default_drive_id"`
	Role           string `json:"role"`
	Status         string `json:"status"`
}

// Options 初始化参数
type Options struct {
	Credential Credential

	UserAgent string
	BaseURL   string // 留空用官方地址，测试时指向 httptest 服务

	// OnCredentialUpdate 刷新成功后的回调，调用方负责落盘
	OnCredentialUpdate func(*Credential)

	// ShareTokens 分享令牌缓存，留空时自动创建独立实例
	// 显式注入而不是挂在包级变量上，避免实例间互相干扰
	ShareTokens *ShareTokenCache
}

// Client 阿里云盘 HTTP 客户端，所有接口走 POST JSON
type Client struct {
	opts       *Options
	httpClient *http.Client

	cred        Credential
	signature   string
	nonce       int
	shareTokens *ShareTokenCache
}

// NewClient 创建客户端
func NewClient(opts *Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	shareTokens := opts.ShareTokens
	if shareTokens == nil {
		shareTokens = NewShareTokenCache()
	}
	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		cred:        opts.Credential,
		shareTokens: shareTokens,
	}
}

// Credential 返回当前凭证的副本
func (c *Client) Credential() Credential {
	refreshMu.Lock()
	defer refreshMu.Unlock()
	return c.cred
}

// DriveID 当前账号的默认 drive
func (c *Client) DriveID() string {
	return c.Credential().DefaultDriveID
}

// AccessToken 返回有效的 access token，必要时先刷新
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if err := c.ensureToken(ctx); err != nil {
		return "", err
	}
	return c.Credential().AccessToken, nil
}

// callOptions 一次调用的附加要求
// 需要命中 ShareLinkTokenInvalid 重试的调用点必须显式填 shareID，
// 由调用点自己声明如何失效自己的分享令牌
type callOptions struct {
	shareID      string            // 非空时附带 x-share-token 头
	withDevice   bool              // 附带 x-device-id / x-signature 头
	noAuth       bool              // 刷新 token 本身的调用不带 Authorization
	okCode       string            // 该错误码视作预期结果放行 (如 PreHashMatched)
	extraHeaders map[string]string // 额外请求头 (create_session 握手用)
}

// apiResponse 所有响应外壳都内嵌 errorBody
type apiResponse interface {
	errCode() string
	errMessage() string
	resetError()
}

func (e *errorBody) errCode() string    { return e.Code }
func (e *errorBody) errMessage() string { return e.Message }

// resetError 清掉上一次尝试残留的错误码
// json.Unmarshal 不会清零新 JSON 里缺席的字段，成功响应不带 code，
// 重试前不清会把第一次的错误码误当成重试结果
func (e *errorBody) resetError() { e.Code, e.Message = "", "" }

// call 带自动重试的 API 调用
// 一类可自愈的错误码就地处理后重试一次：token 过期刷新、
// 分享令牌过期失效缓存、设备签名失效重建会话、限流退避
func (c *Client) call(ctx context.Context, node string, reqBody any, out apiResponse, opts callOptions) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		out.resetError()
		raw, err := c.doOnce(ctx, node, reqBody, out, opts)
		if err != nil {
			return err // 网络层错误直接交给上层
		}

		code := out.errCode()
		if code == "" || (opts.okCode != "" && code == opts.okCode) {
			return nil
		}

		lastErr = &Error{Code: code, Message: out.errMessage(), Body: string(raw)}

		switch code {
		case codeAccessTokenInvalid:
			slog.Debug("access token 失效，刷新后重试", "node", node)
			if err := c.Refresh(ctx); err != nil {
				return err
			}
			continue
		case codeShareTokenInvalid:
			if opts.shareID == "" {
				return lastErr
			}
			slog.Debug("分享令牌失效，清除缓存后重试", "share_id", opts.shareID)
			c.shareTokens.Expire(opts.shareID)
			continue
		case codeDeviceSignatureBad:
			slog.Debug("设备签名失效，重建会话后重试", "node", node)
			c.clearSignature()
			continue
		case codeTooManyRequests:
			slog.Warn("请求被限流，退避后重试", "node", node, "backoff", rateLimitBackoff)
			select {
			case <-time.After(rateLimitBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		return lastErr
	}
	return lastErr
}

// doOnce 发送一次请求并解析 JSON 响应，返回原始响应体供错误诊断用
func (c *Client) doOnce(ctx context.Context, node string, reqBody any, out apiResponse, opts callOptions) ([]byte, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/"+node, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	if !opts.noAuth {
		if err := c.ensureToken(ctx); err != nil {
			return nil, err
		}
		cred := c.Credential()
		tokenType := cred.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+cred.AccessToken)
	}

	if opts.withDevice {
		sign, err := c.ensureSignature(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-device-id", c.Credential().DeviceID)
		req.Header.Set("x-signature", sign)
	}

	if opts.shareID != "" {
		token, err := c.ShareToken(ctx, opts.shareID)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-share-token", token)
	}

	for k, v := range opts.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("解析响应失败 (node=%s, status=%d): %w", node, resp.StatusCode, err)
	}
	return raw, nil
}
