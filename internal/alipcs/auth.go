package alipcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// refreshMu 全局刷新锁
// 同进程内所有 Client 共用，避免多个调用方并发触发重复刷新
var refreshMu sync.Mutex

// tokenRefreshMargin 提前量：距过期不足 1 小时就主动刷新
const tokenRefreshMargin = time.Hour

// ensureToken 确保 access token 有效，必要时刷新
func (c *Client) ensureToken(ctx context.Context) error {
	refreshMu.Lock()
	valid := c.cred.AccessToken != "" &&
		time.Now().Unix() < c.cred.ExpireTime-int64(tokenRefreshMargin/time.Second)
	refreshMu.Unlock()
	if valid {
		return nil
	}
	return c.Refresh(ctx)
}

// Refresh 用 refresh token 换取新的 access token
// 全程持有全局锁，串行化并发刷新；进锁后先复查，别人刷完就直接返回
func (c *Client) Refresh(ctx context.Context) error {
	refreshMu.Lock()
	defer refreshMu.Unlock()

	if c.cred.AccessToken != "" &&
		time.Now().Unix() < c.cred.ExpireTime-int64(tokenRefreshMargin/time.Second) {
		return nil
	}

	var resp refreshResponse
	reqBody := map[string]string{"refresh_token": c.cred.RefreshToken}
	if _, err := c.doOnce(ctx, nodeRefresh, reqBody, &resp, callOptions{noAuth: true}); err != nil {
		return fmt.Errorf("刷新 token 请求失败: %w", err)
	}
	if resp.Code != "" {
		return &Error{Code: resp.Code, Message: resp.Message}
	}

	c.cred.RefreshToken = resp.RefreshToken // refresh token 也可能轮换
	c.cred.AccessToken = resp.AccessToken
	c.cred.TokenType = resp.TokenType
	c.cred.ExpireTime = parseISO8601(resp.ExpireTime)
	c.cred.UserID = resp.UserID
	c.cred.UserName = resp.UserName
	c.cred.NickName = resp.NickName
	c.cred.DeviceID = resp.DeviceID
	c.cred.DefaultDriveID = resp.DefaultDriveID
	c.cred.Role = resp.Role
	c.cred.Status = resp.Status

	slog.Debug("token 已刷新",
		"user_id", c.cred.UserID,
		"expire_time", time.Unix(c.cred.ExpireTime, 0),
	)

	// 回调通知调用方持久化新凭证
	if c.opts.OnCredentialUpdate != nil {
		cred := c.cred
		c.opts.OnCredentialUpdate(&cred)
	}
	return nil
}

// signMu 保护设备签名的幂等创建：并发调用只有一个真正去握手
var signMu sync.Mutex

// clearSignature 清除缓存的设备签名，下次调用会重建会话
func (c *Client) clearSignature() {
	signMu.Lock()
	c.signature = ""
	signMu.Unlock()
}

// ensureSignature 返回有效的设备签名，必要时先做 create_session 握手
func (c *Client) ensureSignature(ctx context.Context) (string, error) {
	signMu.Lock()
	defer signMu.Unlock()

	if c.signature != "" {
		return c.signature, nil
	}
	if err := c.createSession(ctx); err != nil {
		return "", err
	}
	return c.signature, nil
}

// createSession 设备会话握手
// 生成 secp256k1 临时密钥对，对 "{app_id}:{device_id}:{user_id}:{nonce}"
// 签名，携带公钥注册会话；成功后该签名随 x-signature 头复用
func (c *Client) createSession(ctx context.Context) error {
	cred := c.Credential()
	if cred.DeviceID == "" || cred.UserID == "" {
		return fmt.Errorf("创建设备会话缺少 device_id/user_id，请先刷新 token")
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("生成 secp256k1 密钥失败: %w", err)
	}

	message := fmt.Sprintf("%s:%s:%s:%d", AppID, cred.DeviceID, cred.UserID, c.nonce)
	digest := sha256.Sum256([]byte(message))
	sig := secpecdsa.Sign(priv, digest[:])
	r := sig.R()
	s := sig.S()
	rb := r.Bytes()
	sb := s.Bytes()
	// 签名末尾补 "00"，服务端的约定
	sign := hex.EncodeToString(append(rb[:], sb[:]...)) + "00"

	reqBody := map[string]string{
		"deviceName": "Chrome浏览器",
		"modelName":  "Windows网页版",
		"pubKey":     hex.EncodeToString(priv.PubKey().SerializeUncompressed()),
	}

	// 握手请求本身就带上新签名头
	var resp createSessionResponse
	raw, err := c.doOnce(ctx, nodeCreateSession, reqBody, &resp, callOptions{
		extraHeaders: map[string]string{
			"x-device-id": cred.DeviceID,
			"x-signature": sign,
		},
	})
	if err != nil {
		return fmt.Errorf("create_session 请求失败: %w", err)
	}
	if resp.Code != "" {
		return &Error{Code: resp.Code, Message: resp.Message, Body: string(raw)}
	}
	if !resp.Result || !resp.Success {
		return fmt.Errorf("create_session 被拒绝: %s", string(raw))
	}

	c.signature = sign
	c.nonce++
	slog.Debug("设备会话已建立", "device_id", cred.DeviceID, "nonce", c.nonce)
	return nil
}
