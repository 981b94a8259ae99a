package alipcs

import (
	"errors"
	"fmt"
	"strings"
)

// Error 阿里云盘 API 返回的业务错误
// Code 是服务端的错误码字符串 (如 "NotFound.File"、"AccessTokenInvalid")，
// Message 是服务端附带的说明，Body 保留原始响应用于排查
type Error struct {
	Code    string
	Message string
	Body    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("alipan api error: code=%s msg=%s", e.Code, e.Message)
}

// IntegrityError 上传完成后本地与云端 SHA1 不一致
// 属于致命错误，不重试
type IntegrityError struct {
	Path       string
	LocalHash  string
	RemoteHash string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("文件校验失败 %s: 本地SHA1(%s) != 云端SHA1(%s)", e.Path, e.LocalHash, e.RemoteHash)
}

// ErrorCode 提取错误中的服务端错误码，非 API 错误返回空串
func ErrorCode(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsNotFound 判断是否为 NotFound.* 类错误 (文件/目录不存在)
// 上层封装会把这类错误转换为"不存在"而不是抛错
func IsNotFound(err error) bool {
	return strings.HasPrefix(ErrorCode(err), "NotFound")
}

// IsRapidUploadMiss 秒传探测未命中
// 服务端没有该内容的 SHA1 记录，属于正常的否定结果，回落到分片上传
func IsRapidUploadMiss(err error) bool {
	code := ErrorCode(err)
	return code == "NotFound.FileHash" || code == "InvalidRapidProof"
}

// 以下错误码在 client 的重试循环中自动处理
const (
	codeAccessTokenInvalid = "AccessTokenInvalid"
	codeShareTokenInvalid  = "ShareLinkTokenInvalid"
	codeDeviceSignatureBad = "DeviceSessionSignatureInvalid"
	codeTooManyRequests    = "TooManyRequests"
	codePreHashMatched     = "PreHashMatched"
	codeAlreadyExist       = "AlreadyExist.File"
)
