package alipcs

import (
	"net/url"
	"strconv"
	"time"
)

// CheckNameMode 同名文件处理方式
// overwrite: 直接覆盖
// auto_rename: 自动换一个随机名称
// refuse: 不创建，返回已存在
// ignore: 允许重名创建
type CheckNameMode = string

const (
	CheckNameOverwrite  CheckNameMode = "overwrite"
	CheckNameAutoRename CheckNameMode = "auto_rename"
	CheckNameRefuse     CheckNameMode = "refuse"
	CheckNameIgnore     CheckNameMode = "ignore"
)

// RemoteFile 云盘上的一个文件或目录节点
// Path 不是服务端下发的，由调用方 (PathTree 遍历) 补齐
type RemoteFile struct {
	FileID       string
	Name         string
	ParentFileID string
	Type         string // "file" | "folder"
	IsDir        bool
	IsFile       bool
	Size         int64
	Path         string

	CreatedAt int64 // Unix 秒
	UpdatedAt int64

	ContentHash     string
	ContentHashName string // 一般是 "sha1"
	DriveID         string
	UploadID        string

	DownloadURL string
}

// RootFile 虚拟根节点，file_id 固定为 "root"
// 根节点没有 meta 信息，不能对它调用 Meta
func RootFile() *RemoteFile {
	return &RemoteFile{
		FileID:       "root",
		Name:         "",
		ParentFileID: "root",
		Type:         "folder",
		IsDir:        true,
		Path:         "/",
	}
}

// IsRoot 是否为虚拟根节点
func (f *RemoteFile) IsRoot() bool {
	return f.FileID == "root"
}

// DownloadURLExpired 判断下载直链是否已过期
// 直链的过期时间编码在 URL 的 x-oss-expires 查询参数里 (Unix 秒)，
// 留 5 秒余量，临近过期也视为已过期
func (f *RemoteFile) DownloadURLExpired() bool {
	return urlExpired(f.DownloadURL, 5*time.Second)
}

func urlExpired(rawURL string, margin time.Duration) bool {
	if rawURL == "" {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	expires := u.Query().Get("x-oss-expires")
	if expires == "" {
		expires = u.Query().Get("oss-expires")
	}
	if expires == "" {
		return true
	}
	sec, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return true
	}
	return time.Now().After(time.Unix(sec, 0).Add(-margin))
}

// fileItem 服务端下发的文件条目 (list/meta/search 共用)
type fileItem struct {
	errorBody

	FileID          string `json:"file_id"`
	Name            string `json:"name"`
	ParentFileID    string `json:"parent_file_id"`
	Type            string `json:"type"`
	Size            int64  `json:"size"`
	CreatedAt       string `json:"created_at"` // ISO 8601
	UpdatedAt       string `json:"updated_at"`
	ContentHash     string `json:"content_hash"`
	ContentHashName string `json:"content_hash_name"`
	DriveID         string `json:"drive_id"`
	UploadID        string `json:"upload_id"`
	DownloadURL     string `json:"download_url"`
	URL             string `json:"url"`
}

// toRemoteFile 把 wire 结构转为内部模型
func (it *fileItem) toRemoteFile() *RemoteFile {
	downloadURL := it.DownloadURL
	if downloadURL == "" {
		downloadURL = it.URL
	}
	return &RemoteFile{
		FileID:          it.FileID,
		Name:            it.Name,
		ParentFileID:    it.ParentFileID,
		Type:            it.Type,
		IsDir:           it.Type == "folder",
		IsFile:          it.Type == "file",
		Size:            it.Size,
		CreatedAt:       parseISO8601(it.CreatedAt),
		UpdatedAt:       parseISO8601(it.UpdatedAt),
		ContentHash:     it.ContentHash,
		ContentHashName: it.ContentHashName,
		DriveID:         it.DriveID,
		UploadID:        it.UploadID,
		DownloadURL:     downloadURL,
	}
}

// parseISO8601 服务端时间格式形如 "2021-07-07T11:13:23.521Z"
// 解析失败返回 0，调用方不依赖精确时间
func parseISO8601(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// errorBody 所有响应都可能携带的错误外壳
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// refreshResponse token/refresh 的响应
type refreshResponse struct {
	errorBody

	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	NickName       string `json:"nick_name"`
	RefreshToken   string `json:"refresh_token"`
	AccessToken    string `json:"access_token"`
	TokenType      string `json:"token_type"`
	ExpireTime     string `json:"expire_time"` // ISO 8601
	DeviceID       string `json:"device_id"`
	DefaultDriveID string `json:"default_drive_id"`
	Role           string `json:"role"`
	Status         string `json:"status"`
}

// createSessionResponse device/create_session 的响应
type createSessionResponse struct {
	errorBody

	Result  bool `json:"result"`
	Success bool `json:"success"`
}

// listResponse adrive/v3/file/list 与 search 的响应
type listResponse struct {
	errorBody

	Items      []*fileItem `json:"items"`
	NextMarker string      `json:"next_marker"`
}

// downloadURLResponse v2/file/get_download_url 的响应
type downloadURLResponse struct {
	errorBody

	URL        string `json:"url"`
	Size       int64  `json:"size"`
	Expiration string `json:"expiration"`
}

// SliceURL 一个分片的预签名上传地址
type SliceURL struct {
	PartNumber  int    `json:"part_number"`
	UploadURL   string `json:"upload_url"`
	ContentType string `json:"content_type"`
}

// Expired 预签名地址是否过期 (同样看 x-oss-expires 参数)
func (s *SliceURL) Expired() bool {
	return urlExpired(s.UploadURL, 5*time.Second)
}

// UploadSession 一次上传会话 (createWithFolders 的返回)
// 分片地址个数与 part_number 一一对应，单个地址会在中途过期，
// 过期后用 upload_id 重新换一批
type UploadSession struct {
	errorBody

	FileID       string      `json:"file_id"`
	FileName     string      `json:"file_name"`
	ParentFileID string      `json:"parent_file_id"`
	Type         string      `json:"type"`
	UploadID     string      `json:"upload_id"`
	RapidUpload  bool        `json:"rapid_upload"`
	PreHash      string      `json:"pre_hash"`
	PartInfoList []*SliceURL `json:"part_info_list"`
}

// CanRapidUpload 预上传响应是否允许走秒传
// 服务端对 pre_hash 命中时返回 PreHashMatched (或回显 pre_hash)
func (s *UploadSession) CanRapidUpload() bool {
	return s.Code == codePreHashMatched || s.PreHash != ""
}

// UploadURLs 按分片顺序取出所有预签名地址
func (s *UploadSession) UploadURLs() []string {
	urls := make([]string, 0, len(s.PartInfoList))
	for _, p := range s.PartInfoList {
		urls = append(urls, p.UploadURL)
	}
	return urls
}

// partInfo 请求体里的分片声明，只带序号
type partInfo struct {
	PartNumber int `json:"part_number"`
}

func partInfoList(partNumber int) []partInfo {
	list := make([]partInfo, partNumber)
	for i := range list {
		list[i].PartNumber = i + 1
	}
	return list
}

// createFileRequest adrive/v2/file/createWithFolders 的请求体
type createFileRequest struct {
	DriveID         string     `json:"drive_id"`
	PartInfoList    []partInfo `json:"part_info_list,omitempty"`
	ParentFileID    string     `json:"parent_file_id"`
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	CheckNameMode   string     `json:"check_name_mode"`
	Size            int64      `json:"size,omitempty"`
	PreHash         string     `json:"pre_hash,omitempty"`
	ContentHash     string     `json:"content_hash,omitempty"`
	ContentHashName string     `json:"content_hash_name,omitempty"`
	ProofCode       string     `json:"proof_code,omitempty"`
	ProofVersion    string     `json:"proof_version,omitempty"`
}

// batchRequest v3/batch 的单个子请求
type batchRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// batchResponse v3/batch 的响应
type batchResponse struct {
	errorBody

	Responses []struct {
		ID     string    `json:"id"`
		Status int       `json:"status"`
		Body   *fileItem `json:"body"`
	} `json:"responses"`
}

// SharedLink 用户自己创建的分享链接
type SharedLink struct {
	ShareID    string
	ShareName  string
	ShareURL   string
	SharePwd   string
	FileIDList []string
	Expiration int64 // Unix 秒，0 表示永久
	CreatedAt  int64
}

// sharedLinkItem 分享链接的 wire 结构
type sharedLinkItem struct {
	errorBody

	ShareID    string   `json:"share_id"`
	ShareName  string   `json:"share_name"`
	ShareURL   string   `json:"share_url"`
	SharePwd   string   `json:"share_pwd"`
	FileIDList []string `json:"file_id_list"`
	Expiration string   `json:"expiration"`
	CreatedAt  string   `json:"created_at"`
}

func (it *sharedLinkItem) toSharedLink() *SharedLink {
	return &SharedLink{
		ShareID:    it.ShareID,
		ShareName:  it.ShareName,
		ShareURL:   it.ShareURL,
		SharePwd:   it.SharePwd,
		FileIDList: it.FileIDList,
		Expiration: parseISO8601(it.Expiration),
		CreatedAt:  parseISO8601(it.CreatedAt),
	}
}

// sharedListResponse adrive/v3/share_link/list 的响应
type sharedListResponse struct {
	errorBody

	Items      []*sharedLinkItem `json:"items"`
	NextMarker string            `json:"next_marker"`
}

// shareTokenResponse v2/share_link/get_share_token 的响应
type shareTokenResponse struct {
	errorBody

	ShareToken string `json:"share_token"`
	ExpireTime string `json:"expire_time"`
	ExpiresIn  int64  `json:"expires_in"`
}

// User 当前登录用户信息
type User struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	NickName  string `json:"nick_name"`
	Phone     string `json:"phone"`
	TotalSize int64  `json:"total_size"`
	UsedSize  int64  `json:"used_size"`
}

// userInfoResponse v2/databox/get_personal_info 的响应
type userInfoResponse struct {
	errorBody

	PersonalSpaceInfo struct {
		TotalSize int64 `json:"total_size"`
		UsedSize  int64 `json:"used_size"`
	} `json:"personal_space_info"`
}

// userResponse v2/user/get 的响应
type userResponse struct {
	errorBody

	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	NickName string `json:"nick_name"`
	Phone    string `json:"phone"`
}
