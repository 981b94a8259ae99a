package alipcs

import (
	"context"
	"fmt"
)

// ListOptions 目录列举参数
type ListOptions struct {
	ShareID      string // 非空时列举分享内容
	OrderBy      string // name | updated_at | size
	Desc         bool
	Limit        int    // 单页条数，服务端上限 200
	Marker       string // 上一页返回的 next_marker，原样带回
	URLExpireSec int
}

// List 列出目录下的一页文件
// 返回 next_marker，为空表示没有下一页
func (c *Client) List(ctx context.Context, fileID string, opts ListOptions) ([]*RemoteFile, string, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = "name"
	}
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}
	urlExpireSec := opts.URLExpireSec
	if urlExpireSec <= 0 {
		urlExpireSec = 7200
	}

	reqBody := map[string]any{
		"parent_file_id":  fileID,
		"fields":          "*",
		"limit":           limit,
		"order_by":        orderBy,
		"order_direction": direction,
		"url_expire_sec":  urlExpireSec,
		"marker":          opts.Marker,
	}
	callOpts := callOptions{withDevice: true}
	if opts.ShareID != "" {
		reqBody["share_id"] = opts.ShareID
		callOpts.shareID = opts.ShareID
	} else {
		reqBody["drive_id"] = c.DriveID()
	}

	var resp listResponse
	if err := c.call(ctx, nodeFileList, reqBody, &resp, callOpts); err != nil {
		return nil, "", err
	}

	files := make([]*RemoteFile, 0, len(resp.Items))
	for _, it := range resp.Items {
		files = append(files, it.toRemoteFile())
	}
	return files, resp.NextMarker, nil
}

// listEach 逐条遍历目录，自动翻页
// fn 返回 true 表示提前终止 (当前页剩余条目不再回调，后续页不再拉取)
func (c *Client) listEach(ctx context.Context, fileID, shareID string, fn func(*RemoteFile) bool) error {
	marker := ""
	for {
		files, next, err := c.List(ctx, fileID, ListOptions{ShareID: shareID, Marker: marker})
		if err != nil {
			return err
		}
		for _, f := range files {
			if fn(f) {
				return nil
			}
		}
		if next == "" {
			return nil
		}
		marker = next
	}
}

// Meta 获取单个文件的元信息
// 注意: 虚拟根节点 "root" 没有 meta 信息
func (c *Client) Meta(ctx context.Context, fileID string, shareID string) (*RemoteFile, error) {
	if fileID == "root" {
		return nil, fmt.Errorf(`"root" 没有 meta 信息`)
	}

	reqBody := map[string]any{
		"file_id": fileID,
		"fields":  "*",
	}
	callOpts := callOptions{withDevice: true}
	if shareID != "" {
		reqBody["share_id"] = shareID
		callOpts.shareID = shareID
	} else {
		reqBody["drive_id"] = c.DriveID()
	}

	var resp fileItem
	if err := c.call(ctx, nodeMeta, reqBody, &resp, callOpts); err != nil {
		return nil, err
	}
	return resp.toRemoteFile(), nil
}

// Search 按关键字搜索文件名，返回一页结果和 next_marker
func (c *Client) Search(ctx context.Context, keyword string, marker string) ([]*RemoteFile, string, error) {
	reqBody := map[string]any{
		"drive_id": c.DriveID(),
		"limit":    100,
		"order_by": "name ASC",
		"query":    fmt.Sprintf(`name match "%s"`, keyword),
		"marker":   marker,
	}

	var resp listResponse
	if err := c.call(ctx, nodeSearch, reqBody, &resp, callOptions{}); err != nil {
		return nil, "", err
	}

	files := make([]*RemoteFile, 0, len(resp.Items))
	for _, it := range resp.Items {
		files = append(files, it.toRemoteFile())
	}
	return files, resp.NextMarker, nil
}

// DownloadLink 获取文件的下载直链
// 直链有效期短 (x-oss-expires)，临近过期需要重新获取
func (c *Client) DownloadLink(ctx context.Context, fileID string) (string, int64, error) {
	reqBody := map[string]any{
		"drive_id": c.DriveID(),
		"file_id":  fileID,
	}

	var resp downloadURLResponse
	if err := c.call(ctx, nodeDownloadURL, reqBody, &resp, callOptions{withDevice: true}); err != nil {
		return "", 0, err
	}
	return resp.URL, resp.Size, nil
}

// SharedDownloadLink 获取分享文件的下载直链
func (c *Client) SharedDownloadLink(ctx context.Context, fileID, shareID string) (string, error) {
	reqBody := map[string]any{
		"expire_sec": 600,
		"file_id":    fileID,
		"share_id":   shareID,
	}

	var resp downloadURLResponse
	if err := c.call(ctx, nodeSharedDownloadURL, reqBody, &resp, callOptions{shareID: shareID}); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// CreateFileOptions 预创建文件 (上传会话) 的参数
type CreateFileOptions struct {
	Name          string
	DirID         string // 目标目录 file_id
	Size          int64
	PreHash       string // 前 1KiB 的 SHA1，秒传探测用
	ContentHash   string // 全文 SHA1，秒传用
	ProofCode     string // 持有证明，秒传用
	PartNumber    int    // 分片数，必须由调用方算好
	CheckNameMode CheckNameMode
}

// CreateFile 预创建文件，返回上传会话 (含每个分片的预签名地址)
// 秒传命中时 RapidUpload 为 true，不需要再传任何字节
func (c *Client) CreateFile(ctx context.Context, opts CreateFileOptions) (*UploadSession, error) {
	if opts.PartNumber <= 0 {
		opts.PartNumber = 1
	}
	if opts.CheckNameMode == "" {
		opts.CheckNameMode = CheckNameAutoRename
	}

	reqBody := &createFileRequest{
		DriveID:       c.DriveID(),
		PartInfoList:  partInfoList(opts.PartNumber),
		ParentFileID:  opts.DirID,
		Name:          opts.Name,
		Type:          "file",
		CheckNameMode: opts.CheckNameMode,
		Size:          opts.Size,
		PreHash:       opts.PreHash,
		ContentHash:   opts.ContentHash,
	}
	if opts.ContentHash != "" {
		reqBody.ContentHashName = "sha1"
		reqBody.ProofCode = opts.ProofCode
		reqBody.ProofVersion = "v1"
	}

	// PreHashMatched 是预期结果：说明可以走秒传，不能当错误抛
	var resp UploadSession
	if err := c.call(ctx, nodeCreateWithFolders, reqBody, &resp, callOptions{okCode: codePreHashMatched}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RapidUploadFile 秒传：携带全文 SHA1 和持有证明创建文件
// 服务端没有对应内容时返回未命中错误 (IsRapidUploadMiss 判定)，属于正常回落
func (c *Client) RapidUploadFile(ctx context.Context, name, dirID string, size int64, contentHash, proofCode string, mode CheckNameMode) (*UploadSession, error) {
	session, err := c.CreateFile(ctx, CreateFileOptions{
		Name:          name,
		DirID:         dirID,
		Size:          size,
		ContentHash:   contentHash,
		ProofCode:     proofCode,
		CheckNameMode: mode,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetUploadURLs 用 upload_id 重新换一批分片预签名地址
// 分片地址在长时间上传中会过期，过期后必须整批刷新
func (c *Client) GetUploadURLs(ctx context.Context, fileID, uploadID string, partNumber int) (*UploadSession, error) {
	reqBody := map[string]any{
		"drive_id":       c.DriveID(),
		"file_id":        fileID,
		"upload_id":      uploadID,
		"part_info_list": partInfoList(partNumber),
	}

	var resp UploadSession
	if err := c.call(ctx, nodeGetUploadURL, reqBody, &resp, callOptions{}); err != nil {
		return nil, err
	}
	if resp.Code != "" {
		return nil, &Error{Code: resp.Code, Message: resp.Message}
	}
	return &resp, nil
}

// UploadComplete 所有分片确认后合并文件
// 服务端返回最终文件元信息，其中 content_hash 是权威的全文 SHA1
func (c *Client) UploadComplete(ctx context.Context, fileID, uploadID string) (*RemoteFile, error) {
	reqBody := map[string]any{
		"drive_id":  c.DriveID(),
		"file_id":   fileID,
		"upload_id": uploadID,
	}

	var resp fileItem
	if err := c.call(ctx, nodeUploadComplete, reqBody, &resp, callOptions{}); err != nil {
		return nil, err
	}
	return resp.toRemoteFile(), nil
}

// Makedir 在 dirID 下创建子目录
func (c *Client) Makedir(ctx context.Context, dirID, name string) (*RemoteFile, error) {
	reqBody := &createFileRequest{
		DriveID:       c.DriveID(),
		ParentFileID:  dirID,
		Name:          name,
		Type:          "folder",
		CheckNameMode: CheckNameRefuse,
	}

	var resp fileItem
	if err := c.call(ctx, nodeCreateWithFolders, reqBody, &resp, callOptions{}); err != nil {
		return nil, err
	}
	return resp.toRemoteFile(), nil
}

// Rename 重命名文件 (不改变所在目录)
func (c *Client) Rename(ctx context.Context, fileID, name string) (*RemoteFile, error) {
	reqBody := map[string]any{
		"check_name_mode": CheckNameRefuse,
		"drive_id":        c.DriveID(),
		"file_id":         fileID,
		"name":            name,
	}

	var resp fileItem
	if err := c.call(ctx, nodeUpdate, reqBody, &resp, callOptions{}); err != nil {
		return nil, err
	}
	return resp.toRemoteFile(), nil
}

// batchOperate 批量子请求，move/copy/trash 共用
func (c *Client) batchOperate(ctx context.Context, reqs []batchRequest, shareID string) (*batchResponse, error) {
	reqBody := map[string]any{
		"resource": "file",
		"requests": reqs,
	}

	var resp batchResponse
	if err := c.call(ctx, nodeBatch, reqBody, &resp, callOptions{shareID: shareID}); err != nil {
		return nil, err
	}
	return &resp, nil
}

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

// Move 把一批文件移动到目标目录
func (c *Client) Move(ctx context.Context, fileIDs []string, destID string) error {
	reqs := make([]batchRequest, 0, len(fileIDs))
	for _, id := range fileIDs {
		reqs = append(reqs, batchRequest{
			ID:      id,
			Method:  "POST",
			URL:     "/file/move",
			Headers: jsonHeaders,
			Body: map[string]any{
				"drive_id":          c.DriveID(),
				"to_drive_id":       c.DriveID(),
				"file_id":           id,
				"to_parent_file_id": destID,
			},
		})
	}
	_, err := c.batchOperate(ctx, reqs, "")
	return err
}

// Copy 把一批文件复制到目标目录
func (c *Client) Copy(ctx context.Context, fileIDs []string, destID string) error {
	reqs := make([]batchRequest, 0, len(fileIDs))
	for _, id := range fileIDs {
		reqs = append(reqs, batchRequest{
			ID:      id,
			Method:  "POST",
			URL:     "/file/copy",
			Headers: jsonHeaders,
			Body: map[string]any{
				"drive_id":          c.DriveID(),
				"file_id":           id,
				"to_parent_file_id": destID,
				"overwrite":         false,
				"auto_rename":       true,
			},
		})
	}
	_, err := c.batchOperate(ctx, reqs, "")
	return err
}

// Remove 把一批文件移入回收站
func (c *Client) Remove(ctx context.Context, fileIDs []string) error {
	reqs := make([]batchRequest, 0, len(fileIDs))
	for _, id := range fileIDs {
		reqs = append(reqs, batchRequest{
			ID:      id,
			Method:  "POST",
			URL:     "/recyclebin/trash",
			Headers: jsonHeaders,
			Body: map[string]any{
				"drive_id": c.DriveID(),
				"file_id":  id,
			},
		})
	}
	_, err := c.batchOperate(ctx, reqs, "")
	return err
}

// TransferSharedFiles 把分享里的文件转存到自己的目录
func (c *Client) TransferSharedFiles(ctx context.Context, shareID string, fileIDs []string, destID string) error {
	reqs := make([]batchRequest, 0, len(fileIDs))
	for _, id := range fileIDs {
		reqs = append(reqs, batchRequest{
			ID:      "0",
			Method:  "POST",
			URL:     "/file/copy",
			Headers: jsonHeaders,
			Body: map[string]any{
				"auto_rename":       true,
				"file_id":           id,
				"share_id":          shareID,
				"to_drive_id":       c.DriveID(),
				"to_parent_file_id": destID,
			},
		})
	}
	_, err := c.batchOperate(ctx, reqs, shareID)
	return err
}
