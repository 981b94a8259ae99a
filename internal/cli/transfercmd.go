package cli

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"alipcs/internal/alipcs"
	"alipcs/internal/crypto"
	"alipcs/internal/transfer"
)

// uploadCmd 上传本地文件到云盘目录
func (a *App) uploadCmd() *cobra.Command {
	var (
		sliceMB      int
		workers      int
		sliceWorkers int
		encrypt      bool
	)
	cmd := &cobra.Command{
		Use:   "upload <local-file>... <remote-dir>",
		Short: "上传本地文件到云盘目录",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			// 1. 目标目录不存在就建出来
			remoteDir := args[len(args)-1]
			dir, err := a.drive.MakedirPath(ctx, remoteDir)
			if err != nil {
				return err
			}

			// 2. 组上传参数
			var encKey []byte
			if encrypt || a.cfg.Crypto.Enable {
				encKey = a.cfg.Crypto.GetAESKey()
				if encKey == nil {
					return fmt.Errorf("开启加密必须在配置里设置 crypto.password")
				}
			}
			opts := transfer.UploadOptions{
				SliceSize:     int64(sliceMB) << 20,
				CheckNameMode: alipcs.CheckNameOverwrite,
				EncryptKey:    encKey,
				SliceWorkers:  sliceWorkers,
			}
			if opts.SliceSize <= 0 {
				opts.SliceSize = a.cfg.Transfer.SliceSize()
			}
			if opts.SliceWorkers <= 0 {
				opts.SliceWorkers = a.cfg.Transfer.SliceWorkers
			}
			if workers <= 0 {
				workers = a.cfg.Transfer.MaxConcurrent
			}

			// 3. 收集上传项
			items := make([]transfer.UploadItem, 0, len(args)-1)
			for _, local := range args[:len(args)-1] {
				name := filepath.Base(local)
				if encKey != nil && a.cfg.Crypto.EncryptFilenames {
					name, err = crypto.EncryptName(name, encKey)
					if err != nil {
						return err
					}
				}
				items = append(items, transfer.UploadItem{
					LocalPath: local,
					DirID:     dir.FileID,
					Name:      name,
				})
			}

			// 4. 单文件直接传并报进度，多文件走批量
			if len(items) == 1 {
				f, err := a.uploader.UploadFile(ctx, items[0].LocalPath, items[0].DirID, items[0].Name, opts)
				if err != nil {
					return err
				}
				fmt.Printf("已上传: %s (%s)\n", path.Join(dir.Path, f.Name), humanSize(f.Size))
				return nil
			}
			if err := a.uploader.UploadMany(ctx, items, workers, opts); err != nil {
				return err
			}
			fmt.Printf("已上传 %d 个文件到 %s\n", len(items), dir.Path)
			return nil
		},
	}
	cmd.Flags().IntVar(&sliceMB, "slice-mb", 0, "分片大小 (MiB)，0 用配置值")
	cmd.Flags().IntVar(&workers, "workers", 0, "文件并发数，0 用配置值")
	cmd.Flags().IntVar(&sliceWorkers, "slice-workers", 0, "单文件分片并发数，0 用配置值")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "加密上传 (覆盖配置开关)")
	return cmd
}

// downloadCmd 下载云盘文件到本地
func (a *App) downloadCmd() *cobra.Command {
	var (
		outDir   string
		chunkMB  int
		resume   bool
		shareURL string
		sharePwd string
	)
	cmd := &cobra.Command{
		Use:   "download <remote-path>...",
		Short: "下载云盘文件 (目录会递归)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			chunkSize := int64(chunkMB) << 20
			if chunkSize <= 0 {
				chunkSize = a.cfg.Transfer.ChunkSize()
			}

			var decKey []byte
			if a.cfg.Crypto.Enable {
				decKey = a.cfg.Crypto.GetAESKey()
			}

			// 分享下载：先换分享令牌，文件从分享的路径树里找
			shareID := ""
			if shareURL != "" {
				var err error
				shareID, err = parseShareURL(shareURL)
				if err != nil {
					return err
				}
				a.client.SetSharePassword(shareID, sharePwd)
			}

			for _, remotePath := range args {
				if err := a.downloadPath(cmd, remotePath, shareID, outDir, chunkSize, decKey, resume); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "本地输出目录")
	cmd.Flags().IntVar(&chunkMB, "chunk-mb", 0, "下载分块大小 (MiB)，0 用配置值")
	cmd.Flags().BoolVar(&resume, "continue", false, "断点续传")
	cmd.Flags().StringVar(&shareURL, "share-url", "", "从分享链接下载")
	cmd.Flags().StringVar(&sharePwd, "share-password", "", "分享提取码")
	return cmd
}

// downloadPath 下载一个路径，目录递归下潜
func (a *App) downloadPath(cmd *cobra.Command, remotePath, shareID, outDir string, chunkSize int64, decKey []byte, resume bool) error {
	ctx := cmd.Context()

	var f *alipcs.RemoteFile
	var err error
	if shareID != "" {
		f, err = a.drive.GetSharedFile(ctx, shareID, remotePath)
	} else {
		f, err = a.drive.GetFile(ctx, remotePath)
	}
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("路径不存在: %s", remotePath)
	}

	base := path.Dir(f.Path)
	walk := func(item *alipcs.RemoteFile) error {
		if item.IsDir || item.IsRoot() {
			return nil
		}
		rel, rerr := filepath.Rel(base, item.Path)
		if rerr != nil {
			rel = item.Name
		}
		return a.downloadFile(cmd, item, shareID, filepath.Join(outDir, rel), chunkSize, decKey, resume)
	}

	if !f.IsDir {
		return walk(f)
	}
	if shareID != "" {
		return fmt.Errorf("分享目录暂不支持递归下载，请指定文件路径: %s", remotePath)
	}
	return a.drive.Walk(ctx, remotePath, walk)
}

// downloadFile 下载单个文件
func (a *App) downloadFile(cmd *cobra.Command, f *alipcs.RemoteFile, shareID, localPath string, chunkSize int64, decKey []byte, resume bool) error {
	ctx := cmd.Context()

	// 1. 取下载直链
	var url string
	var err error
	if shareID != "" {
		url, err = a.client.SharedDownloadLink(ctx, f.FileID, shareID)
	} else {
		if err := a.drive.RefreshDownloadURL(ctx, f); err != nil {
			return err
		}
		url = f.DownloadURL
	}
	if err != nil {
		return err
	}

	// 2. 加密文件顺带把本地文件名解回明文
	if decKey != nil && a.cfg.Crypto.EncryptFilenames {
		if plain, derr := crypto.DecryptName(filepath.Base(localPath), decKey); derr == nil {
			localPath = filepath.Join(filepath.Dir(localPath), plain)
		}
	}

	// 3. 开流、落盘
	stream, err := transfer.OpenRangeStream(ctx, transfer.RangeStreamOptions{
		URL:          url,
		MaxChunkSize: chunkSize,
		Headers:      map[string]string{"Referer": "https://www.aliyundrive.com/"},
		DecryptKey:   decKey,
	})
	if err != nil {
		return err
	}

	mode := transfer.DownloadOverwrite
	if resume {
		mode = transfer.DownloadContinue
	}
	dl := transfer.NewDownloader(stream, localPath, transfer.DownloadOptions{Mode: mode})
	if err := dl.Download(ctx); err != nil {
		return err
	}

	fmt.Printf("已下载: %s (%s)\n", localPath, humanSize(stream.Length()))
	return nil
}
