package cli

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"alipcs/internal/storage"
)

// shareCmd 分享相关的子命令组
func (a *App) shareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "分享链接管理",
	}
	cmd.AddCommand(
		a.shareCreateCmd(),
		a.shareListCmd(),
		a.shareCancelCmd(),
		a.shareSaveCmd(),
		a.shareBookmarkCmd(),
	)
	return cmd
}

// shareCreateCmd 把云盘路径做成分享链接
func (a *App) shareCreateCmd() *cobra.Command {
	var (
		password string
		period   int
	)
	cmd := &cobra.Command{
		Use:   "create <path>...",
		Short: "创建分享链接",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			ids, err := a.resolveIDs(cmd, args)
			if err != nil {
				return err
			}

			link, err := a.client.CreateShare(ctx, ids, password, period, "")
			if err != nil {
				return err
			}
			printSharedLink(link.ShareID, link.ShareURL, link.SharePwd, link.Expiration)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "提取码 (留空为公开分享)")
	cmd.Flags().IntVar(&period, "period", 0, "有效期天数，0 为永久")
	return cmd
}

// shareListCmd 列出自己的分享
func (a *App) shareListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出自己创建的分享链接",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			marker := ""
			for {
				links, next, err := a.client.ListShared(ctx, marker)
				if err != nil {
					return err
				}
				for _, l := range links {
					printSharedLink(l.ShareID, l.ShareURL, l.SharePwd, l.Expiration)
				}
				if next == "" {
					return nil
				}
				marker = next
			}
		},
	}
}

// shareCancelCmd 取消分享
func (a *App) shareCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <share-id>...",
		Short: "取消分享链接",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}
			return a.client.CancelShared(ctx, args)
		},
	}
}

// shareSaveCmd 把别人分享里的文件转存到自己的云盘
func (a *App) shareSaveCmd() *cobra.Command {
	var (
		password string
		remember string
	)
	cmd := &cobra.Command{
		Use:   "save <share-url> <shared-path>... <remote-dir>",
		Short: "转存分享中的文件到自己的云盘目录",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			shareID, err := parseShareURL(args[0])
			if err != nil {
				return err
			}
			if password == "" {
				// 没给提取码时尝试收藏里的记录
				if bm, _ := a.store.GetBookmark(shareID); bm != nil {
					password = bm.Password
				}
			}
			a.client.SetSharePassword(shareID, password)

			// 1. 解析分享内路径
			sharedPaths := args[1 : len(args)-1]
			if len(sharedPaths) == 0 {
				sharedPaths = []string{"/"}
			}
			var fileIDs []string
			for _, p := range sharedPaths {
				f, err := a.drive.GetSharedFile(ctx, shareID, p)
				if err != nil {
					return err
				}
				if f == nil {
					return fmt.Errorf("分享内路径不存在: %s", p)
				}
				fileIDs = append(fileIDs, f.FileID)
			}

			// 2. 目标目录
			dest, err := a.drive.MakedirPath(ctx, args[len(args)-1])
			if err != nil {
				return err
			}

			// 3. 转存
			if err := a.client.TransferSharedFiles(ctx, shareID, fileIDs, dest.FileID); err != nil {
				return err
			}
			fmt.Printf("已转存 %d 项到 %s\n", len(fileIDs), dest.Path)

			// 4. 可选收藏
			if remember != "" {
				return a.store.PutBookmark(&storage.ShareBookmark{
					ShareID:  shareID,
					URL:      args[0],
					Password: password,
					Note:     remember,
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "提取码")
	cmd.Flags().StringVar(&remember, "remember", "", "转存后收藏该分享，并附上备注")
	return cmd
}

// shareBookmarkCmd 收藏的分享链接
func (a *App) shareBookmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "列出收藏的分享链接",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bms, err := a.store.ListBookmarks()
			if err != nil {
				return err
			}
			for _, bm := range bms {
				fmt.Printf("%s\t%s\t%s\n", bm.ShareID, bm.URL, bm.Note)
			}
			return nil
		},
	}
	rm := &cobra.Command{
		Use:   "rm <share-id>...",
		Short: "删除收藏",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := a.store.DeleteBookmark(id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.AddCommand(rm)
	return cmd
}

// parseShareURL 从分享链接里取 share_id
// 支持 https://www.alipan.com/s/<id> 和 https://www.aliyundrive.com/s/<id>，
// 也接受直接给 share_id
func parseShareURL(raw string) (string, error) {
	if !strings.Contains(raw, "/") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("无效的分享链接: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "s" && i+1 < len(parts) {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("分享链接里找不到 share_id: %s", raw)
}

func printSharedLink(id, shareURL, pwd string, expiration int64) {
	expire := "永久"
	if expiration > 0 {
		expire = time.Unix(expiration, 0).Format("2006-01-02 15:04")
	}
	if pwd == "" {
		pwd = "-"
	}
	fmt.Printf("%s\t%s\t提取码:%s\t%s\n", id, shareURL, pwd, expire)
}
