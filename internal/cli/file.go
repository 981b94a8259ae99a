package cli

import (
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"

	"alipcs/internal/alipcs"
)

// lsCmd 列目录
func (a *App) lsCmd() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "列出目录内容",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			remotePath := "/"
			if len(args) == 1 {
				remotePath = args[0]
			}

			files, err := a.drive.ListPath(ctx, remotePath)
			if err != nil {
				return err
			}
			for _, f := range files {
				printFile(f, long)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "显示大小和修改时间")
	return cmd
}

// searchCmd 按名字搜索
func (a *App) searchCmd() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "按名字搜索文件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			// 搜索结果翻完所有页
			marker := ""
			for {
				files, next, err := a.client.Search(ctx, args[0], marker)
				if err != nil {
					return err
				}
				for _, f := range files {
					printFile(f, long)
				}
				if next == "" {
					return nil
				}
				marker = next
			}
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "显示大小和修改时间")
	return cmd
}

// mkdirCmd 逐级建目录
func (a *App) mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>...",
		Short: "创建目录 (可多级)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			for _, p := range args {
				dir, err := a.drive.MakedirPath(ctx, p)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\n", dir.FileID, dir.Path)
			}
			return nil
		},
	}
}

// mvCmd 移动，最后一个参数是目标目录
func (a *App) mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path>... <dest-dir>",
		Short: "移动文件/目录到目标目录",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			destPath := args[len(args)-1]
			dest, err := a.drive.GetFile(ctx, destPath)
			if err != nil {
				return err
			}
			if dest == nil || !dest.IsDir && !dest.IsRoot() {
				return fmt.Errorf("目标目录不存在: %s", destPath)
			}

			ids, err := a.resolveIDs(cmd, args[:len(args)-1])
			if err != nil {
				return err
			}
			return a.drive.Move(ctx, ids, dest.FileID)
		},
	}
}

// renameCmd 重命名
func (a *App) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "重命名文件/目录",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			f, err := a.drive.GetFile(ctx, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("路径不存在: %s", args[0])
			}

			renamed, err := a.drive.Rename(ctx, f.FileID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s -> %s\n", args[0], path.Join(path.Dir(args[0]), renamed.Name))
			return nil
		},
	}
}

// rmCmd 删除 (进回收站)
func (a *App) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "删除文件/目录 (移入回收站)",
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
			return a.drive.Remove(ctx, ids)
		},
	}
}

// resolveIDs 把一批路径解析成 file_id
func (a *App) resolveIDs(cmd *cobra.Command, paths []string) ([]string, error) {
	ctx := cmd.Context()
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		f, err := a.drive.GetFile(ctx, p)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("路径不存在: %s", p)
		}
		ids = append(ids, f.FileID)
	}
	return ids, nil
}

func printFile(f *alipcs.RemoteFile, long bool) {
	name := f.Name
	if f.Path != "" {
		name = f.Path
	}
	if f.IsDir {
		name += "/"
	}
	if !long {
		fmt.Println(name)
		return
	}

	size := "-"
	if f.IsFile {
		size = humanSize(f.Size)
	}
	updated := "-"
	if f.UpdatedAt > 0 {
		updated = time.Unix(f.UpdatedAt, 0).Format("2006-01-02 15:04")
	}
	fmt.Printf("%10s  %s  %s\n", size, updated, name)
}
