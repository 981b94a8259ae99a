package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	syncer "alipcs/internal/sync"
)

// syncCmd 把本地目录单向镜像到云盘目录
func (a *App) syncCmd() *cobra.Command {
	var (
		workers     int
		deleteExtra bool
	)
	cmd := &cobra.Command{
		Use:   "sync <local-dir> <remote-dir>",
		Short: "把本地目录单向同步到云盘目录",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			if workers <= 0 {
				workers = a.cfg.Transfer.MaxConcurrent
			}

			engine := syncer.NewEngine(a.drive, a.uploader, &syncer.EngineOptions{
				LocalDir:         args[0],
				RemoteDir:        args[1],
				EncryptKey:       a.cfg.Crypto.GetAESKey(),
				EncryptFilenames: a.cfg.Crypto.EncryptFilenames,
				SliceSize:        a.cfg.Transfer.SliceSize(),
				MaxWorkers:       workers,
				DeleteExtraneous: deleteExtra,
			})

			if err := engine.Run(ctx); err != nil {
				return err
			}
			fmt.Println("同步完成")
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "并发任务数，0 用配置值")
	cmd.Flags().BoolVar(&deleteExtra, "delete", false, "删除云端多出来的文件 (严格镜像)")
	return cmd
}
