package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"alipcs/internal/alipcs"
	"alipcs/internal/config"
	"alipcs/internal/storage"
	"alipcs/internal/transfer"
	"alipcs/pkg/logger"
)

// App 聚合一次命令执行需要的全部依赖
// 客户端和 Drive 按需构建，没登录的命令 (login 自己) 用不到
type App struct {
	cfg   *config.Config
	store *storage.Store

	account  string
	client   *alipcs.Client
	drive    *alipcs.Drive
	uploader *transfer.Uploader
}

// Execute 入口
func Execute() {
	app := &App{}

	var configPath string

	rootCmd := &cobra.Command{
		Use:           "alipcs",
		Short:         "阿里云盘命令行客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 1. 加载配置 (找不到文件时用缺省配置)
			if configPath == "" {
				home, _ := os.UserHomeDir()
				configPath = filepath.Join(home, ".alipcs", "config.yaml")
			}
			if _, err := os.Stat(configPath); err == nil {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				app.cfg = cfg
			} else {
				app.cfg = config.Default()
			}

			// 2. 初始化日志
			if err := logger.Setup(app.cfg.System.LogLevel, app.cfg.System.LogFile); err != nil {
				return fmt.Errorf("日志初始化失败: %w", err)
			}

			// 3. 打开数据库
			if err := os.MkdirAll(filepath.Dir(app.cfg.System.DBPath), 0o755); err != nil {
				return err
			}
			store, err := storage.Open(app.cfg.System.DBPath)
			if err != nil {
				return err
			}
			app.store = store
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.store != nil {
				app.store.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认 ~/.alipcs/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&app.account, "account", "a", "default", "使用的账号别名")

	rootCmd.AddCommand(
		app.loginCmd(),
		app.logoutCmd(),
		app.whoCmd(),
		app.lsCmd(),
		app.searchCmd(),
		app.mkdirCmd(),
		app.mvCmd(),
		app.renameCmd(),
		app.rmCmd(),
		app.uploadCmd(),
		app.downloadCmd(),
		app.shareCmd(),
		app.syncCmd(),
	)

	// Ctrl-C 触发 ctx 取消，长传输在分片/分块边界优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

// ensureDrive 用落库的凭据构建客户端和高层封装
// 凭据刷新后通过回调写回数据库，下次直接用新 token
func (a *App) ensureDrive(ctx context.Context) error {
	if a.drive != nil {
		return nil
	}

	acc, err := a.store.GetAccount(a.account)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("账号 %q 未登录，请先执行 alipcs login <refresh_token>", a.account)
	}

	a.client = alipcs.NewClient(&alipcs.Options{
		Credential: acc.Credential,
		UserAgent:  a.cfg.Alipan.UserAgent,
		OnCredentialUpdate: func(cred *alipcs.Credential) {
			acc.Credential = *cred
			if err := a.store.PutAccount(acc); err != nil {
				fmt.Fprintln(os.Stderr, "警告: 凭据落库失败:", err)
			}
		},
	})
	a.drive = alipcs.NewDrive(a.client)
	a.uploader = transfer.NewUploader(a.client)
	return nil
}

// humanSize 字节数转可读格式
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
