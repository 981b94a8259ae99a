package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"alipcs/internal/alipcs"
	"alipcs/internal/storage"
)

// loginCmd 用 refresh token 登录并把凭据落库
func (a *App) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [refresh_token]",
		Short: "用 refresh token 登录",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			token := a.cfg.Alipan.RefreshToken
			if len(args) == 1 {
				token = args[0]
			}
			if token == "" {
				return fmt.Errorf("缺少 refresh token (命令行参数或配置 alipan.refresh_token)")
			}

			// 1. 换 access token，顺带拿到 user_id / drive_id
			client := alipcs.NewClient(&alipcs.Options{
				Credential: alipcs.Credential{RefreshToken: token},
				UserAgent:  a.cfg.Alipan.UserAgent,
			})
			if err := client.Refresh(ctx); err != nil {
				return fmt.Errorf("登录失败: %w", err)
			}

			// 2. 抓一份用户信息留作展示
			user, err := client.UserInfo(ctx)
			if err != nil {
				return err
			}

			// 3. 落库
			cred := client.Credential()
			acc := &storage.Account{
				Name:       a.account,
				Credential: cred,
				UserID:     user.UserID,
				UserName:   user.NickName,
			}
			if err := a.store.PutAccount(acc); err != nil {
				return err
			}

			fmt.Printf("已登录: %s (%s)\n", user.NickName, user.UserID)
			return nil
		},
	}
}

// logoutCmd 删除本地账号记录
func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "登出 (删除本地凭据)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.DeleteAccount(a.account); err != nil {
				return err
			}
			fmt.Printf("账号 %q 已登出\n", a.account)
			return nil
		},
	}
}

// whoCmd 显示当前账号和空间用量
func (a *App) whoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "who",
		Short: "显示当前账号信息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensureDrive(ctx); err != nil {
				return err
			}

			user, err := a.client.UserInfo(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("昵称:   %s\n", user.NickName)
			fmt.Printf("用户ID: %s\n", user.UserID)
			fmt.Printf("手机:   %s\n", user.Phone)
			fmt.Printf("空间:   %s / %s\n", humanSize(user.UsedSize), humanSize(user.TotalSize))
			return nil
		},
	}
}
