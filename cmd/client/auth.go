package main

import (
	"errors"
	"fmt"

	"im-client/internal/service"

	"github.com/spf13/cobra"
)

var (
	loginUser     string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "登录并保存令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.svc.Login(cmd.Context(), loginUser, loginPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已登录: %s (%s)\n", st.DisplayName, st.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "清空本地令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.svc.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "显示当前登录用户",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.svc.Restore(cmd.Context())
		if errors.Is(err, service.ErrNotAuthenticated) {
			fmt.Fprintln(cmd.OutOrStdout(), "未登录")
			return nil
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "本地: %s 房间: %s\n", st.Identity(), st.RoomID)

		p, err := a.svc.Me(cmd.Context())
		if err != nil {
			return fmt.Errorf("查询服务端用户失败: %w", err)
		}
		fmt.Fprintf(out, "服务端: id=%s username=%s displayName=%s\n", p.ID, p.Username, p.DisplayName)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "用户名")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "密码")
	_ = loginCmd.MarkFlagRequired("username")
	_ = loginCmd.MarkFlagRequired("password")
}
