package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"volunteerhub/internal/config"
	"volunteerhub/internal/pkg/database"
	"volunteerhub/internal/pkg/logger"
	"volunteerhub/internal/service"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app 持有命令执行期间共享的依赖，engine 已设置时跳过初始化。
type app struct {
	configPath string
	logger     *slog.Logger
	db         *gorm.DB
	engine     *service.Engine
}

func (a *app) init() error {
	if a.engine != nil {
		return nil
	}
	var paths []string
	if a.configPath != "" {
		paths = append(paths, a.configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.logger = logger.NewDefault(cfg.App.LogLevel)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return err
	}
	a.db = db
	// 命令行操作不发送通知
	a.engine = service.NewEngine(db, nil, a.logger)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = database.Close(a.db)
		a.db = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "admin",
		Short:        "volunteerhub operations CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config.json")

	root.AddCommand(createAdminCmd(a))
	root.AddCommand(migrateCmd())
	root.AddCommand(reconcileCmd(a))
	return root
}

// createAdminCmd 创建管理员账号，账号已存在时不做修改。
func createAdminCmd(a *app) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			user, created, err := a.engine.BootstrapAdmin(ctx, email, password, name)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (id=%d)\n", user.Email, user.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s already exists (id=%d)\n", user.Email, user.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// migrateCmd 只执行自动迁移，实际工作在 PersistentPreRunE 中完成。
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func reconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rewrite opportunity application counters from the applications table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fixed, err := a.engine.ReconcileApplicationCounts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "corrected %d opportunities\n", fixed)
			return nil
		},
	}
}
