package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dushixiang/argus/internal/config"
	"github.com/dushixiang/argus/pkg/agent/service"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

const defaultConfigPath = "/etc/argus/argus.yaml"

var configPath string

func loadConfig() (*config.Config, error) {
	return config.Load(afero.NewOsFs(), configPath)
}

func newManager() (*service.ServiceManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return service.NewServiceManager(cfg)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "argus",
		Short:         "Argus 主机健康探针",
		Long:          "Argus 周期性巡检主机健康指标，在异常时发送告警并执行受控的自愈动作。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "配置文件路径")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "在前台运行探针",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newManager()
			if err != nil {
				return err
			}
			return mgr.Run()
		},
	}

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "管理系统服务",
	}

	serviceCmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "安装为系统服务",
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newManager()
				if err != nil {
					return err
				}
				if err := mgr.Install(); err != nil {
					return fmt.Errorf("安装服务失败: %w", err)
				}
				fmt.Println("服务安装成功")
				return nil
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "卸载系统服务",
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newManager()
				if err != nil {
					return err
				}
				if err := mgr.Uninstall(); err != nil {
					return fmt.Errorf("卸载服务失败: %w", err)
				}
				fmt.Println("服务卸载成功")
				return nil
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "启动服务",
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newManager()
				if err != nil {
					return err
				}
				return mgr.Start()
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "停止服务",
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newManager()
				if err != nil {
					return err
				}
				return mgr.Stop()
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "重启服务",
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newManager()
				if err != nil {
					return err
				}
				return mgr.Restart()
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "查看服务状态",
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newManager()
				if err != nil {
					return err
				}
				status, err := mgr.Status()
				if err != nil {
					return fmt.Errorf("获取服务状态失败: %w", err)
				}
				fmt.Println(status)
				return nil
			},
		},
	)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("argus %s\n", Version)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "校验配置文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, warning := range cfg.Normalize() {
				fmt.Println("警告:", warning)
			}
			fmt.Println("配置文件合法")
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, serviceCmd, versionCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
