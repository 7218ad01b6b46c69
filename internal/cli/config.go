package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stripekit/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(newConfigShowCommand(a), newConfigInitCommand(a))
	return cmd
}

func newConfigShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			masked := *a.cfg
			masked.API.SecretKey = config.MaskKey(masked.API.SecretKey)
			if masked.Transport.Proxy.Password != "" {
				masked.Transport.Proxy.Password = "******"
			}
			if db := masked.RequestLog.Database; db != nil && db.Password != "" {
				dbCopy := *db
				dbCopy.Password = "******"
				masked.RequestLog.Database = &dbCopy
			}

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if !a.configLoaded {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s not found, showing defaults\n", a.configPath)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with every default filled in",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConfigOptional: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", a.configPath)
			}
			cfg := config.Default()
			// 密钥从环境变量展开，不写入文件
			cfg.API.SecretKey = "${STRIPE_SECRET_KEY}"
			if err := config.SaveConfig(cfg, a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ 配置文件已写入: %s\n", a.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
