package main

import (
	"fmt"
	"os"
	"time"

	"PPRelay/config"
	"PPRelay/tools/security"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pprelay",
		Short:         "realtime presence, message and call signaling relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), versionCmd(), tokenCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "pprelay", version)
		},
	}
}

// tokenCmd 本地调试用：按当前配置签一个 bearer token
func tokenCmd() *cobra.Command {
	var (
		cfgPath, envFile, user string
		ttl                    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "mint a bearer token for a user id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath, envFile)
			if err != nil {
				return err
			}
			opts := security.DefaultOptions([]byte(cfg.Auth.JWTSecret))
			if ttl > 0 {
				opts.TTL = ttl
			}
			tok, exp, err := security.Generate(opts, user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", tok, exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "yaml config file")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file")
	cmd.Flags().StringVar(&user, "user", "", "user id (sub claim)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, default from options")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
