// chainbridge: bitcoin data backend for Core Lightning.
//
// Started by lightningd with no arguments, it speaks the plugin protocol on
// stdin/stdout. The serve subcommand exposes the same methods over HTTP
// JSON-RPC for use outside lightningd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fortiblox/chainbridge/pkg/config"
	"github.com/fortiblox/chainbridge/pkg/logging"
	"github.com/fortiblox/chainbridge/pkg/node"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func main() {
	v := config.New()
	if err := rootCmd(v).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(v *viper.Viper) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "chainbridge",
		Short:         "Bitcoin backend plugin for Core Lightning",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ReadFile(v, configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return node.New(v, log).RunPlugin(ctx, os.Stdin, os.Stdout)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	flags.String("backend", "", "Backend: nakamoto, esplora or bitcoind")
	flags.String("network", "", "Network: bitcoin, testnet, signet or regtest")
	flags.String("data-dir", "", "Directory for the block cache and light client headers")
	flags.String("proxy", "", "SOCKS5 proxy URL for outbound connections")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")
	bindFlags(v, root, map[string]string{
		"backend":    config.KeyBackend,
		"network":    config.KeyNetwork,
		"data-dir":   config.KeyDataDir,
		"proxy":      config.KeyProxy,
		"log-level":  config.KeyLogLevel,
		"log-format": config.KeyLogFormat,
	})

	root.AddCommand(serveCmd(v), versionCmd())
	return root
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the backend methods over HTTP JSON-RPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			if v.GetString(config.KeyDataDir) == "" {
				if home, err := os.UserHomeDir(); err == nil {
					v.Set(config.KeyDataDir, filepath.Join(home, ".chainbridge"))
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.WithFields(logrus.Fields{"version": Version, "commit": GitCommit}).Info("starting chainbridge")
			if err := node.New(v, log).Serve(ctx, ""); err != nil {
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("http-addr", "", "JSON-RPC listen address")
	flags.String("health-addr", "", "gRPC health listen address")
	flags.String("esplora-url", "", "Esplora base URL, overriding the network default")
	flags.String("bitcoind-host", "", "bitcoind RPC host:port")
	flags.String("bitcoind-user", "", "bitcoind RPC user")
	flags.String("bitcoind-password", "", "bitcoind RPC password")
	flags.StringSlice("peer", nil, "Light client peer host:port (repeatable)")
	flags.String("cache", "", "Block cache engine: bolt, badger or none")
	bindFlags(v, cmd, map[string]string{
		"http-addr":         config.KeyHTTPAddr,
		"health-addr":       config.KeyHealthAddr,
		"esplora-url":       config.KeyEsploraURLs,
		"bitcoind-host":     config.KeyBitcoindHost,
		"bitcoind-user":     config.KeyBitcoindUser,
		"bitcoind-password": config.KeyBitcoindPassword,
		"peer":              config.KeyLightClientPeers,
		"cache":             config.KeyCacheEngine,
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chainbridge %s (%s)\n", Version, GitCommit)
		},
	}
}

// bindFlags binds each flag to its viper key. Flags only override the
// config file and environment when set explicitly.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(err)
		}
	}
}

func newLogger(v *viper.Viper) (*logrus.Logger, error) {
	return logging.New(v.GetString(config.KeyLogLevel), v.GetString(config.KeyLogFormat), os.Stderr)
}
