package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dendrascience/zkfuse/internal/config"
	"github.com/dendrascience/zkfuse/internal/logging"
	"github.com/dendrascience/zkfuse/mirror"
	"github.com/dendrascience/zkfuse/util"
	"github.com/dendrascience/zkfuse/zktree"
)

// dial is replaced in tests with an in-memory tree.
var dial = zktree.Dial

// configArgs returns the --config path and the overrides implied by the
// connect string and mountpoint arguments.
func configArgs(cmd *cobra.Command, connectString, mountpoint string) (string, map[string]any, error) {
	overrides := make(map[string]any)
	if connectString != "" {
		servers, root, err := zktree.ParseConnectString(connectString)
		if err != nil {
			return "", nil, err
		}
		overrides["zookeeper.servers"] = servers
		overrides["zookeeper.root"] = root
	}
	if mountpoint != "" {
		overrides["mount.mountpoint"] = mountpoint
	}
	configPath, _ := cmd.Flags().GetString("config")
	return configPath, overrides, nil
}

// loadConfig merges the config file, environment and the flags of cmd, with
// the connect string and mountpoint arguments taking precedence. The Source
// is kept so long-running commands can follow file changes.
func loadConfig(cmd *cobra.Command, connectString, mountpoint string) (*config.Source, *config.Config, error) {
	configPath, overrides, err := configArgs(cmd, connectString, mountpoint)
	if err != nil {
		return nil, nil, err
	}
	src, err := config.NewSource(configPath, cmd.Flags(), overrides)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := src.Config()
	if err != nil {
		return nil, nil, err
	}
	return src, cfg, nil
}

func initLogging(cfg *config.Config) (*zap.Logger, error) {
	err := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	return logging.L(), nil
}

// followLogLevel applies log level changes made to the config file.
func followLogLevel(src *config.Source, log *zap.Logger) {
	if src.Watch(log, func(c *config.Config) {
		if logging.SetLevel(c.Logging.Level) {
			log.Info("log level changed", zap.String("level", c.Logging.Level))
		}
	}) {
		log.Debug("watching config file", zap.String("file", src.File()))
	}
}

// connect dials the configured servers, giving up after one session timeout.
func connect(ctx context.Context, cfg *config.Config, log *zap.Logger, obs zktree.Observer) (*zktree.Client, error) {
	zc := cfg.ZooKeeper
	ctx, cancel := context.WithTimeout(ctx, zc.SessionTimeout)
	defer cancel()

	retry := zktree.DefaultRetryPolicy()
	retry.BaseDelay = zc.Retry.BaseDelay
	retry.MaxRetries = zc.Retry.MaxRetries
	retry.MaxDelay = zc.Retry.MaxDelay

	opts := []zktree.Option{zktree.WithLogger(log)}
	if obs != nil {
		opts = append(opts, zktree.WithObserver(obs))
	}
	return dial(ctx, zktree.Config{
		Servers:        zc.Servers,
		SessionTimeout: zc.SessionTimeout,
		Retry:          retry,
	}, opts...)
}

// snapshot connects and primes a Mirror of the configured root. Closing the
// returned client is left to the caller; the mirror is stopped on return.
func snapshot(ctx context.Context, cfg *config.Config, log *zap.Logger) (*mirror.Mirror, *zktree.Client, error) {
	client, err := connect(ctx, cfg, log, nil)
	if err != nil {
		return nil, nil, err
	}
	m := mirror.New(client, cfg.ZooKeeper.Root, mirror.WithLogger(log))
	if err := m.Start(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("reading %s: %w", cfg.ZooKeeper.Root, err)
	}
	_ = m.Stop()
	return m, client, nil
}

// setup loads the config and starts logging for the short-lived utility
// commands, which do not follow config file changes.
func setup(cmd *cobra.Command, connectString string) (*config.Config, *zap.Logger, error) {
	configPath, overrides, err := configArgs(cmd, connectString, "")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath, cmd.Flags(), overrides)
	if err != nil {
		return nil, nil, err
	}
	log, err := initLogging(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// subtreePath normalises a user-supplied path below the mount root and
// rejects components the remote tree or the kernel would refuse.
func subtreePath(path string) (string, error) {
	path = util.Clean(path)
	if err := util.ValidatePath(path); err != nil {
		return "", fmt.Errorf("path %s: %w", path, err)
	}
	return path, nil
}
