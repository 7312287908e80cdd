package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/marcus/objsync/internal/config"
	"github.com/marcus/objsync/internal/output"
	"github.com/marcus/objsync/pkg/remote"
	"github.com/marcus/objsync/pkg/storage"
	"github.com/spf13/cobra"
)

func configDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("config-dir")
	if dir == "" {
		return config.Dir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	dir, err := configDir(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadDir(dir)
	if err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}

// openStorage opens the store that keeps the current user between runs.
// The returned closer is nil for the in-memory driver.
func openStorage(cfg *config.Config, dir string) (remote.Storage, io.Closer, error) {
	path := cfg.StoragePath(dir)
	switch driver := cfg.StorageDriver(); driver {
	case "memory":
		return remote.NewMemoryStorage(), nil, nil
	case "bolt":
		s, err := storage.OpenBolt(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "sqlite":
		s, err := storage.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// openClient builds a client from the config. Call the returned func when
// done to release the local store.
func openClient(cmd *cobra.Command) (*remote.Client, func(), error) {
	cfg, dir, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	rc, err := cfg.ClientConfig()
	if err != nil {
		return nil, nil, err
	}
	store, closer, err := openStorage(cfg, dir)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if closer != nil {
			if err := closer.Close(); err != nil {
				slog.Warn("close storage", "err", err)
			}
		}
	}

	c, err := remote.New(rc, remote.WithStorage(store), remote.WithLogger(slog.Default()))
	if err != nil {
		release()
		return nil, nil, err
	}
	slog.Debug("client ready", "server", rc.ServerURL, "storage", cfg.StorageDriver())
	return c, release, nil
}

// callOptions returns the per-call options selected by global flags.
func callOptions(cmd *cobra.Command) []remote.CallOption {
	if useMaster, _ := cmd.Flags().GetBool("master-key"); useMaster {
		return []remote.CallOption{remote.UseMasterKey()}
	}
	return nil
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

// reportError writes err in the format selected by --json.
func reportError(cmd *cobra.Command, err error) {
	if jsonOutput(cmd) {
		output.JSONError(cmd.OutOrStdout(), output.ErrorCode(err), err.Error())
		return
	}
	output.Error(cmd.ErrOrStderr(), "%v", err)
}
