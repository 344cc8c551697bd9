package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# name of the cache the assets are stored in
cache_name: "plant-health-cache-v1"
# paths pre-cached on install, resolved against origin
assets:
  - "/"
  - "/manifest.json"
  - "/icon-192.png"
  - "/icon-512.png"
  - "/service-worker.js"
# site the worker serves
origin: "http://localhost:3000"
# address swcache serve listens on
listen: "127.0.0.1:8080"

storage:
  # memory, disk or sqlite
  backend: "disk"
  # defaults to the user data directory
  # dir: "~/.local/share/swcache/caches"
  # per-cache capacity, 0 for unbounded
  max_size_mb: 100
  # zstd level for the disk backend (1-4), 0 disables compression
  compression_level: 3

network:
  timeout: "30s"
  # 0 disables rate limiting
  requests_per_second: 20
  burst: 10
  user_agent: "swcache"

install:
  timeout: "1m"
  # extra install attempts after a failure
  retries: 0
  retry_delay: "2s"
`

var printConfig bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the swcache config file",
	Long:    paragraph(fmt.Sprintf("\n%s the swcache config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("swcache config\nswcache config --config path/to/config.yml\nswcache config --print"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if printConfig {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		}

		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("swcache", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&printConfig, "print", false, "print the effective configuration and exit")
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
