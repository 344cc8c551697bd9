// Package main provides the entry point for the swcache CLI application.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/planthealth/swcache/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	// SWCACHE_STORAGE_BACKEND sets storage.backend
	envKeyReplacer = strings.NewReplacer(".", "_")

	rootCmd = &cobra.Command{
		Use:   "swcache",
		Short: "Pre-cache static assets and serve them cache-first",
		Long: paragraph(
			fmt.Sprintf("\nPre-cache a site's static assets on install and serve them %s, falling back to the network.", keyword("cache-first")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return readConfigFlag(cmd)
		},
	}
)

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().String("origin", "", "origin the assets are fetched from")
	rootCmd.PersistentFlags().String("backend", "", "cache backend (memory, disk or sqlite)")
	rootCmd.PersistentFlags().String("cache-dir", "", "directory for the disk and sqlite backends")

	// Config bindings
	_ = viper.BindPFlag("origin", rootCmd.PersistentFlags().Lookup("origin"))
	_ = viper.BindPFlag("storage.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("storage.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(serveCmd, installCmd, lsCmd, configCmd, manCmd)
}

// readConfigFlag reads the file named by --config in place of the one found
// in the default places.
func readConfigFlag(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("config") {
		return nil
	}
	configFile = config.ExpandPath(configFile)
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file %s: %w", configFile, err)
	}
	log.Debug("Using configuration file", "path", configFile)
	return nil
}

// loadConfig returns the effective configuration from viper.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, config.AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	e, err := config.ParseEnv()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	dirs = configSearchDirs(e, dirs)

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		configFile = used
		return
	}

	configFile = filepath.Join(dirs[0], config.AppName+".yml")
}

// configSearchDirs puts $SWCACHE_CONFIG_HOME, then $XDG_CONFIG_HOME/swcache,
// in front of the platform config dirs.
func configSearchDirs(e config.Env, base []string) []string {
	dirs := append([]string(nil), base...)
	if e.XDGConfigHome != "" {
		dirs = append([]string{filepath.Join(e.XDGConfigHome, config.AppName)}, dirs...)
	}
	if e.ConfigHome != "" {
		dirs = append([]string{config.ExpandPath(e.ConfigHome)}, dirs...)
	}
	return dirs
}
