package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var installCmd = &cobra.Command{
	Use:     "install",
	Short:   "Pre-cache the asset list and exit",
	Long:    paragraph(fmt.Sprintf("\n%s every asset into the cache. Either all of them are stored or none are.", keyword("Fetch"))),
	Example: paragraph("swcache install\nswcache install --origin https://plants.example --backend sqlite"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		w, err := a.newWorker(cfg)
		if err != nil {
			return err
		}
		if err := a.runtime.Register(cmd.Context(), w); err != nil {
			return err
		}

		c, err := a.storage.Open(cmd.Context(), w.CacheName())
		if err != nil {
			return err
		}
		store := c.Store()
		fmt.Fprintf(os.Stdout, "Installed %d assets into %s (%s)\n",
			len(w.Assets()), keyword(c.Name()), humanize.Bytes(uint64(store.Size()))) //nolint:gosec
		listEntries(os.Stdout, store, c.Keys(), term.IsTerminal(int(os.Stdout.Fd()))) //nolint:gosec
		return nil
	},
}
