package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/planthealth/swcache/internal/cache"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var lsCmd = &cobra.Command{
	Use:     "ls [CACHE]",
	Short:   "List cached entries",
	Long:    paragraph(fmt.Sprintf("\n%s the caches in storage and the entries they hold.", keyword("List"))),
	Example: paragraph("swcache ls\nswcache ls plant-health-cache-v1"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		storage, err := openStorage(cfg, log.Default())
		if err != nil {
			return err
		}
		defer storage.Close() //nolint:errcheck

		names := storage.Names()
		if len(args) == 1 {
			if !storage.Has(args[0]) {
				return fmt.Errorf("no cache named %q", args[0])
			}
			names = args
		}
		if len(names) == 0 {
			fmt.Fprintln(os.Stdout, "No caches.")
			return nil
		}

		styled := term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
		for _, name := range names {
			c, err := storage.Open(cmd.Context(), name)
			if err != nil {
				return err
			}
			store := c.Store()
			stats := store.Stats()

			header := fmt.Sprintf("%s  %d entries, %s", name, stats.ItemCount, humanize.Bytes(uint64(stats.Size))) //nolint:gosec
			if styled {
				header = keyword(name) + faint(fmt.Sprintf("  %d entries, %s", stats.ItemCount, humanize.Bytes(uint64(stats.Size)))) //nolint:gosec
			}
			fmt.Fprintln(os.Stdout, header)

			listEntries(os.Stdout, store, c.Keys(), styled)
		}
		return nil
	},
}

func listEntries(w io.Writer, store cache.Store, keys []string, styled bool) {
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		e, ok := store.Get(key)
		if !ok {
			continue
		}
		status := fmt.Sprint(e.Status)
		if styled && (e.Status < 200 || e.Status > 299) {
			status = failure(status)
		}
		rows = append(rows, []string{
			status,
			e.URL,
			humanize.Bytes(uint64(e.Size())), //nolint:gosec
			humanize.Time(e.StoredAt),
		})
	}
	if len(rows) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}
