package commands

import (
	"fmt"
	"time"

	"github.com/penwyp/go-talkingbook-stats/internal/data/inbox"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
	"github.com/spf13/cobra"
)

var (
	watchPattern      string
	watchSettle       time.Duration
	watchSkipExisting bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Import transfer packages as they arrive in a directory",
	Long: `Watches an inbox directory and imports every transfer package written to
it once the file stopped changing. Packages already in the directory are
imported first; the ledger skips those imported before.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addImportFlags(watchCmd)

	watchCmd.Flags().StringVar(&watchPattern, "pattern", "",
		"Glob matched against file names (default *.zip)")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 0,
		"Quiet period before a package is imported (default 2s)")
	watchCmd.Flags().BoolVar(&watchSkipExisting, "skip-existing", false,
		"Ignore packages already in the directory")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := applyImportFlags(cmd, cfg); err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Watch.Dir = args[0]
	}
	if cmd.Flags().Changed("pattern") {
		cfg.Watch.Pattern = watchPattern
	}
	if cmd.Flags().Changed("settle") {
		cfg.Watch.Settle = watchSettle
	}
	if cfg.Watch.Dir == "" {
		return fmt.Errorf("no inbox directory: pass one or set watch.dir")
	}
	dir := util.ExpandPath(cfg.Watch.Dir)

	ctx, stop := signalContext(cmd)
	defer stop()

	a, s, err := newAnalyzer(ctx, cmd, cfg, "")
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := inbox.NewWatcher(dir, cfg.Watch.Pattern, cfg.Watch.Settle)
	if err != nil {
		return err
	}
	defer w.Close()

	importOne := func(path string) {
		if err := a.RunPackage(ctx, path); err != nil {
			util.LogError(fmt.Sprintf("Import of %s failed: %v", path, err))
			fmt.Fprintf(cmd.ErrOrStderr(), "import %s: %v\n", path, err)
		}
	}

	if !watchSkipExisting {
		existing, err := w.Existing()
		if err != nil {
			return err
		}
		for _, path := range existing {
			if ctx.Err() != nil {
				break
			}
			importOne(path)
		}
	}

	util.LogInfo("Watching inbox", util.F("dir", dir), util.F("pattern", cfg.Watch.Pattern))
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for %s (Ctrl+C to stop)\n", dir, cfg.Watch.Pattern)
	for {
		select {
		case <-ctx.Done():
			a.Stats().PrintFinalStats()
			return nil
		case path := <-w.Ready():
			importOne(path)
		}
	}
}
