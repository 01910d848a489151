package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/scanner"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
	"github.com/spf13/cobra"
)

var (
	manifestFormat string
	manifestWrite  bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest <package>",
	Short: "Generate the manifest of each processing root",
	Long: `Walks every processing root of a package and prints the manifest it
implies: the directory format and the sync time range of each carrier device.

With --write the manifest is stored as ` + constants.ManifestFileName + ` in each
root of an extracted package that has none.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifest,
}

func init() {
	rootCmd.AddCommand(manifestCmd)

	manifestCmd.Flags().StringVar(&manifestFormat, "format", "",
		"Directory format of the roots (sync, archive)")
	manifestCmd.Flags().BoolVarP(&manifestWrite, "write", "w", false,
		"Write missing manifests into the roots")
}

func runManifest(cmd *cobra.Command, args []string) error {
	format, err := model.ParseDirectoryFormat(manifestFormat)
	if err != nil {
		return err
	}

	pkg := util.ExpandPath(args[0])
	isDir := util.IsDir(pkg)
	if manifestWrite && !isDir {
		return fmt.Errorf("--write needs an extracted package directory")
	}
	extractDir := cfg.Import.ExtractDir
	if extractDir != "" {
		extractDir = util.ExpandPath(extractDir)
	}
	tmp, err := os.MkdirTemp(extractDir, "tbstats-")
	if err != nil {
		return fmt.Errorf("create extraction directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	// The walk expands sync-session zips, so it runs on a copy.
	packageRoot := tmp
	if isDir {
		if packageRoot, err = scanner.CopyPackage(pkg, tmp); err != nil {
			return err
		}
	} else if err := scanner.ExtractZip(pkg, tmp); err != nil {
		return err
	}

	roots, err := scanner.ResolveRoots(packageRoot)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("no processing roots in %s", args[0])
	}

	walker := scanner.NewWalker(scanner.Options{Format: format, Strict: cfg.Import.Strict})
	out := cmd.OutOrStdout()
	for _, root := range roots {
		project := filepath.Base(root)
		manifest, err := walker.BuildManifest(packageRoot, root, format)
		if err != nil {
			return fmt.Errorf("root %s: %w", project, err)
		}
		data, err := manifest.Encode()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n%s\n%s\n", project, strings.Repeat("-", len(project)), data)

		if manifestWrite {
			rel, err := filepath.Rel(packageRoot, root)
			if err != nil {
				return err
			}
			if err := writeManifest(filepath.Join(pkg, rel), data); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeManifest stores data as the root's manifest unless it already has one.
func writeManifest(root string, data []byte) error {
	path := filepath.Join(root, constants.ManifestFileName)
	if _, err := os.Stat(path); err == nil {
		util.LogInfo("Manifest exists, not overwritten", util.F("path", path))
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	util.LogInfo("Manifest written", util.F("path", path))
	return nil
}
