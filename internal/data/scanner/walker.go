package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// Options configure a Walker.
type Options struct {
	// Format is the expected layout. FormatUnknown accepts whatever the
	// manifest declares and falls back to FormatSync without one.
	Format model.DirectoryFormat
	// Strict turns format and naming inconsistencies into root failures.
	Strict bool
	// Result receives the facts of the walk. A fresh tree is used when nil.
	Result *report.ResultTree
	// OperationalLogs, when set, accumulates the carrier tool's logs.
	OperationalLogs *OperationalLogAppender
}

// Walker walks the processing roots of one import run. A Walker may walk the
// same package several times; operational logs of a root are appended once
// and a corrupt sync-session zip is reported once.
type Walker struct {
	opts    Options
	visited map[string]struct{}
	badZips map[string]struct{}
	roots   []RootResult
	format  model.DirectoryFormat
}

// RootResult is the outcome of walking one processing root. Err is nil for a
// root skipped for lacking device data; Missing is set instead.
type RootResult struct {
	Root    string
	Project string
	Format  model.DirectoryFormat
	Missing bool
	Err     error
}

func NewWalker(opts Options) *Walker {
	if opts.Result == nil {
		opts.Result = report.NewResultTree("")
	}
	return &Walker{opts: opts, visited: make(map[string]struct{}), badZips: make(map[string]struct{})}
}

// Result returns the tree the walker records into.
func (w *Walker) Result() *report.ResultTree {
	return w.opts.Result
}

// Walk resolves the roots of packageRoot and walks each with v. A root that
// lacks device data is recorded in the result and skipped. Other root
// failures are returned together after every root was walked.
func (w *Walker) Walk(packageRoot string, v Visitor) error {
	roots, err := ResolveRoots(packageRoot)
	if err != nil {
		return err
	}

	w.roots = w.roots[:0]
	var result *multierror.Error
	for _, root := range roots {
		project := filepath.Base(root)
		util.LogDebug("Processing root", util.F("project", project))

		w.format = model.FormatUnknown
		err := w.WalkRoot(packageRoot, root, v)
		outcome := RootResult{Root: root, Project: project, Format: w.format}
		var missing *MissingDirectoryError
		switch {
		case err == nil:
		case errors.As(err, &missing):
			util.LogWarn(fmt.Sprintf("Root %s skipped: %v", project, err))
			w.opts.Result.Set([]string{project}, report.AttrMissingDirectory, missing.Path())
			outcome.Missing = true
		default:
			util.LogError(fmt.Sprintf("Root %s failed: %v", project, err))
			outcome.Err = err
			result = multierror.Append(result, fmt.Errorf("root %s: %w", project, err))
		}
		w.roots = append(w.roots, outcome)
	}
	return result.ErrorOrNil()
}

// Roots returns the outcome of each root of the last Walk.
func (w *Walker) Roots() []RootResult {
	return append([]RootResult(nil), w.roots...)
}

// WalkRoot walks a single processing root. Without a manifest one is
// generated by a full preliminary walk before v runs.
func (w *Walker) WalkRoot(packageRoot, root string, v Visitor) error {
	if !util.IsDir(root) {
		return fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}

	manifest, format, err := w.readManifest(root)
	if err != nil {
		return err
	}
	if manifest == nil {
		if format == model.FormatUnknown {
			if w.opts.Strict {
				return ErrNoFormat
			}
			format = model.FormatSync
		}
		if manifest, err = w.generateManifest(packageRoot, root, format); err != nil {
			return err
		}
	}
	w.format = format
	return w.walk(packageRoot, root, format, manifest, v)
}

// BuildManifest generates the manifest of a root by walking it.
func (w *Walker) BuildManifest(packageRoot, root string, format model.DirectoryFormat) (*model.Manifest, error) {
	if format == model.FormatUnknown {
		format = model.FormatSync
	}
	return w.generateManifest(packageRoot, root, format)
}

// readManifest returns the root's manifest, or nil when it has none, and the
// format to walk with.
func (w *Walker) readManifest(root string) (*model.Manifest, model.DirectoryFormat, error) {
	format := w.opts.Format
	data, err := os.ReadFile(filepath.Join(root, constants.ManifestFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, format, nil
	}
	if err != nil {
		return nil, format, fmt.Errorf("read manifest: %w", err)
	}

	manifest, err := model.DecodeManifest(data)
	if err != nil {
		return nil, format, err
	}
	declared, err := manifest.Format()
	if err != nil {
		return nil, format, fmt.Errorf("manifest of %s: %w", filepath.Base(root), err)
	}
	if format != model.FormatUnknown && format != declared {
		err := fmt.Errorf("%w: manifest declares %s, walk expects %s", ErrFormatMismatch, declared, format)
		if w.opts.Strict {
			return nil, format, err
		}
		util.LogError(err.Error())
	}
	return manifest, declared, nil
}

func (w *Walker) generateManifest(packageRoot, root string, format model.DirectoryFormat) (*model.Manifest, error) {
	start := time.Now()
	util.LogDebug("Generating manifest", util.F("project", filepath.Base(root)))

	builder := NewManifestBuilder(w.opts.Result, format)
	if err := w.walk(packageRoot, root, format, nil, builder); err != nil {
		return nil, fmt.Errorf("generate manifest: %w", err)
	}

	util.LogDebug(fmt.Sprintf("Generated manifest for %s in %v", filepath.Base(root), time.Since(start)))
	return builder.Manifest(), nil
}

func (w *Walker) walk(packageRoot, root string, format model.DirectoryFormat, manifest *model.Manifest, v Visitor) error {
	layout, err := LayoutFor(format)
	if err != nil {
		return err
	}
	if !v.StartProcessing(root, manifest, format) {
		return nil
	}

	if manifest != nil {
		w.appendOperationalLogs(root, layout)
	}

	pairs := layout.DeviceDeployments(root)
	if len(pairs) == 0 {
		rel, err := filepath.Rel(packageRoot, root)
		if err != nil {
			rel = filepath.Base(root)
		}
		return &MissingDirectoryError{Parent: rel, Directory: constants.TalkingBookDataDir}
	}

	start := time.Now()
	if err := w.walkOperationalData(root, layout, pairs, v); err != nil {
		return err
	}
	util.LogDebug(fmt.Sprintf("Operational data of %s walked in %v", filepath.Base(root), time.Since(start)))

	start = time.Now()
	for _, pair := range pairs {
		deployment := model.ParseDeploymentId(pair.Deployment)
		if !deployment.HasYear() && w.opts.Strict {
			return fmt.Errorf("%w: %s", ErrIllegalDeployment, pair.Deployment)
		}
		if !v.StartDeviceDeployment(pair) {
			continue
		}
		if err := w.walkPair(root, layout, pair, deployment, v); err != nil {
			return err
		}
		v.EndDeviceDeployment()
	}
	util.LogDebug(fmt.Sprintf("Content of %s walked in %v", filepath.Base(root), time.Since(start)))

	v.EndProcessing()
	return nil
}

// walkOperationalData visits the tbdata files of each device once. pairs are
// sorted by device so a device's pairs are adjacent.
func (w *Walker) walkOperationalData(root string, layout Layout, pairs []model.DeviceDeploymentPair, v Visitor) error {
	device := ""
	open := false
	for _, pair := range pairs {
		if device != "" && strings.EqualFold(pair.Device, device) {
			continue
		}
		if open {
			v.EndDeviceOperationalData()
		}
		device = pair.Device
		open = v.StartDeviceOperationalData(device)
		if !open {
			continue
		}

		if logDir := layout.LogDir(root, device); util.IsDir(logDir) {
			if entries, err := os.ReadDir(logDir); err == nil {
				util.LogDebug(fmt.Sprintf("Carrier device %s has %d tool log files", device, len(entries)))
			}
		}

		dir := layout.TbDataDir(root, device)
		if !util.IsDir(dir) {
			continue
		}
		for _, path := range layout.TbDataFiles(dir) {
			util.LogDebug("Operational data", util.F("file", filepath.Base(path)))
			if err := v.ProcessTbDataFile(path, layout.IncludesHeaders()); err != nil {
				return err
			}
		}
	}
	if open {
		v.EndDeviceOperationalData()
	}
	return nil
}

func (w *Walker) walkPair(root string, layout Layout, pair model.DeviceDeploymentPair, deployment model.DeploymentId, v Visitor) error {
	pairDir := layout.PairDir(root, pair)
	for _, villageName := range util.ListSubdirs(pairDir) {
		village := strings.TrimSpace(villageName)
		if !v.StartVillage(village) {
			continue
		}
		villageDir := filepath.Join(pairDir, villageName)
		for _, tbName := range util.ListSubdirs(villageDir) {
			talkingBook := strings.TrimSpace(tbName)
			if !v.StartTalkingBook(talkingBook) {
				continue
			}
			path := []string{filepath.Base(root), pair.Device, deployment.ID, village, talkingBook}
			if err := w.walkTalkingBook(filepath.Join(villageDir, tbName), layout.Format(), deployment, path, v); err != nil {
				return err
			}
			v.EndTalkingBook()
		}
		v.EndVillage()
	}
	return nil
}

func (w *Walker) walkTalkingBook(tbDir string, format model.DirectoryFormat, deployment model.DeploymentId, path []string, v Visitor) error {
	w.expandZips(tbDir, path)

	for _, name := range util.ListSubdirs(tbDir) {
		id := model.ParseSyncDirId(deployment, strings.TrimSpace(name))
		if !id.Valid() {
			continue
		}
		if format == model.FormatArchive && id.Version == model.SyncVersion1 && w.opts.Strict {
			return fmt.Errorf("%w: %s", ErrLegacySyncDir, name)
		}
		if err := v.ProcessSyncDir(id, filepath.Join(tbDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// expandZips replaces each sync-session zip of a talking book directory with
// its contents and removes the zip. A corrupt zip is recorded against the
// talking book and left in place together with any earlier extraction.
func (w *Walker) expandZips(tbDir string, path []string) {
	entries, err := os.ReadDir(tbDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := doublestar.Match("*.zip", e.Name()); !ok {
			continue
		}
		zipPath := filepath.Join(tbDir, e.Name())
		if _, failed := w.badZips[zipPath]; failed {
			continue
		}
		if err := expandUnitZip(zipPath, tbDir); err != nil {
			util.LogError(fmt.Sprintf("Couldn't unzip sync dir %s: %v", e.Name(), err))
			w.opts.Result.Set(path, report.AttrCorruptTBZip, e.Name())
			w.badZips[zipPath] = struct{}{}
			continue
		}
		if err := os.Remove(zipPath); err != nil {
			util.LogWarn(fmt.Sprintf("Could not remove %s: %v", e.Name(), err))
		}
	}
}

// appendOperationalLogs accumulates the carrier tool's logs of an Archive root
// the first time the run visits it.
func (w *Walker) appendOperationalLogs(root string, layout Layout) {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	if _, seen := w.visited[abs]; seen {
		return
	}
	w.visited[abs] = struct{}{}

	if w.opts.OperationalLogs == nil || layout.Format() != model.FormatArchive {
		return
	}
	opData, ok := util.FindChildFold(root, constants.OperationalDataDir)
	if !ok || !util.IsDir(opData) {
		return
	}
	project := filepath.Base(root)
	for _, device := range util.ListSubdirs(opData) {
		tbDataDir, ok := util.FindChildFold(filepath.Join(opData, device), constants.TbDataDir)
		if !ok || !util.IsDir(tbDataDir) {
			continue
		}
		count, err := w.opts.OperationalLogs.AppendDir(tbDataDir)
		if err != nil {
			util.LogError(fmt.Sprintf("Appending operational logs of %s failed: %v", device, err))
			w.opts.Result.Set([]string{project, device}, report.AttrOperationalLogError, err.Error())
			continue
		}
		w.opts.Result.Add([]string{project, device}, report.AttrOperationalLogsAppended, count)
	}
}
