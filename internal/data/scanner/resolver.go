// Package scanner walks an extracted transfer package: it locates the
// processing roots, picks the directory layout of each root and drives a
// Visitor through the operational data and the sync sessions it holds.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// ResolveRoots returns the directories of an extracted package that are
// processed independently.
//
// A "collected-data" directory directly below packageRoot is unwrapped. Some
// carrier tools nest it one level deeper under an account folder, optionally
// followed by a single project folder. When the resolved root holds no
// TalkingBookData directory every non-hidden subdirectory is its own root.
func ResolveRoots(packageRoot string) ([]string, error) {
	if !util.IsDir(packageRoot) {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, packageRoot)
	}

	root := packageRoot
	if collected := filepath.Join(root, constants.CollectedDataDir); util.IsDir(collected) {
		root = collected
	} else if subs := util.ListSubdirs(root); len(subs) > 0 {
		alt := filepath.Join(root, subs[0], constants.CollectedDataDir)
		if util.IsDir(alt) {
			projects := util.ListSubdirs(alt)
			if len(projects) == 1 {
				util.LogDebug("Project directory listed", util.F("project", projects[0]))
				root = filepath.Join(alt, projects[0])
			} else {
				util.LogDebug("No project directory listed", util.F("dir", alt))
				root = alt
			}
		}
	}

	util.LogInfo(fmt.Sprintf("Package size: %s, start time: %s",
		humanize.IBytes(dirSize(root)), time.Now().UTC().Format("2006-01-02 15:04:05Z")))

	if _, ok := util.FindChildFold(root, constants.TalkingBookDataDir); ok {
		return []string{root}, nil
	}

	var roots []string
	for _, name := range util.ListSubdirs(root) {
		roots = append(roots, filepath.Join(root, name))
	}
	util.LogDebug(fmt.Sprintf("No %s at %s, using %d subdirectories as roots",
		constants.TalkingBookDataDir, root, len(roots)))
	return roots, nil
}

func dirSize(dir string) uint64 {
	var size uint64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += uint64(info.Size())
			}
		}
		return nil
	})
	return size
}
