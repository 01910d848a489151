package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

var (
	// Groups of letters and digits separated by dashes.
	deploymentDirPattern = regexp.MustCompile(`^(\w+-?)+$`)

	tbDataPatternV1 = regexp.MustCompile(`(?i)^tbData-(\d+)-(\d+)-(\d+).*$`)
	tbDataPatternV2 = regexp.MustCompile(`(?i)^tbData-v(\d+)-(\d+)y(\d+)m(\d+)d-(.*).csv$`)
)

const tbDataGlob = "tbdata-*"

// Layout locates the parts of a processing root for one directory format.
type Layout interface {
	Format() model.DirectoryFormat
	// DeviceDeployments lists the (device, deployment) pairs holding sync
	// data, sorted by device then deployment.
	DeviceDeployments(root string) []model.DeviceDeploymentPair
	// PairDir is the directory whose children are villages.
	PairDir(root string, pair model.DeviceDeploymentPair) string
	// TbDataDir holds the operational CSV files of a carrier device.
	TbDataDir(root, device string) string
	// LogDir holds the carrier tool's own log files.
	LogDir(root, device string) string
	// TbDataFiles lists the operational CSV files of dir.
	TbDataFiles(dir string) []string
	// IncludesHeaders reports whether operational CSV files start with a header row.
	IncludesHeaders() bool
}

// LayoutFor returns the layout of a known format.
func LayoutFor(format model.DirectoryFormat) (Layout, error) {
	switch format {
	case model.FormatSync:
		return syncLayout{}, nil
	case model.FormatArchive:
		return archiveLayout{}, nil
	default:
		return nil, fmt.Errorf("no layout for directory format %s", format)
	}
}

// syncLayout is device/collected-data/deployment/village/unit/sync.
type syncLayout struct{}

func (syncLayout) Format() model.DirectoryFormat { return model.FormatSync }

func (syncLayout) IncludesHeaders() bool { return false }

func (syncLayout) DeviceDeployments(root string) []model.DeviceDeploymentPair {
	var pairs []model.DeviceDeploymentPair
	for _, device := range util.ListSubdirs(root) {
		collected := filepath.Join(root, device, constants.CollectedDataDir)
		if !util.IsDir(collected) {
			continue
		}
		for _, deployment := range util.ListSubdirs(collected) {
			if deploymentDirPattern.MatchString(deployment) {
				pairs = append(pairs, model.DeviceDeploymentPair{Device: device, Deployment: deployment})
			}
		}
	}
	return sortPairs(pairs)
}

func (syncLayout) PairDir(root string, pair model.DeviceDeploymentPair) string {
	return filepath.Join(root, pair.Device, constants.CollectedDataDir, pair.Deployment)
}

func (syncLayout) TbDataDir(root, device string) string {
	return resolveFold(root, device, constants.CollectedDataDir)
}

func (syncLayout) LogDir(root, device string) string {
	return resolveFold(root, device, constants.CollectedDataDir, constants.LogsDir)
}

func (syncLayout) TbDataFiles(dir string) []string {
	files := matchTbData(dir, tbDataPatternV1)
	return append(files, matchTbData(dir, tbDataPatternV2)...)
}

// archiveLayout is TalkingBookData/deployment/device/village/unit/sync with
// OperationalData/device/tbdata beside it.
type archiveLayout struct{}

func (archiveLayout) Format() model.DirectoryFormat { return model.FormatArchive }

func (archiveLayout) IncludesHeaders() bool { return true }

func (archiveLayout) DeviceDeployments(root string) []model.DeviceDeploymentPair {
	tbData, ok := util.FindChildFold(root, constants.TalkingBookDataDir)
	if !ok || !util.IsDir(tbData) {
		// Some roots carry only OperationalData.
		return nil
	}
	var pairs []model.DeviceDeploymentPair
	for _, deployment := range util.ListSubdirs(tbData) {
		if !deploymentDirPattern.MatchString(deployment) && !strings.EqualFold(deployment, constants.UnknownDeployment) {
			continue
		}
		for _, device := range util.ListSubdirs(filepath.Join(tbData, deployment)) {
			pairs = append(pairs, model.DeviceDeploymentPair{Device: device, Deployment: deployment})
		}
	}
	return sortPairs(pairs)
}

func (archiveLayout) PairDir(root string, pair model.DeviceDeploymentPair) string {
	return filepath.Join(resolveFold(root, constants.TalkingBookDataDir), pair.Deployment, pair.Device)
}

func (archiveLayout) TbDataDir(root, device string) string {
	return resolveFold(root, constants.OperationalDataDir, device, constants.TbDataDir)
}

func (archiveLayout) LogDir(root, device string) string {
	return resolveFold(root, constants.OperationalDataDir, device, constants.LogsDir)
}

func (archiveLayout) TbDataFiles(dir string) []string {
	return matchTbData(dir, tbDataPatternV2)
}

// matchTbData preselects candidates with a glob and keeps the names the
// pattern accepts. Dropbox conflict copies are never operational data.
func matchTbData(dir string, pattern *regexp.Regexp) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if ok, _ := doublestar.Match(tbDataGlob, lower); !ok {
			continue
		}
		if strings.Contains(lower, "conflicted copy") || !pattern.MatchString(name) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files
}

// resolveFold joins parts onto root, matching each existing level without
// regard to case. Levels that do not exist are joined as given.
func resolveFold(root string, parts ...string) string {
	path := root
	for _, part := range parts {
		if found, ok := util.FindChildFold(path, part); ok {
			path = found
		} else {
			path = filepath.Join(path, part)
		}
	}
	return path
}

func sortPairs(pairs []model.DeviceDeploymentPair) []model.DeviceDeploymentPair {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Device != pairs[j].Device {
			return pairs[i].Device < pairs[j].Device
		}
		return pairs[i].Deployment < pairs[j].Deployment
	})
	out := pairs[:0]
	for i, p := range pairs {
		if i == 0 || p != pairs[i-1] {
			out = append(out, p)
		}
	}
	return out
}
