package syncdir

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/magiconair/properties"
	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// Keys of system/deployment.properties.
const (
	PropProject        = "PROJECT"
	PropDeployment     = "DEPLOYMENT"
	PropPackage        = "PACKAGE"
	PropCommunity      = "COMMUNITY"
	PropTalkingBookID  = "TALKINGBOOKID"
	PropRecipientID    = "RECIPIENTID"
	PropTimestamp      = "TIMESTAMP"
	PropDeploymentUUID = "DEPLOYMENT_UUID"
)

var (
	lbTimePattern = regexp.MustCompile(`(?i)^(\d+)y(\d+)m(\d+)d(\d+)h(\d+)m(\d+)s.*$`)

	propertyTimeLayouts = []string{
		"20060102T150405.000Z07",
		"20060102T150405.000Z0700",
		"20060102T150405.000Z07:00",
	}
)

// Location identifies a sync session by the directories it was found in.
type Location struct {
	Device      string
	Deployment  string
	Village     string
	TalkingBook string
	// Project is the processing root's name, the last resort for the project.
	Project string
}

// LoadDeploymentProperties reads system/deployment.properties. A missing or
// unreadable file yields nil.
func LoadDeploymentProperties(syncDir string) *properties.Properties {
	path := filepath.Join(syncDir, constants.SystemDir, constants.DeploymentProperties)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	loader := &properties.Loader{Encoding: properties.ISO_8859_1, DisableExpansion: true}
	props, err := loader.LoadFile(path)
	if err != nil {
		util.LogWarn("Ignoring unreadable deployment.properties", util.F("path", path), util.F("error", err.Error()))
		return nil
	}
	return props
}

// FindValueByMarkerFile returns the name, without extension, of the first
// file in system/ with the given extension (".prj", ".pkg").
func FindValueByMarkerFile(syncDir, ext string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(syncDir, constants.SystemDir))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := doublestar.Match("*"+ext, e.Name()); ok {
			return strings.TrimSuffix(e.Name(), ext), true
		}
	}
	return "", false
}

// FindValueInSysData returns the value of a "KEY:value" line of system/sysdata.txt.
func FindValueInSysData(syncDir, key string) (string, bool) {
	f, err := os.Open(filepath.Join(syncDir, constants.SystemDir, constants.SysDataFile))
	if err != nil {
		return "", false
	}
	defer f.Close()

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(key) + `:([a-zA-Z0-9_-]+)$`)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := pattern.FindStringSubmatch(strings.TrimSpace(scanner.Text())); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// FindLastUpdateTime reads the timestamp in system/last_updated.txt.
func FindLastUpdateTime(syncDir string) (time.Time, bool) {
	f, err := os.Open(filepath.Join(syncDir, constants.SystemDir, constants.LastUpdatedFile))
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return time.Time{}, false
	}
	return ParseLBTimestamp(strings.TrimSpace(scanner.Text()))
}

// ParseLBTimestamp parses "2018y03m07d14h32m05s..." timestamps.
func ParseLBTimestamp(s string) (time.Time, bool) {
	m := lbTimePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	vals := make([]int, 6)
	for i := range vals {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, false
		}
		vals[i] = v
	}
	t := time.Date(vals[0], time.Month(vals[1]), vals[2], vals[3], vals[4], vals[5], 0, time.UTC)
	if int(t.Month()) != vals[1] || t.Day() != vals[2] {
		return time.Time{}, false
	}
	return t, true
}

func parsePropertyTime(s string) (time.Time, bool) {
	for _, layout := range propertyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// DetermineContext derives the context of a sync session. deployment.properties
// wins; then the system marker files, sysdata.txt and the flash snapshot; the
// directory names come last.
func DetermineContext(syncDir string, loc Location, fd *snapshot.FlashData, props *properties.Properties) model.SyncProcessingContext {
	p := model.SyncContextParams{
		SyncDirName:      filepath.Base(syncDir),
		TalkingBookID:    loc.TalkingBook,
		Village:          loc.Village,
		Deployment:       loc.Deployment,
		DeviceSyncedFrom: loc.Device,
	}

	if props != nil {
		p.Project = props.GetString(PropProject, "")
		p.Deployment = props.GetString(PropDeployment, p.Deployment)
		p.ContentPackage = props.GetString(PropPackage, "")
		p.Village = props.GetString(PropCommunity, p.Village)
		p.TalkingBookID = props.GetString(PropTalkingBookID, p.TalkingBookID)
		p.RecipientID = props.GetString(PropRecipientID, "")
		p.DeploymentUUID = props.GetString(PropDeploymentUUID, "")
		if ts, ok := props.Get(PropTimestamp); ok {
			if t, ok := parsePropertyTime(ts); ok {
				p.DeploymentTime = t
			}
		}
	}

	if p.Project == "" {
		p.Project, _ = FindValueByMarkerFile(syncDir, ".prj")
	}
	if p.Project == "" {
		p.Project, _ = FindValueInSysData(syncDir, "PROJECT")
	}
	if p.Project == "" {
		p.Project = loc.Project
	}

	if p.ContentPackage == "" && fd != nil {
		if pkg := fd.Header.ContentPackage; pkg != "" && isASCII(pkg) {
			p.ContentPackage = pkg
		}
	}
	if p.ContentPackage == "" {
		p.ContentPackage, _ = FindValueByMarkerFile(syncDir, ".pkg")
	}
	if p.ContentPackage == "" {
		p.ContentPackage, _ = FindValueInSysData(syncDir, "IMAGE")
	}
	if p.ContentPackage == "" {
		p.ContentPackage = p.Deployment
	}

	if p.DeploymentTime.IsZero() {
		if t, ok := FindLastUpdateTime(syncDir); ok {
			p.DeploymentTime = t
		}
	}

	return model.NewSyncProcessingContext(p)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
