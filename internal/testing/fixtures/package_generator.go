package fixtures

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
)

// OperationalHeadings are the leading columns of a current-layout tbData file.
var OperationalHeadings = []string{
	"PROJECT", "UPDATE_DATE_TIME", "OUT_SYNCH_DIR", "LOCATION", "ACTION", "DURATION_SEC",
	"OUT-SN", "OUT-DEPLOYMENT", "OUT-IMAGE", "OUT-FW-REV", "OUT-COMMUNITY", "OUT-ROTATION-DATE",
	"IN-SN", "IN-DEPLOYMENT", "IN-IMAGE", "IN-FW-REV", "IN-COMMUNITY", "IN-LAST-UPDATED",
	"IN-SYNCH-DIR", "IN-DISK-LABEL", "CHKDSK CORRUPTION?",
}

// OperationalRow is one tbData row keyed by heading. Missing headings are blank.
type OperationalRow map[string]string

// PackageGenerator builds transfer package trees for tests
type PackageGenerator struct {
	baseDir string
}

// NewPackageGenerator creates a new package generator rooted at baseDir
func NewPackageGenerator(baseDir string) *PackageGenerator {
	return &PackageGenerator{
		baseDir: baseDir,
	}
}

// GetBaseDir returns the base directory for test data
func (g *PackageGenerator) GetBaseDir() string {
	return g.baseDir
}

// ProjectDir returns the directory of a project; "" is the base directory itself.
func (g *PackageGenerator) ProjectDir(project string) string {
	return filepath.Join(g.baseDir, project)
}

// ArchiveSyncDir creates TalkingBookData/deployment/device/village/tb/syncDir under a project.
func (g *PackageGenerator) ArchiveSyncDir(project, deployment, device, village, tb, syncDir string) (string, error) {
	dir := filepath.Join(g.ProjectDir(project), constants.TalkingBookDataDir, deployment, device, village, tb, syncDir)
	return dir, os.MkdirAll(dir, 0755)
}

// LegacySyncDir creates device/collected-data/deployment/village/tb/syncDir under a project.
func (g *PackageGenerator) LegacySyncDir(project, device, deployment, village, tb, syncDir string) (string, error) {
	dir := filepath.Join(g.ProjectDir(project), device, constants.CollectedDataDir, deployment, village, tb, syncDir)
	return dir, os.MkdirAll(dir, 0755)
}

// WriteOperationalData writes a current-layout tbData CSV for a device of an Archive project.
func (g *PackageGenerator) WriteOperationalData(project, device, fileName string, rows []OperationalRow) (string, error) {
	dir := filepath.Join(g.ProjectDir(project), constants.OperationalDataDir, device, constants.TbDataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName)
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(OperationalHeadings); err != nil {
		return "", err
	}
	for _, row := range rows {
		record := make([]string, len(OperationalHeadings))
		for i, h := range OperationalHeadings {
			record[i] = row[h]
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

// WriteManifest writes StatsPackageManifest.json into a project.
func (g *PackageGenerator) WriteManifest(project string, m *model.Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(g.ProjectDir(project), constants.ManifestFileName), data)
}

// WriteLog writes log/log.txt of a sync directory.
func (g *PackageGenerator) WriteLog(syncDir string, lines ...string) error {
	return writeFile(filepath.Join(syncDir, constants.SyncLogDir, constants.SyncLogFile),
		[]byte(strings.Join(lines, "\n")+"\n"))
}

// WriteArchivedLog writes log-archive/name of a sync directory.
func (g *PackageGenerator) WriteArchivedLog(syncDir, name string, lines ...string) error {
	return writeFile(filepath.Join(syncDir, constants.SyncLogArchiveDir, name),
		[]byte(strings.Join(lines, "\n")+"\n"))
}

// WriteFlashData writes statistics/flashData.bin.
func (g *PackageGenerator) WriteFlashData(syncDir string, fd *snapshot.FlashData) error {
	return writeFile(filepath.Join(syncDir, constants.StatisticsDir, constants.FlashDataFile), snapshot.EncodeFlashData(fd))
}

// WriteStatsFile writes statistics/pkg^contentID.stat.
func (g *PackageGenerator) WriteStatsFile(syncDir, pkg, contentID string, sf *snapshot.StatsFile) error {
	name := contentID + ".stat"
	if pkg != "" {
		name = pkg + "^" + name
	}
	return writeFile(filepath.Join(syncDir, constants.StatisticsDir, name), sf.Encode())
}

// WriteDeploymentProperties writes system/deployment.properties.
func (g *PackageGenerator) WriteDeploymentProperties(syncDir string, props map[string]string) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, props[k])
	}
	return writeFile(filepath.Join(syncDir, constants.SystemDir, constants.DeploymentProperties), []byte(sb.String()))
}

// ZipDir zips the contents of srcDir into zipPath, naming entries relative to srcDir's parent
// when includeBase is set and relative to srcDir otherwise.
func (g *PackageGenerator) ZipDir(srcDir, zipPath string, includeBase bool) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	base := srcDir
	if includeBase {
		base = filepath.Dir(srcDir)
	}
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil || rel == "." {
			return err
		}
		name := filepath.ToSlash(rel)
		if info.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

// ZipPackage zips the whole base directory into zipPath.
func (g *PackageGenerator) ZipPackage(zipPath string) error {
	return g.ZipDir(g.baseDir, zipPath, false)
}

// CleanupTestData removes all generated test data
func (g *PackageGenerator) CleanupTestData() error {
	return os.RemoveAll(g.baseDir)
}

// LogLine formats a device log line with a fixed voltage reading.
func LogLine(rotation, cycle, period, day, hour, minute, second int, action, params string) string {
	line := fmt.Sprintf("%dr%04dc%03dp%03dd%02dh%02dm%02ds400/400/400V:%s", rotation, cycle, period, day, hour, minute, second, action)
	if params != "" {
		line += " " + params
	}
	return line
}

// PlayedLine formats a PLAYED line at the given second of the day.
func PlayedLine(second int, contentID string, played, total int, ended bool) string {
	params := fmt.Sprintf("%s %d/%dsec @VOL=03 @Volt=312", contentID, played, total)
	if ended {
		params += "-Ended"
	}
	return LogLine(1, 1, 1, 1, second/3600, second/60%60, second%60, "PLAYED", params)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
