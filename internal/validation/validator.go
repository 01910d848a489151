package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/scanner"
	"github.com/penwyp/go-talkingbook-stats/internal/data/tbdata"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

const (
	unknownValue        = "UNKNOWN"
	unassignedSerial    = "-- to be assigned --"
	deploymentExpected  = "YYYY-XX, the year then the deployment within the year"
	syncDirNameExpected = "a sync directory timestamp"
)

// Options configure a Validator.
type Options struct {
	// MaxTimeWindow bounds how much later than a legacy sync directory its
	// operational record may be. Zero uses the default.
	MaxTimeWindow time.Duration
	// Strict makes unreadable operational files fail the root.
	Strict bool
}

type entryKey struct {
	nanos      int64
	uniquifier string
}

func keyOf(id model.SyncDirId) entryKey {
	return entryKey{nanos: id.DateTime.UnixNano(), uniquifier: id.Uniquifier}
}

// operationalEntry is the part of an operational record a sync directory is
// checked against.
type operationalEntry struct {
	id             model.SyncDirId
	device         string
	syncDirName    string
	inTalkingBook  string
	outTalkingBook string
	inDeployment   string
	outDeployment  string
	inVillage      string
	outVillage     string
	source         string
	line           int
}

func (e *operationalEntry) String() string {
	return fmt.Sprintf("%s (device %s, talking book %s, %s:%d)", e.syncDirName, e.device, e.outTalkingBook, e.source, e.line)
}

// Validator is a scanner visitor that matches each sync directory with the
// operational record of the sync that produced it, in both directions.
// State is kept per processing root.
type Validator struct {
	*scanner.BaseVisitor

	opts Options

	entries map[entryKey]*operationalEntry
	sorted  []*operationalEntry
	matched map[*operationalEntry]struct{}
	// Devices already reported against the manifest.
	manifestFlagged map[string]struct{}

	errors []Error
}

func NewValidator(result *report.ResultTree, opts Options) *Validator {
	if opts.MaxTimeWindow <= 0 {
		opts.MaxTimeWindow = constants.DefaultMaxTimeWindow
	}
	v := &Validator{BaseVisitor: scanner.NewBaseVisitor(result), opts: opts}
	v.reset()
	return v
}

func (v *Validator) reset() {
	v.entries = make(map[entryKey]*operationalEntry)
	v.sorted = nil
	v.matched = make(map[*operationalEntry]struct{})
	v.manifestFlagged = make(map[string]struct{})
}

// Errors returns the findings of every root walked so far.
func (v *Validator) Errors() []Error {
	return v.errors
}

func (v *Validator) add(e Error) {
	util.LogDebug("Validation error", util.F("kind", e.Kind.String()), util.F("message", e.Message))
	v.errors = append(v.errors, e)
}

func (v *Validator) StartProcessing(root string, manifest *model.Manifest, format model.DirectoryFormat) bool {
	v.reset()
	return v.BaseVisitor.StartProcessing(root, manifest, format)
}

func (v *Validator) StartDeviceOperationalData(device string) bool {
	v.BaseVisitor.StartDeviceOperationalData(device)
	return true
}

func (v *Validator) ProcessTbDataFile(path string, includesHeaders bool) error {
	lines, err := tbdata.ParseFile(path, includesHeaders)
	if err != nil {
		if v.opts.Strict {
			return fmt.Errorf("operational data %s: %w", path, err)
		}
		if !errors.Is(err, tbdata.ErrUnknownSchema) {
			util.LogWarn(fmt.Sprintf("Operational data %s read partially: %v", path, err))
		}
	}

	var mismatches []PropertyMismatch
	for _, line := range lines {
		mismatches = v.processLine(line, filepath.Base(path), mismatches)
	}
	if len(mismatches) > 0 {
		v.add(Error{
			Kind:       KindOperationalFileInvalidProperties,
			Message:    fmt.Sprintf("operational data file %s has invalid values", filepath.Base(path)),
			Path:       path,
			Mismatches: mismatches,
		})
	}
	return nil
}

func (v *Validator) processLine(line model.OperationalLogLine, file string, mismatches []PropertyMismatch) []PropertyMismatch {
	syncDirName := model.OperationalSyncDirName(line.UpdateDateTime, v.Device)

	if !strings.EqualFold(line.InSN, line.OutSN) && !serialAlias(line.InSN, line.OutSN) {
		mismatches = append(mismatches, PropertyMismatch{Property: "outTalkingBook", Expected: line.InSN, Actual: line.OutSN, Line: line.LineNumber})
	}

	var id model.SyncDirId
	inDeployment := line.InDeployment
	if model.SyncTimePatternV2.MatchString(syncDirName) {
		id = model.ParseSyncDirId(model.DeploymentId{}, syncDirName)
	} else {
		// Legacy records carry a timestamp without a year; it comes from the
		// deployment the talking book had before this sync.
		next := model.ParseDeploymentId(line.OutDeployment)
		if !next.HasYear() {
			mismatches = append(mismatches, PropertyMismatch{Property: "outDeploymentId", Expected: deploymentExpected, Actual: line.OutDeployment, Line: line.LineNumber})
		}
		current := model.ParseDeploymentId(line.InDeployment)
		if !current.HasYear() && !strings.EqualFold(current.ID, unknownValue) {
			mismatches = append(mismatches, PropertyMismatch{Property: "inDeploymentId", Expected: deploymentExpected, Actual: line.InDeployment, Line: line.LineNumber})
			if next.HasYear() {
				current = next.GuessPrevious()
				util.LogWarn(fmt.Sprintf("Deployment id is incorrect for %s:%d, guessing %s from the out deployment", file, line.LineNumber, current.ID))
			} else {
				util.LogError(fmt.Sprintf("Unable to resolve a deployment id for %s:%d", file, line.LineNumber))
			}
		}
		inDeployment = current.ID
		id = model.ParseSyncDirId(current, line.UpdateDateTime)
		id.DirName = syncDirName
	}

	opPath := []string{v.Project, v.Device, file}
	if !id.Valid() {
		util.LogError(fmt.Sprintf("Corrupt line %s:%d", file, line.LineNumber))
		if _, seen := v.Result.Get(opPath, report.AttrCorruptOperationalLine); !seen {
			v.Result.Set(opPath, report.AttrCorruptOperationalLine, fmt.Sprintf("line %d", line.LineNumber))
		}
		return append(mismatches, PropertyMismatch{Property: "syncDirName", Expected: syncDirNameExpected, Actual: syncDirName, Line: line.LineNumber})
	}

	action := strings.ToLower(line.Action)
	if !strings.HasPrefix(action, model.ActionUpdatePrefix) && action != model.ActionStatsOnly {
		v.Result.Set(opPath, report.AttrUnexpectedOperationalAction, line.Action)
		return mismatches
	}

	util.LogDebug(fmt.Sprintf("    operational data for sync dir '%s', ts: %s", id, id.DateTime))
	v.put(id, &operationalEntry{
		device:         v.Device,
		syncDirName:    syncDirName,
		inTalkingBook:  line.InSN,
		outTalkingBook: line.OutSN,
		inDeployment:   inDeployment,
		outDeployment:  line.OutDeployment,
		inVillage:      line.InCommunity,
		outVillage:     line.OutCommunity,
		source:         file,
		line:           line.LineNumber,
	})
	return mismatches
}

// put stores e under id. The newest record takes the key; a record it
// displaces moves one millisecond later, repeatedly, until its key is free.
func (v *Validator) put(id model.SyncDirId, e *operationalEntry) {
	v.sorted = nil
	for {
		k := keyOf(id)
		prev, taken := v.entries[k]
		e.id = id
		v.entries[k] = e
		if !taken {
			return
		}
		e, id = prev, prev.id.AddMilli()
	}
}

func (v *Validator) sortedEntries() []*operationalEntry {
	if v.sorted == nil {
		v.sorted = make([]*operationalEntry, 0, len(v.entries))
		for _, e := range v.entries {
			v.sorted = append(v.sorted, e)
		}
		sort.Slice(v.sorted, func(i, j int) bool {
			return model.CompareSyncDirTime(v.sorted[i].id, v.sorted[j].id) < 0
		})
	}
	return v.sorted
}

// findMatch looks up the record of a sync directory. Legacy layouts accept the
// first later record of the same carrier device; the current layout needs an
// exact timestamp and device match.
func (v *Validator) findMatch(id model.SyncDirId, dir string) *operationalEntry {
	if v.Format == model.FormatSync {
		entries := v.sortedEntries()
		i := sort.Search(len(entries), func(i int) bool {
			return model.CompareSyncDirTime(entries[i].id, id) >= 0
		})
		for ; i < len(entries); i++ {
			if strings.EqualFold(entries[i].device, v.Device) {
				return entries[i]
			}
		}
		return nil
	}

	if id.Version != model.SyncVersion2 {
		v.add(Error{
			Kind:    KindInvalidSyncDirFormat,
			Message: fmt.Sprintf("sync directory %s does not carry a full timestamp and carrier device", id.DirName),
			Path:    dir,
		})
	}
	return v.entries[keyOf(id)]
}

func (v *Validator) claim(e *operationalEntry) {
	if _, dup := v.matched[e]; dup {
		v.add(Error{
			Kind:    KindMultipleOperationalMatches,
			Message: fmt.Sprintf("operational record %s of device %s matches more than one sync directory", e.syncDirName, e.device),
		})
		return
	}
	v.matched[e] = struct{}{}
}

func (v *Validator) ProcessSyncDir(id model.SyncDirId, dir string) error {
	entry := v.findMatch(id, dir)
	util.LogDebug(fmt.Sprintf("    validating sync dir '%s'", id), util.F("matched", entry != nil))

	// A reformatted disk leaves nothing to compare.
	if _, err := os.Stat(filepath.Join(dir, constants.CheckDiskReformatTag)); err == nil {
		if entry != nil {
			v.claim(entry)
		}
		return nil
	}

	children, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read sync dir %s: %w", dir, err)
	}
	if len(children) == 0 {
		v.add(Error{Kind: KindEmptySyncDirectory, Message: fmt.Sprintf("sync directory %s is empty", id.DirName), Path: dir})
		return nil
	}

	syncPath := append(v.TalkingBookPath(), id.DirName)
	legacy := v.Format == model.FormatSync
	if entry == nil || (legacy && entry.id.DateTime.After(id.DateTime.Add(v.opts.MaxTimeWindow))) {
		v.Result.Set(syncPath, report.AttrSyncDirNoOpData, id.DirName)
		msg := fmt.Sprintf("directory in TalkingBookData with no matching entry in OperationalData: %s", id.DirName)
		if legacy {
			msg = fmt.Sprintf("no operational record of the same device within %v after %s", v.opts.MaxTimeWindow, id.DirName)
		}
		v.add(Error{Kind: KindNoMatchingOperationalData, Message: msg, Path: dir})
	} else {
		v.claim(entry)
		if mismatches := v.compare(entry); len(mismatches) > 0 {
			v.Result.Set(syncPath, report.AttrIncorrectPropValue, propertyNames(mismatches))
			v.add(Error{
				Kind: KindIncorrectSyncDirProperties,
				Message: fmt.Sprintf("sync directory %s disagrees with its operational record; expected under %s",
					id.DirName, strings.Join([]string{entry.inVillage, entry.inTalkingBook, id.DirName}, "/")),
				Path:       dir,
				Mismatches: mismatches,
			})
		}
	}

	v.checkManifest(id, dir)
	return nil
}

func (v *Validator) compare(e *operationalEntry) []PropertyMismatch {
	var out []PropertyMismatch
	if !strings.EqualFold(v.Village, e.inVillage) && !strings.EqualFold(e.inVillage, unknownValue) {
		out = append(out, PropertyMismatch{Property: "Village", Expected: e.inVillage, Actual: v.Village})
	}
	tb := v.TalkingBook
	if !strings.EqualFold(tb, e.inTalkingBook) && !strings.EqualFold(tb, unknownValue) &&
		!strings.EqualFold(tb, unassignedSerial) && !strings.EqualFold(tb, e.outTalkingBook) {
		out = append(out, PropertyMismatch{Property: "Talking Book", Expected: e.outTalkingBook, Actual: tb})
	}
	if !strings.EqualFold(v.Deployment, e.inDeployment) {
		out = append(out, PropertyMismatch{Property: "Deployment Id", Expected: e.inDeployment, Actual: v.Deployment})
	}
	if !strings.EqualFold(v.Device, e.device) {
		out = append(out, PropertyMismatch{Property: "Device", Expected: e.device, Actual: v.Device})
	}
	return out
}

func (v *Validator) checkManifest(id model.SyncDirId, dir string) {
	if v.Manifest == nil {
		return
	}
	if _, flagged := v.manifestFlagged[v.Device]; flagged {
		return
	}
	inRange, ok := v.Manifest.Contains(v.Device, id.DateTime)
	switch {
	case !ok:
		v.manifestFlagged[v.Device] = struct{}{}
		v.add(Error{Kind: KindManifestDoesNotContainDevice, Message: fmt.Sprintf("manifest has no sync range for device %s", v.Device)})
	case !inRange:
		v.manifestFlagged[v.Device] = struct{}{}
		r := v.Manifest.Devices[v.Device]
		v.add(Error{
			Kind: KindManifestHasWrongDeviceRanges,
			Message: fmt.Sprintf("device %s range %s to %s does not include %s",
				v.Device, r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339), id.DateTime.Format(time.RFC3339)),
			Path: dir,
		})
	}
}

// EndProcessing reports the operational records no sync directory claimed.
func (v *Validator) EndProcessing() {
	var unmatched []string
	for _, e := range v.sortedEntries() {
		if _, ok := v.matched[e]; ok {
			continue
		}
		v.Result.Set([]string{v.Project, e.device, e.outDeployment, e.outVillage, e.outTalkingBook, e.syncDirName},
			report.AttrOpDataNoSyncDir, fmt.Sprintf("%s:%d", e.source, e.line))
		util.LogDebug("    operational record with no TalkingBookData directory", util.F("entry", e.String()))
		unmatched = append(unmatched, e.String())
	}
	if len(unmatched) > 0 {
		v.add(Error{
			Kind:    KindUnmatchedOperationalEntries,
			Message: fmt.Sprintf("%d operational records in %s have no directory in TalkingBookData", len(unmatched), v.Project),
			Path:    v.Root,
			Entries: unmatched,
		})
	}
	v.BaseVisitor.EndProcessing()
}

// serialAlias reports whether two serial numbers of one talking book are
// equivalent: unknown or placeholder values, and the B- to C- renumbering.
func serialAlias(in, out string) bool {
	return strings.EqualFold(in, unknownValue) ||
		strings.EqualFold(in, unassignedSerial) ||
		(strings.HasPrefix(in, "B-") && strings.HasPrefix(out, "C-"))
}

func propertyNames(ms []PropertyMismatch) string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Property
	}
	return strings.Join(names, ", ")
}
