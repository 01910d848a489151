package validation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/scanner"
	"github.com/penwyp/go-talkingbook-stats/internal/data/tbdata"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/testing/fixtures"
)

const (
	device     = "laptop-1"
	deployment = "2018-2"
	village    = "JIRAPA"
	talkingBk  = "B-000C1234"
	opFile     = "tbData-v03-2018y03m07d-laptop-1.csv"
)

func row(updateTime, action string) fixtures.OperationalRow {
	return fixtures.OperationalRow{
		"PROJECT":          "UWR",
		"UPDATE_DATE_TIME": updateTime,
		"ACTION":           action,
		"OUT-SN":           talkingBk,
		"OUT-DEPLOYMENT":   "2018-3",
		"OUT-COMMUNITY":    village,
		"IN-SN":            talkingBk,
		"IN-DEPLOYMENT":    deployment,
		"IN-COMMUNITY":     village,
	}
}

func syncDir(t *testing.T, gen *fixtures.PackageGenerator, name string, withLog bool) string {
	t.Helper()
	dir, err := gen.ArchiveSyncDir("UWR", deployment, device, village, talkingBk, name)
	require.NoError(t, err)
	if withLog {
		require.NoError(t, gen.WriteLog(dir, fixtures.PlayedLine(60, "C1", 30, 100, false)))
	}
	return dir
}

func kinds(errs []Error) []Kind {
	out := make([]Kind, len(errs))
	for i, e := range errs {
		out[i] = e.Kind
	}
	return out
}

func validate(t *testing.T, gen *fixtures.PackageGenerator, manifest *model.Manifest) (*Validator, *report.ResultTree) {
	t.Helper()
	v, result, err := validateWith(t, gen, manifest, Options{})
	require.NoError(t, err)
	return v, result
}

func validateWith(t *testing.T, gen *fixtures.PackageGenerator, manifest *model.Manifest, opts Options) (*Validator, *report.ResultTree, error) {
	t.Helper()
	require.NoError(t, gen.WriteManifest("UWR", manifest))
	result := report.NewResultTree("test.zip")
	v := NewValidator(result, opts)
	err := scanner.NewWalker(scanner.Options{Result: result}).Walk(gen.GetBaseDir(), v)
	return v, result, err
}

func fullManifest() *model.Manifest {
	m := model.NewManifest(model.FormatArchive)
	m.Observe(device, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC))
	m.Observe(device, time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC))
	return m
}

func TestValidatorMatchesExactly(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
	_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{
		row("2018y03m07d14h32m05s", "update"),
	})
	require.NoError(t, err)

	v, result := validate(t, gen, fullManifest())
	assert.Empty(t, v.Errors())
	assert.Zero(t, result.Count(report.AttrSyncDirNoOpData))
	assert.Zero(t, result.Count(report.AttrOpDataNoSyncDir))
}

func TestValidatorReportsBothDirections(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
	syncDir(t, gen, "2018y03m08d09h00m00s-laptop-1", true)
	_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{
		row("2018y03m07d14h32m05s", "update"),
		row("2018y03m09d10h00m00s", "stats-only"),
	})
	require.NoError(t, err)

	v, result := validate(t, gen, fullManifest())
	assert.Equal(t, []Kind{KindNoMatchingOperationalData, KindUnmatchedOperationalEntries}, kinds(v.Errors()))

	noOp, ok := result.Get([]string{"UWR", device, deployment, village, talkingBk, "2018y03m08d09h00m00s-laptop-1"}, report.AttrSyncDirNoOpData)
	require.True(t, ok)
	assert.Equal(t, "2018y03m08d09h00m00s-laptop-1", noOp)

	src, ok := result.Get([]string{"UWR", device, "2018-3", village, talkingBk, "2018y03m09d10h00m00s-laptop-1"}, report.AttrOpDataNoSyncDir)
	require.True(t, ok)
	assert.Equal(t, opFile+":3", src)
	require.Len(t, v.Errors()[1].Entries, 1)
}

func TestValidatorPropertyMismatch(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
	r := row("2018y03m07d14h32m05s", "update")
	r["IN-COMMUNITY"] = "TAMALE"
	r["IN-DEPLOYMENT"] = "2018-1"
	_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{r})
	require.NoError(t, err)

	v, result := validate(t, gen, fullManifest())
	require.Equal(t, []Kind{KindIncorrectSyncDirProperties}, kinds(v.Errors()))
	props := v.Errors()[0].Mismatches
	require.Len(t, props, 2)
	assert.Equal(t, PropertyMismatch{Property: "Village", Expected: "TAMALE", Actual: village}, props[0])
	assert.Equal(t, "Deployment Id", props[1].Property)

	names, ok := result.Get([]string{"UWR", device, deployment, village, talkingBk, "2018y03m07d14h32m05s-laptop-1"}, report.AttrIncorrectPropValue)
	require.True(t, ok)
	assert.Equal(t, "Village, Deployment Id", names)
}

func TestValidatorSerialAliases(t *testing.T) {
	cases := []struct {
		name    string
		in, out string
		want    bool
	}{
		{"unknown", "UNKNOWN", "B-000C1234", true},
		{"placeholder", "-- to be assigned --", "B-000C1234", true},
		{"renumbered", "B-000C1234", "C-000C1234", true},
		{"different", "B-000C1234", "B-000C9999", false},
		{"reverse renumbering", "C-000C1234", "B-000C1234", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, serialAlias(tc.in, tc.out))
		})
	}

	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
	r := row("2018y03m07d14h32m05s", "update")
	r["IN-SN"] = "B-000C9999"
	_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{r})
	require.NoError(t, err)

	// The directory is named for the out serial number, which is accepted.
	v, _ := validate(t, gen, fullManifest())
	require.Equal(t, []Kind{KindOperationalFileInvalidProperties}, kinds(v.Errors()))
	assert.Equal(t, "outTalkingBook", v.Errors()[0].Mismatches[0].Property)
	assert.Equal(t, 2, v.Errors()[0].Mismatches[0].Line)
}

func TestValidatorOperationalLineProblems(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
	_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{
		row("2018y03m07d14h32m05s", "update"),
		row("2018y03m07d15h00m00s", "reflash"),
		row("not a time", "update"),
		row("still not a time", "update"),
	})
	require.NoError(t, err)

	v, result := validate(t, gen, fullManifest())
	require.Equal(t, []Kind{KindOperationalFileInvalidProperties}, kinds(v.Errors()))
	assert.Len(t, v.Errors()[0].Mismatches, 2)

	opPath := []string{"UWR", device, opFile}
	action, ok := result.Get(opPath, report.AttrUnexpectedOperationalAction)
	require.True(t, ok)
	assert.Equal(t, "reflash", action)
	corrupt, ok := result.Get(opPath, report.AttrCorruptOperationalLine)
	require.True(t, ok)
	assert.Equal(t, "line 4", corrupt)
}

func TestValidatorSyncDirChecks(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", false)
	reformatted := syncDir(t, gen, "2018y03m08d14h32m05s-laptop-1", false)
	require.NoError(t, os.WriteFile(filepath.Join(reformatted, constants.CheckDiskReformatTag), nil, 0644))
	_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{
		row("2018y03m08d14h32m05s", "update"),
	})
	require.NoError(t, err)

	v, _ := validate(t, gen, fullManifest())
	assert.Equal(t, []Kind{KindEmptySyncDirectory}, kinds(v.Errors()))
}

func TestValidatorManifestChecks(t *testing.T) {
	t.Run("device missing is reported once", func(t *testing.T) {
		gen := fixtures.NewPackageGenerator(t.TempDir())
		syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
		syncDir(t, gen, "2018y03m08d14h32m05s-laptop-1", true)
		_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{
			row("2018y03m07d14h32m05s", "update"),
			row("2018y03m08d14h32m05s", "update"),
		})
		require.NoError(t, err)

		v, _ := validate(t, gen, model.NewManifest(model.FormatArchive))
		assert.Equal(t, []Kind{KindManifestDoesNotContainDevice}, kinds(v.Errors()))
	})

	t.Run("range too narrow", func(t *testing.T) {
		gen := fixtures.NewPackageGenerator(t.TempDir())
		syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
		_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{
			row("2018y03m07d14h32m05s", "update"),
		})
		require.NoError(t, err)

		m := model.NewManifest(model.FormatArchive)
		m.Observe(device, time.Date(2018, 4, 1, 0, 0, 0, 0, time.UTC))
		v, _ := validate(t, gen, m)
		assert.Equal(t, []Kind{KindManifestHasWrongDeviceRanges}, kinds(v.Errors()))
	})
}

func TestValidatorDuplicateTimestamps(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
	first := row("2018y03m07d14h32m05s", "update")
	second := row("2018y03m07d14h32m05s", "update")
	second["IN-COMMUNITY"] = "UNKNOWN"
	_, err := gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{first, second})
	require.NoError(t, err)

	v, result := validate(t, gen, fullManifest())
	// The newer record keeps the key; the older one moves a millisecond later
	// and is left unmatched.
	require.Equal(t, []Kind{KindUnmatchedOperationalEntries}, kinds(v.Errors()))
	require.Len(t, v.Errors()[0].Entries, 1)
	assert.Contains(t, v.Errors()[0].Entries[0], opFile+":2")
	assert.Equal(t, 1, result.Count(report.AttrOpDataNoSyncDir))
}

func TestValidatorLegacyWindow(t *testing.T) {
	root := t.TempDir()
	gen := fixtures.NewPackageGenerator(root)
	opPath, err := gen.WriteOperationalData("", device, "tbData-v03-2014y03m07d-laptop-1.csv", []fixtures.OperationalRow{
		{"UPDATE_DATE_TIME": "3m7d14h40m00s", "ACTION": "update", "OUT-SN": talkingBk, "IN-SN": talkingBk,
			"OUT-DEPLOYMENT": "2014-3", "IN-DEPLOYMENT": "2014-2", "IN-COMMUNITY": village},
		{"UPDATE_DATE_TIME": "3m9d09h00m00s", "ACTION": "update", "OUT-SN": talkingBk, "IN-SN": talkingBk,
			"OUT-DEPLOYMENT": "2014-3", "IN-DEPLOYMENT": "garbled", "IN-COMMUNITY": village},
	})
	require.NoError(t, err)

	near := filepath.Join(root, "3m7d14h32m5s")
	far := filepath.Join(root, "3m8d14h32m5s")
	for _, dir := range []string{near, far} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "log"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "log", "log.txt"), []byte("x\n"), 0644))
	}

	dep := model.ParseDeploymentId("2014-2")
	result := report.NewResultTree("")
	v := NewValidator(result, Options{})
	require.True(t, v.StartProcessing(root, nil, model.FormatSync))
	require.True(t, v.StartDeviceOperationalData(device))
	require.NoError(t, v.ProcessTbDataFile(opPath, true))
	v.EndDeviceOperationalData()
	require.True(t, v.StartDeviceDeployment(model.DeviceDeploymentPair{Device: device, Deployment: "2014-2"}))
	require.True(t, v.StartVillage(village))
	require.True(t, v.StartTalkingBook(talkingBk))
	require.NoError(t, v.ProcessSyncDir(model.ParseSyncDirId(dep, "3m7d14h32m5s"), near))
	require.NoError(t, v.ProcessSyncDir(model.ParseSyncDirId(dep, "3m8d14h32m5s"), far))
	v.EndProcessing()

	// The first directory finds a record eight minutes later. The second one's
	// next record is a day later, outside the window. The garbled deployment
	// is guessed from the out deployment.
	assert.Equal(t, []Kind{
		KindOperationalFileInvalidProperties,
		KindNoMatchingOperationalData,
		KindUnmatchedOperationalEntries,
	}, kinds(v.Errors()))
	assert.Equal(t, "inDeploymentId", v.Errors()[0].Mismatches[0].Property)
}

func TestValidatorUnknownOperationalSchema(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	syncDir(t, gen, "2018y03m07d14h32m05s-laptop-1", true)
	_, err := gen.WriteOperationalData("UWR", device, "tbData-v07-2018y03m07d-laptop-1.csv", []fixtures.OperationalRow{
		row("2018y03m07d14h32m05s", "update"),
	})
	require.NoError(t, err)

	// Lenient runs read the file with the current layout.
	v, result, err := validateWith(t, gen, fullManifest(), Options{})
	require.NoError(t, err)
	assert.Empty(t, v.Errors())
	assert.Zero(t, result.Count(report.AttrSyncDirNoOpData))

	_, _, err = validateWith(t, gen, fullManifest(), Options{Strict: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, tbdata.ErrUnknownSchema)
}
