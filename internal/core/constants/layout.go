package constants

import "time"

// Directory and file names inside a transfer package.
const (
	ManifestFileName     = "StatsPackageManifest.json"
	CollectedDataDir     = "collected-data"
	TalkingBookDataDir   = "TalkingBookData"
	OperationalDataDir   = "OperationalData"
	TbDataDir            = "tbdata"
	LogsDir              = "logs"
	UnknownDeployment    = "UNKNOWN"
	CheckDiskReformatTag = "chkdsk-reformat.txt"
)

// Files and folders of a single sync session (a copy of the Talking Book file system).
const (
	SyncLogDir           = "log"
	SyncLogFile          = "log.txt"
	SyncLogArchiveDir    = "log-archive"
	SyncLogArchiveGlob   = "log_*.txt"
	StatisticsDir        = "statistics"
	FlashDataFile        = "flashData.bin"
	StatsFileGlob        = "*.stat"
	SystemDir            = "system"
	DeploymentProperties = "deployment.properties"
	LastUpdatedFile      = "last_updated.txt"
	SysDataFile          = "sysdata.txt"
)

const (
	// DefaultMaxTimeWindow bounds how much later an operational record may be
	// than a legacy sync directory it is matched to.
	DefaultMaxTimeWindow = 10 * time.Minute

	// DefaultMinPlaySeconds is the shortest playback counted as a play.
	DefaultMinPlaySeconds = 10

	// DefaultConsistencyThreshold is the relative disparity flagged between two views.
	DefaultConsistencyThreshold = 0.1
)
