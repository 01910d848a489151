package model

import "time"

// OperationalLogLine is one tbdata CSV row: the carrier tool's record of a sync
// it performed. Fields absent from older schemas stay empty.
type OperationalLogLine struct {
	Project        string `json:"project,omitempty"`
	UpdateDateTime string `json:"updateDateTime"`
	OutSyncDir     string `json:"outSyncDir,omitempty"`
	Location       string `json:"location,omitempty"`
	Action         string `json:"action"`
	DurationSec    int    `json:"durationSec,omitempty"`

	OutSN           string    `json:"outSn"`
	OutDeployment   string    `json:"outDeployment"`
	OutImage        string    `json:"outImage,omitempty"`
	OutFirmware     string    `json:"outFwRev,omitempty"`
	OutCommunity    string    `json:"outCommunity"`
	OutRotationDate time.Time `json:"outRotationDate,omitempty"`

	InSN          string    `json:"inSn"`
	InDeployment  string    `json:"inDeployment"`
	InImage       string    `json:"inImage,omitempty"`
	InFirmware    string    `json:"inFwRev,omitempty"`
	InCommunity   string    `json:"inCommunity"`
	InLastUpdated time.Time `json:"inLastUpdated,omitempty"`
	InSyncDir     string    `json:"inSyncDir,omitempty"`
	InDiskLabel   string    `json:"inDiskLabel,omitempty"`
	DiskCorrupted string    `json:"chkdskCorruption,omitempty"`

	FlashSN          string `json:"flashSn,omitempty"`
	FlashReflashes   string `json:"flashReflashes,omitempty"`
	FlashDeployment  string `json:"flashDeployment,omitempty"`
	FlashImage       string `json:"flashImage,omitempty"`
	FlashCommunity   string `json:"flashCommunity,omitempty"`
	FlashLastUpdated string `json:"flashLastUpdated,omitempty"`
	FlashCumDays     string `json:"flashCumDays,omitempty"`
	FlashVolt        string `json:"flashVolt,omitempty"`
	FlashPowerups    string `json:"flashPowerups,omitempty"`
	FlashPeriods     string `json:"flashPeriods,omitempty"`
	FlashRotations   string `json:"flashRotations,omitempty"`
	FlashMsgs        string `json:"flashMsgs,omitempty"`
	FlashMinutes     string `json:"flashMinutes,omitempty"`
	FlashStarts      string `json:"flashStarts,omitempty"`
	FlashPartial     string `json:"flashPartial,omitempty"`
	FlashHalf        string `json:"flashHalf,omitempty"`
	FlashMost        string `json:"flashMost,omitempty"`
	FlashAll         string `json:"flashAll,omitempty"`
	FlashApplied     string `json:"flashApplied,omitempty"`
	FlashUseless     string `json:"flashUseless,omitempty"`

	// SourceFile and LineNumber locate the row for diagnostics.
	SourceFile string `json:"sourceFile,omitempty"`
	LineNumber int    `json:"lineNumber,omitempty"`
}

// Operational actions that describe a real sync.
const (
	ActionUpdatePrefix = "update"
	ActionStatsOnly    = "stats-only"
)
