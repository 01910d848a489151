package model

import (
	"fmt"
	"strings"
)

// Metric names a usage counter kept per aggregation bucket.
type Metric int

const (
	MetricStartedPlays Metric = iota
	MetricQuarterPlays
	MetricHalfPlays
	MetricThreeQuartersPlays
	MetricTenSecondPlays
	MetricFinishedPlays
	MetricTotalTimePlayed
	MetricSurveyTaken
	MetricSurveyApplied
	MetricSurveyUseless
	MetricRecording
	MetricRecordingTime
	MetricCorruptedFiles
	MetricCorruptedLines
)

var metricNames = []string{
	"startedPlays",
	"quarterPlays",
	"halfPlays",
	"threeQuartersPlays",
	"tenSecondPlays",
	"finishedPlays",
	"totalTimePlayed",
	"surveyTaken",
	"surveyApplied",
	"surveyUseless",
	"recording",
	"recordingTime",
	"corruptedFiles",
	"corruptedLines",
}

// AllMetrics lists every metric in declaration order.
func AllMetrics() []Metric {
	out := make([]Metric, len(metricNames))
	for i := range metricNames {
		out[i] = Metric(i)
	}
	return out
}

// DefaultConsistencyMetrics are compared between views after an import.
func DefaultConsistencyMetrics() []Metric {
	return []Metric{
		MetricTenSecondPlays,
		MetricFinishedPlays,
		MetricSurveyTaken,
		MetricSurveyUseless,
		MetricSurveyApplied,
	}
}

func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return metricNames[m]
}

// MarshalText renders the metric by name.
func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMetric resolves a metric by name, ignoring case.
func ParseMetric(name string) (Metric, error) {
	for i, n := range metricNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}

// Grouping is the dimension an aggregation bucket is keyed by.
type Grouping int

const (
	GroupByContent Grouping = iota
	GroupByVillage
	GroupByTalkingBook
)

var groupingNames = map[Grouping]string{
	GroupByContent:     "content",
	GroupByVillage:     "village",
	GroupByTalkingBook: "talkingBook",
}

func (g Grouping) String() string {
	if name, ok := groupingNames[g]; ok {
		return name
	}
	return fmt.Sprintf("Grouping(%d)", int(g))
}

// MarshalText renders the grouping by name.
func (g Grouping) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// ParseGrouping accepts content/contentId, village and talkingBook/tb, ignoring case.
func ParseGrouping(name string) (Grouping, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "content", "contentid":
		return GroupByContent, nil
	case "village", "community":
		return GroupByVillage, nil
	case "talkingbook", "tb", "unit":
		return GroupByTalkingBook, nil
	default:
		return 0, fmt.Errorf("unknown grouping %q", name)
	}
}

// AllGroupings lists the three dimensions every usage fact fans out to.
func AllGroupings() []Grouping {
	return []Grouping{GroupByContent, GroupByVillage, GroupByTalkingBook}
}
