package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricNames(t *testing.T) {
	for _, m := range AllMetrics() {
		parsed, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	m, err := ParseMetric("TENSECONDPLAYS")
	require.NoError(t, err)
	assert.Equal(t, MetricTenSecondPlays, m)

	_, err = ParseMetric("bogus")
	assert.Error(t, err)
}

func TestParseGrouping(t *testing.T) {
	g, err := ParseGrouping("contentId")
	require.NoError(t, err)
	assert.Equal(t, GroupByContent, g)

	g, err = ParseGrouping("TB")
	require.NoError(t, err)
	assert.Equal(t, GroupByTalkingBook, g)

	_, err = ParseGrouping("planet")
	assert.Error(t, err)
}

func TestParseDirectoryFormat(t *testing.T) {
	f, err := ParseDirectoryFormat("Archive")
	require.NoError(t, err)
	assert.Equal(t, FormatArchive, f)
	assert.Equal(t, 2, f.Version())

	f, err = ParseDirectoryFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatUnknown, f)

	_, err = ParseDirectoryFormat("zip")
	assert.Error(t, err)

	_, err = DirectoryFormatFromVersion(3)
	assert.Error(t, err)
}
