package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/aggregator"
)

var update2012 = model.ParseDeploymentId("2012-1")

func TestDisparity(t *testing.T) {
	assert.Equal(t, 0.0, Disparity(7, 7))
	assert.InDelta(t, 0.1, Disparity(10, 9), 1e-9)
	assert.InDelta(t, 0.1, Disparity(10, 11), 1e-9)
	assert.Equal(t, 9.0, Disparity(0, 9))
	assert.Equal(t, 0.0, Disparity(0, 0))
	assert.Equal(t, 1.0, Disparity(7, 0))
}

func TestConsistencyCheckerIdenticalViews(t *testing.T) {
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	for _, s := range []*aggregator.StatAggregator{stats1, stats2} {
		s.Add(update2012, model.MetricTenSecondPlays, "C1", "V1", "TB1", 7)
		s.Add(update2012, model.MetricTenSecondPlays, "C2", "V1", "TB1", 7)
	}
	checker := NewConsistencyChecker(stats1, stats2)

	found, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByContent, model.MetricTenSecondPlays, 0.001)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = checker.FindDisparitiesForDeployment(update2012, model.GroupByContent, model.MetricTenSecondPlays, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]ConsistencyRecord{
		"C1": {Count1: 7, Count2: 7},
		"C2": {Count1: 7, Count2: 7},
	}, found)
}

func TestConsistencyCheckerThresholds(t *testing.T) {
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	stats1.Add(update2012, model.MetricTenSecondPlays, "C1", "V1", "TB1", 10)
	stats2.Add(update2012, model.MetricTenSecondPlays, "C1", "V1", "TB1", 9)
	stats1.Add(update2012, model.MetricTenSecondPlays, "C2", "V2", "TB2", 10)
	stats2.Add(update2012, model.MetricTenSecondPlays, "C2", "V2", "TB2", 8)
	checker := NewConsistencyChecker(stats1, stats2)

	tests := []struct {
		threshold float64
		want      map[string]ConsistencyRecord
	}{
		{0.001, map[string]ConsistencyRecord{"TB1": {10, 9}, "TB2": {10, 8}}},
		{0.1, map[string]ConsistencyRecord{"TB1": {10, 9}, "TB2": {10, 8}}},
		{0.11, map[string]ConsistencyRecord{"TB2": {10, 8}}},
		{0.20, map[string]ConsistencyRecord{"TB2": {10, 8}}},
		{0.21, map[string]ConsistencyRecord{}},
	}
	for _, tt := range tests {
		found, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByTalkingBook, model.MetricTenSecondPlays, tt.threshold)
		require.NoError(t, err)
		assert.Equal(t, tt.want, found, "threshold %v", tt.threshold)
	}
}

func TestConsistencyCheckerAsymmetricDeployments(t *testing.T) {
	update2013 := model.ParseDeploymentId("2013-1")
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	stats1.Add(update2012, model.MetricTenSecondPlays, "C1", "V1", "TB1", 10)
	stats2.Add(update2013, model.MetricTenSecondPlays, "C1", "V1", "TB1", 9)

	found, err := NewConsistencyChecker(stats1, stats2).FindDisparities(model.GroupByTalkingBook, model.MetricTenSecondPlays, 0.001)
	require.NoError(t, err)
	assert.Equal(t, map[model.DeploymentId]map[string]ConsistencyRecord{
		update2012: {"TB1": {Count1: 10, Count2: 0}},
		update2013: {"TB1": {Count1: 0, Count2: 9}},
	}, found)
}

func TestConsistencyCheckerMissingValueCountsAsZero(t *testing.T) {
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	stats1.Add(update2012, model.MetricFinishedPlays, "C1", "V1", "TB1", 7)
	stats2.Add(update2012, model.MetricFinishedPlays, "C2", "V1", "TB1", 9)
	checker := NewConsistencyChecker(stats1, stats2)

	found, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByContent, model.MetricFinishedPlays, 0.5)
	require.NoError(t, err)
	assert.Equal(t, map[string]ConsistencyRecord{
		"C1": {Count1: 7, Count2: 0},
		"C2": {Count1: 0, Count2: 9},
	}, found)

	// Both sides were attributed to the same village and talking book.
	found, err = checker.FindDisparitiesForDeployment(update2012, model.GroupByVillage, model.MetricFinishedPlays, 0.5)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestConsistencyCheckerDimensions(t *testing.T) {
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	stats1.Add(update2012, model.MetricSurveyTaken, "C1", "V1", "TB1", 4)
	stats1.Add(update2012, model.MetricSurveyTaken, "C1", "V2", "TB2", 4)
	stats2.Add(update2012, model.MetricSurveyTaken, "C1", "V1", "TB1", 4)
	stats2.Add(update2012, model.MetricSurveyTaken, "C1", "V2", "TB3", 4)
	checker := NewConsistencyChecker(stats1, stats2)

	byContent, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByContent, model.MetricSurveyTaken, 0.1)
	require.NoError(t, err)
	assert.Empty(t, byContent)

	byVillage, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByVillage, model.MetricSurveyTaken, 0.1)
	require.NoError(t, err)
	assert.Empty(t, byVillage)

	byTB, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByTalkingBook, model.MetricSurveyTaken, 0.1)
	require.NoError(t, err)
	assert.Equal(t, map[string]ConsistencyRecord{
		"TB2": {Count1: 4, Count2: 0},
		"TB3": {Count1: 0, Count2: 4},
	}, byTB)

	// Other metrics are evaluated independently.
	other, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByTalkingBook, model.MetricSurveyApplied, 0.1)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestConsistencyCheckerAllDeployments(t *testing.T) {
	update2013 := model.ParseDeploymentId("2013-2")
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	stats1.Add(update2012, model.MetricTenSecondPlays, "C1", "V1", "TB1", 5)
	stats2.Add(update2012, model.MetricTenSecondPlays, "C1", "V1", "TB1", 5)
	stats2.Add(update2013, model.MetricTenSecondPlays, "C9", "V1", "TB1", 3)
	checker := NewConsistencyChecker(stats1, stats2)

	assert.Equal(t, []model.DeploymentId{update2012, update2013}, checker.Deployments())

	found, err := checker.FindDisparities(model.GroupByContent, model.MetricTenSecondPlays, 0.1)
	require.NoError(t, err)
	assert.Equal(t, map[model.DeploymentId]map[string]ConsistencyRecord{
		update2013: {"C9": {Count1: 0, Count2: 3}},
	}, found)
}

func TestConsistencyCheckerMonotonicInThreshold(t *testing.T) {
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	counts := []struct {
		key    string
		c1, c2 int
	}{
		{"A", 10, 10}, {"B", 10, 9}, {"C", 10, 5}, {"D", 0, 1}, {"E", 3, 0}, {"F", 20, 27},
	}
	for _, c := range counts {
		stats1.Add(update2012, model.MetricFinishedPlays, c.key, "V", "TB", c.c1)
		stats2.Add(update2012, model.MetricFinishedPlays, c.key, "V", "TB", c.c2)
	}
	checker := NewConsistencyChecker(stats1, stats2)

	thresholds := []float64{0, 0.05, 0.1, 0.3, 0.5, 1, 2}
	var previous map[string]ConsistencyRecord
	for _, th := range thresholds {
		found, err := checker.FindDisparitiesForDeployment(update2012, model.GroupByContent, model.MetricFinishedPlays, th)
		require.NoError(t, err)
		if previous != nil {
			for key := range found {
				assert.Contains(t, previous, key, "threshold %v", th)
			}
		}
		previous = found
	}
}

func TestConsistencyCheckerInvalidThreshold(t *testing.T) {
	checker := NewConsistencyChecker(aggregator.NewStatAggregator("one"), aggregator.NewStatAggregator("two"))
	_, err := checker.FindDisparities(model.GroupByContent, model.MetricFinishedPlays, -0.1)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = checker.Reconcile(model.AllGroupings(), model.DefaultConsistencyMetrics(), -1)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestBestViewChecker(t *testing.T) {
	update2013 := model.ParseDeploymentId("2013-2")
	p := aggregator.NewAggregationProcessor(10)
	p.Flash.Add(update2012, model.MetricFinishedPlays, "C1", "V1", "TB1", 10)
	p.Stats.Add(update2012, model.MetricFinishedPlays, "C1", "V1", "TB1", 1)
	p.Stats.Add(update2013, model.MetricFinishedPlays, "C2", "V1", "TB1", 4)
	p.Logs.Add(update2012, model.MetricFinishedPlays, "C1", "V1", "TB1", 10)
	p.Logs.Add(update2013, model.MetricFinishedPlays, "C2", "V1", "TB1", 2)

	checker := NewBestViewChecker(p)
	found, err := checker.Reconcile([]model.Grouping{model.GroupByContent}, []model.Metric{model.MetricFinishedPlays}, 0.1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, update2013, found[0].Deployment)
	assert.Equal(t, "C2", found[0].Key)
	assert.Equal(t, ConsistencyRecord{Count1: 4, Count2: 2}, found[0].ConsistencyRecord)
	assert.InDelta(t, 0.5, found[0].Disparity, 1e-9)
}

func TestReconcileOrdering(t *testing.T) {
	stats1 := aggregator.NewStatAggregator("one")
	stats2 := aggregator.NewStatAggregator("two")
	stats1.Add(update2012, model.MetricTenSecondPlays, "C2", "V1", "TB1", 5)
	stats1.Add(update2012, model.MetricTenSecondPlays, "C1", "V1", "TB1", 5)
	stats2.Add(update2012, model.MetricFinishedPlays, "C1", "V1", "TB1", 1)

	found, err := NewConsistencyChecker(stats1, stats2).Reconcile(
		[]model.Grouping{model.GroupByContent},
		[]model.Metric{model.MetricFinishedPlays, model.MetricTenSecondPlays}, 0.1)
	require.NoError(t, err)

	var keys []string
	for _, f := range found {
		keys = append(keys, f.Metric.String()+"/"+f.Key)
	}
	assert.Equal(t, []string{"tenSecondPlays/C1", "tenSecondPlays/C2", "finishedPlays/C1"}, keys)
}
