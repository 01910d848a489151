package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/aggregator"
)

var ErrInvalidThreshold = errors.New("consistency threshold must be a non-negative number")

// ConsistencyRecord is the pair of counts compared for one dimension value.
type ConsistencyRecord struct {
	Count1 int `json:"count1" yaml:"count1"`
	Count2 int `json:"count2" yaml:"count2"`
}

// Disparity is the relative difference of count2 against count1. With no
// reference count the disparity is count2 itself.
func Disparity(count1, count2 int) float64 {
	if count1 == 0 {
		return float64(count2)
	}
	return math.Abs(float64(count1-count2)) / float64(count1)
}

// ConsistencyChecker compares two aggregation views. The first view may vary
// per deployment.
type ConsistencyChecker struct {
	source1 func(model.DeploymentId) *aggregator.StatAggregator
	source2 *aggregator.StatAggregator
	views   []*aggregator.StatAggregator
}

// NewConsistencyChecker compares source1 (preferred) against source2 (reference).
func NewConsistencyChecker(source1, source2 *aggregator.StatAggregator) *ConsistencyChecker {
	return &ConsistencyChecker{
		source1: func(model.DeploymentId) *aggregator.StatAggregator { return source1 },
		source2: source2,
		views:   []*aggregator.StatAggregator{source1, source2},
	}
}

// NewBestViewChecker compares the best view of each deployment (flash, else
// stats files) against the replayed logs.
func NewBestViewChecker(p *aggregator.AggregationProcessor) *ConsistencyChecker {
	return &ConsistencyChecker{
		source1: p.BestView,
		source2: p.Logs,
		views:   []*aggregator.StatAggregator{p.Flash, p.Stats, p.Logs},
	}
}

// Deployments lists every deployment seen by either side, in order.
func (c *ConsistencyChecker) Deployments() []model.DeploymentId {
	seen := make(map[model.DeploymentId]struct{})
	var out []model.DeploymentId
	for _, v := range c.views {
		for _, d := range v.Deployments() {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// FindDisparitiesForDeployment returns the dimension values of one deployment
// whose metric differs by at least threshold. A value missing from one view
// counts as 0 there.
func (c *ConsistencyChecker) FindDisparitiesForDeployment(deployment model.DeploymentId, grouping model.Grouping,
	metric model.Metric, threshold float64) (map[string]ConsistencyRecord, error) {
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}

	agg1 := c.source1(deployment).Deployment(deployment)
	agg2 := c.source2.Deployment(deployment)

	found := make(map[string]ConsistencyRecord)
	for _, key := range unionKeys(agg1.Keys(grouping), agg2.Keys(grouping)) {
		count1 := agg1.Get(grouping, key, metric)
		count2 := agg2.Get(grouping, key, metric)
		if Disparity(count1, count2) >= threshold {
			found[key] = ConsistencyRecord{Count1: count1, Count2: count2}
		}
	}
	return found, nil
}

// FindDisparities runs FindDisparitiesForDeployment for every deployment,
// omitting deployments without any flagged value.
func (c *ConsistencyChecker) FindDisparities(grouping model.Grouping, metric model.Metric,
	threshold float64) (map[model.DeploymentId]map[string]ConsistencyRecord, error) {
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}
	out := make(map[model.DeploymentId]map[string]ConsistencyRecord)
	for _, d := range c.Deployments() {
		found, err := c.FindDisparitiesForDeployment(d, grouping, metric, threshold)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			out[d] = found
		}
	}
	return out, nil
}

// Inconsistency is one flagged record of a reconciliation run.
type Inconsistency struct {
	Deployment model.DeploymentId `json:"deployment" yaml:"deployment"`
	Grouping   model.Grouping     `json:"grouping" yaml:"grouping"`
	Metric     model.Metric       `json:"metric" yaml:"metric"`
	Key        string             `json:"key" yaml:"key"`
	ConsistencyRecord
	Disparity float64 `json:"disparity" yaml:"disparity"`
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("%s %s=%s %s: %d vs %d (%.2f)",
		i.Deployment, i.Grouping, i.Key, i.Metric, i.Count1, i.Count2, i.Disparity)
}

// Reconcile evaluates every grouping and metric and flattens the flagged
// records, ordered by deployment, grouping, metric and key.
func (c *ConsistencyChecker) Reconcile(groupings []model.Grouping, metrics []model.Metric, threshold float64) ([]Inconsistency, error) {
	var out []Inconsistency
	for _, g := range groupings {
		for _, m := range metrics {
			found, err := c.FindDisparities(g, m, threshold)
			if err != nil {
				return nil, fmt.Errorf("reconcile %s by %s: %w", m, g, err)
			}
			for d, records := range found {
				for key, r := range records {
					out = append(out, Inconsistency{
						Deployment:        d,
						Grouping:          g,
						Metric:            m,
						Key:               key,
						ConsistencyRecord: r,
						Disparity:         Disparity(r.Count1, r.Count2),
					})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Deployment != b.Deployment {
			return a.Deployment.Less(b.Deployment)
		}
		if a.Grouping != b.Grouping {
			return a.Grouping < b.Grouping
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Key < b.Key
	})
	return out, nil
}

func checkThreshold(threshold float64) error {
	if threshold < 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	return nil
}

func unionKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
