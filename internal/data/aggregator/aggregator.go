package aggregator

import (
	"sort"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
)

// Aggregations holds the metric counters of one bucket. A missing metric reads as 0.
type Aggregations map[model.Metric]int

// Add increments metric by amount.
func (a Aggregations) Add(metric model.Metric, amount int) {
	a[metric] += amount
}

// Get returns the count for metric.
func (a Aggregations) Get(metric model.Metric) int {
	return a[metric]
}

// UpdateAggregations holds the buckets of one deployment, keyed once per grouping.
type UpdateAggregations struct {
	groups map[model.Grouping]map[string]Aggregations
}

// NewUpdateAggregations creates an empty set with every grouping present.
func NewUpdateAggregations() *UpdateAggregations {
	groups := make(map[model.Grouping]map[string]Aggregations, 3)
	for _, g := range model.AllGroupings() {
		groups[g] = make(map[string]Aggregations)
	}
	return &UpdateAggregations{groups: groups}
}

// Add records one fact in all three groupings.
func (u *UpdateAggregations) Add(metric model.Metric, contentID, village, talkingBook string, amount int) {
	u.bucket(model.GroupByContent, contentID).Add(metric, amount)
	u.bucket(model.GroupByVillage, village).Add(metric, amount)
	u.bucket(model.GroupByTalkingBook, talkingBook).Add(metric, amount)
}

func (u *UpdateAggregations) bucket(g model.Grouping, key string) Aggregations {
	b, ok := u.groups[g][key]
	if !ok {
		b = make(Aggregations)
		u.groups[g][key] = b
	}
	return b
}

// Map returns the buckets of a grouping, keyed by dimension value.
func (u *UpdateAggregations) Map(g model.Grouping) map[string]Aggregations {
	return u.groups[g]
}

// Get returns the count for one dimension value, or 0.
func (u *UpdateAggregations) Get(g model.Grouping, key string, metric model.Metric) int {
	if u == nil {
		return 0
	}
	if b, ok := u.groups[g][key]; ok {
		return b.Get(metric)
	}
	return 0
}

// Keys returns the dimension values of a grouping in sorted order.
func (u *UpdateAggregations) Keys(g model.Grouping) []string {
	if u == nil {
		return nil
	}
	keys := make([]string, 0, len(u.groups[g]))
	for k := range u.groups[g] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StatAggregator is one aggregation view: usage facts split per deployment.
type StatAggregator struct {
	Name          string
	perDeployment map[model.DeploymentId]*UpdateAggregations
}

// NewStatAggregator creates an empty view.
func NewStatAggregator(name string) *StatAggregator {
	return &StatAggregator{
		Name:          name,
		perDeployment: make(map[model.DeploymentId]*UpdateAggregations),
	}
}

// Add records amount of metric for a content item played on a Talking Book in a village.
func (s *StatAggregator) Add(deployment model.DeploymentId, metric model.Metric, contentID, village, talkingBook string, amount int) {
	u, ok := s.perDeployment[deployment]
	if !ok {
		u = NewUpdateAggregations()
		s.perDeployment[deployment] = u
	}
	u.Add(metric, contentID, village, talkingBook, amount)
}

// Deployment returns the aggregations of one deployment, or nil.
func (s *StatAggregator) Deployment(deployment model.DeploymentId) *UpdateAggregations {
	return s.perDeployment[deployment]
}

// Has reports whether the view saw any fact for deployment.
func (s *StatAggregator) Has(deployment model.DeploymentId) bool {
	_, ok := s.perDeployment[deployment]
	return ok
}

// Len returns the number of deployments in the view.
func (s *StatAggregator) Len() int {
	return len(s.perDeployment)
}

// Deployments returns the deployments seen, in order.
func (s *StatAggregator) Deployments() []model.DeploymentId {
	out := make([]model.DeploymentId, 0, len(s.perDeployment))
	for d := range s.perDeployment {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
