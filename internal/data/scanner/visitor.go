package scanner

import (
	"path/filepath"
	"strings"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
)

// Visitor receives the walk of one processing root. Each Start hook returns
// whether to descend; its End hook is only called when it returned true.
type Visitor interface {
	StartProcessing(root string, manifest *model.Manifest, format model.DirectoryFormat) bool
	EndProcessing()

	StartDeviceOperationalData(device string) bool
	EndDeviceOperationalData()
	ProcessTbDataFile(path string, includesHeaders bool) error

	StartDeviceDeployment(pair model.DeviceDeploymentPair) bool
	EndDeviceDeployment()
	StartVillage(village string) bool
	EndVillage()
	StartTalkingBook(talkingBook string) bool
	EndTalkingBook()
	ProcessSyncDir(id model.SyncDirId, dir string) error
}

// BaseVisitor tracks where the walk is and records each level in the result
// tree. It visits every level except operational data. Embed it and call the
// embedded Start hook first when overriding one.
type BaseVisitor struct {
	Result *report.ResultTree

	Root         string
	Project      string
	Format       model.DirectoryFormat
	Manifest     *model.Manifest
	Device       string
	Deployment   string
	DeploymentID model.DeploymentId
	Village      string
	TalkingBook  string
}

// NewBaseVisitor records into result, which may be nil.
func NewBaseVisitor(result *report.ResultTree) *BaseVisitor {
	return &BaseVisitor{Result: result}
}

func (b *BaseVisitor) StartProcessing(root string, manifest *model.Manifest, format model.DirectoryFormat) bool {
	b.Root = root
	b.Project = filepath.Base(root)
	b.Manifest = manifest
	b.Format = format
	if b.Result != nil {
		b.Result.AddProject(b.Project)
	}
	return true
}

func (b *BaseVisitor) EndProcessing() {}

func (b *BaseVisitor) StartDeviceOperationalData(device string) bool {
	b.Device = device
	return false
}

func (b *BaseVisitor) EndDeviceOperationalData() {}

func (b *BaseVisitor) ProcessTbDataFile(string, bool) error { return nil }

func (b *BaseVisitor) StartDeviceDeployment(pair model.DeviceDeploymentPair) bool {
	b.Device = pair.Device
	b.Deployment = pair.Deployment
	b.DeploymentID = model.ParseDeploymentId(pair.Deployment)
	if b.Result != nil {
		b.Result.AddDeployment(b.Project, b.Device, b.Deployment)
	}
	return true
}

func (b *BaseVisitor) EndDeviceDeployment() {}

func (b *BaseVisitor) StartVillage(village string) bool {
	b.Village = village
	if b.Result != nil {
		b.Result.AddVillage(b.Project, b.Device, b.Deployment, b.Village)
	}
	return true
}

func (b *BaseVisitor) EndVillage() {}

func (b *BaseVisitor) StartTalkingBook(talkingBook string) bool {
	b.TalkingBook = talkingBook
	if b.Result != nil {
		b.Result.AddTalkingBook(b.Project, b.Device, b.Deployment, b.Village, b.TalkingBook)
	}
	return true
}

func (b *BaseVisitor) EndTalkingBook() {}

func (b *BaseVisitor) ProcessSyncDir(model.SyncDirId, string) error { return nil }

// DevicePath is the result-tree path of the current device.
func (b *BaseVisitor) DevicePath() []string {
	return []string{b.Project, b.Device}
}

// TalkingBookPath is the result-tree path of the current talking book.
func (b *BaseVisitor) TalkingBookPath() []string {
	return []string{b.Project, b.Device, b.Deployment, b.Village, b.TalkingBook}
}

// Filter restricts a walk. Empty fields match everything; others match
// ignoring case.
type Filter struct {
	Device      string `mapstructure:"device" yaml:"device"`
	Deployment  string `mapstructure:"deployment" yaml:"deployment"`
	Village     string `mapstructure:"village" yaml:"village"`
	TalkingBook string `mapstructure:"talking_book" yaml:"talking_book"`
}

func (f Filter) IsZero() bool {
	return f == Filter{}
}

func matches(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

// FilteringVisitor skips every level the filter rejects and forwards the
// rest to the wrapped visitor.
type FilteringVisitor struct {
	Visitor
	Filter Filter
}

// NewFilteringVisitor wraps v. An empty filter returns v unchanged.
func NewFilteringVisitor(v Visitor, f Filter) Visitor {
	if f.IsZero() {
		return v
	}
	return &FilteringVisitor{Visitor: v, Filter: f}
}

func (f *FilteringVisitor) StartDeviceOperationalData(device string) bool {
	return matches(f.Filter.Device, device) && f.Visitor.StartDeviceOperationalData(device)
}

func (f *FilteringVisitor) StartDeviceDeployment(pair model.DeviceDeploymentPair) bool {
	return matches(f.Filter.Device, pair.Device) &&
		matches(f.Filter.Deployment, pair.Deployment) &&
		f.Visitor.StartDeviceDeployment(pair)
}

func (f *FilteringVisitor) StartVillage(village string) bool {
	return matches(f.Filter.Village, village) && f.Visitor.StartVillage(village)
}

func (f *FilteringVisitor) StartTalkingBook(talkingBook string) bool {
	return matches(f.Filter.TalkingBook, talkingBook) && f.Visitor.StartTalkingBook(talkingBook)
}
