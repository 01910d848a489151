package scanner

import (
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
)

// ManifestBuilder is the visitor of the preliminary walk of a root without a
// manifest. It widens each carrier device's sync range with every sync
// session it finds.
type ManifestBuilder struct {
	*BaseVisitor
	manifest *model.Manifest
}

func NewManifestBuilder(result *report.ResultTree, format model.DirectoryFormat) *ManifestBuilder {
	return &ManifestBuilder{
		BaseVisitor: NewBaseVisitor(result),
		manifest:    model.NewManifest(format),
	}
}

func (m *ManifestBuilder) ProcessSyncDir(id model.SyncDirId, _ string) error {
	m.manifest.Observe(m.Device, id.DateTime)
	return nil
}

// Manifest returns the manifest built so far.
func (m *ManifestBuilder) Manifest() *model.Manifest {
	return m.manifest
}
