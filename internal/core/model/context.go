package model

import "time"

// ProcessingContext identifies the Talking Book whose data is being processed.
type ProcessingContext struct {
	TalkingBookID    string       `json:"talkingBookId"`
	Village          string       `json:"village"`
	RecipientID      string       `json:"recipientId,omitempty"`
	DeploymentID     DeploymentId `json:"deploymentId"`
	DeviceSyncedFrom string       `json:"deviceSyncedFrom"`
}

// NewProcessingContext builds a context, parsing the deployment name.
func NewProcessingContext(talkingBookID, village, deployment, deviceSyncedFrom, recipientID string) ProcessingContext {
	return ProcessingContext{
		TalkingBookID:    talkingBookID,
		Village:          village,
		RecipientID:      recipientID,
		DeploymentID:     ParseDeploymentId(deployment),
		DeviceSyncedFrom: deviceSyncedFrom,
	}
}

// SyncProcessingContext adds the facts of a single sync session.
type SyncProcessingContext struct {
	ProcessingContext
	SyncDirName    string    `json:"syncDirName"`
	SyncTime       time.Time `json:"syncTime"`
	DeploymentTime time.Time `json:"deploymentTime,omitempty"`
	DeploymentUUID string    `json:"deploymentUuid,omitempty"`
	ContentPackage string    `json:"contentPackage,omitempty"`
	Project        string    `json:"project,omitempty"`
}

// SyncContextParams carries the values a SyncProcessingContext is derived from.
type SyncContextParams struct {
	SyncDirName      string
	TalkingBookID    string
	Village          string
	ContentPackage   string
	Deployment       string
	Project          string
	DeviceSyncedFrom string
	RecipientID      string
	DeploymentTime   time.Time
	DeploymentUUID   string
}

// NewSyncProcessingContext builds a sync context. The sync time comes from
// parsing the directory name against the deployment.
func NewSyncProcessingContext(p SyncContextParams) SyncProcessingContext {
	pc := NewProcessingContext(p.TalkingBookID, p.Village, p.Deployment, p.DeviceSyncedFrom, p.RecipientID)
	syncID := ParseSyncDirId(pc.DeploymentID, p.SyncDirName)
	return SyncProcessingContext{
		ProcessingContext: pc,
		SyncDirName:       p.SyncDirName,
		SyncTime:          syncID.DateTime,
		DeploymentTime:    p.DeploymentTime,
		DeploymentUUID:    p.DeploymentUUID,
		ContentPackage:    p.ContentPackage,
		Project:           p.Project,
	}
}
