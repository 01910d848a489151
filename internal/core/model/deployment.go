package model

import (
	"fmt"
	"regexp"
	"strconv"
)

var deploymentIDPattern = regexp.MustCompile(`^(\D*-?)(\d+)-(?:(?:\D*-)*)(\d+)(\D*)$`)

// DeploymentId identifies a content update. Names like "2013-2" or "DEMO-2017-3b"
// yield a year, an update sequence and a flavor suffix; anything else keeps only
// its raw ID with zero year and update.
//
// DeploymentId is comparable and is used directly as a map key. Two ids are equal
// only when every field matches.
type DeploymentId struct {
	ID     string `json:"id"`
	Year   int    `json:"year"`
	Update int    `json:"update"`
	Flavor string `json:"flavor,omitempty"`
}

// ParseDeploymentId parses a deployment name on a best-effort basis.
func ParseDeploymentId(name string) DeploymentId {
	m := deploymentIDPattern.FindStringSubmatch(name)
	if m == nil {
		return DeploymentId{ID: name}
	}

	year, errYear := strconv.Atoi(m[2])
	update, errUpdate := strconv.Atoi(m[3])
	if errYear != nil || errUpdate != nil || year > 32767 || update > 32767 {
		return DeploymentId{ID: name}
	}

	return DeploymentId{ID: name, Year: year, Update: update, Flavor: m[4]}
}

// HasYear reports whether the name carried a parseable year.
func (d DeploymentId) HasYear() bool {
	return d.Year != 0
}

// GuessPrevious estimates the deployment preceding d, assuming eight updates a
// year restarting at 1 in January. Only used to repair very old operational
// records whose in-deployment was lost.
func (d DeploymentId) GuessPrevious() DeploymentId {
	if d.Update > 1 {
		return DeploymentId{
			ID:     fmt.Sprintf("%04d-%02d%s", d.Year, d.Update-1, d.Flavor),
			Year:   d.Year,
			Update: d.Update - 1,
			Flavor: d.Flavor,
		}
	}
	return DeploymentId{
		ID:     fmt.Sprintf("%04d-08%s", d.Year-1, d.Flavor),
		Year:   d.Year - 1,
		Update: 8,
		Flavor: d.Flavor,
	}
}

func (d DeploymentId) String() string {
	return d.ID
}

// Less orders deployments by year, update, flavor then raw id.
func (d DeploymentId) Less(o DeploymentId) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Update != o.Update {
		return d.Update < o.Update
	}
	if d.Flavor != o.Flavor {
		return d.Flavor < o.Flavor
	}
	return d.ID < o.ID
}

// DeviceDeploymentPair groups the sync data one carrier device collected for one deployment.
type DeviceDeploymentPair struct {
	Device     string `json:"device"`
	Deployment string `json:"deployment"`
}

func (p DeviceDeploymentPair) String() string {
	return p.Device + "/" + p.Deployment
}
