// Copyright 2025 The portal-evm-rpc Authors
// This file is part of the portal-evm-rpc library.
//
// The portal-evm-rpc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The portal-evm-rpc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the portal-evm-rpc library. If not, see <http://www.gnu.org/licenses/>.

// Package version carries the release identity of the gateway binary.
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

const (
	Major = 0          // Major version component of the current release
	Minor = 3          // Minor version component of the current release
	Patch = 0          // Patch version component of the current release
	Meta  = "unstable" // Version metadata to append to the version string
)

// Version holds the textual version string.
var Version = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)

// WithMeta holds the textual version string including the metadata.
var WithMeta = func() string {
	v := Version
	if Meta != "" {
		v += "-" + Meta
	}
	return v
}()

// These variables are set at build-time by the linker.
var gitCommit, gitDate string

// VCSInfo represents the git repository state the binary was built from.
type VCSInfo struct {
	Commit string // head commit hash
	Date   string // commit time in YYYYMMDD format
	Dirty  bool
}

// VCS returns version control information of the current executable,
// preferring linker-injected values over the embedded build info.
func VCS() (VCSInfo, bool) {
	if gitCommit != "" {
		return VCSInfo{Commit: gitCommit, Date: gitDate}, true
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return VCSInfo{}, false
	}
	var (
		info  VCSInfo
		found bool
	)
	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
			found = true
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				info.Date = t.Format("20060102")
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info, found
}

// Info returns the full version line printed by the version command and
// stamped on capability responses.
func Info() string {
	v := WithMeta
	status, ok := VCS()
	if !ok {
		return v
	}
	commit := status.Commit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	if commit != "" {
		v += "-" + commit
	}
	if status.Date != "" {
		v += "-" + status.Date
	}
	if status.Dirty {
		v += " (dirty)"
	}
	return v
}
