// Package version reports build metadata. Release builds set these through
// -ldflags "-X"; local builds fall back to the module's VCS stamp.
package version

import "runtime/debug"

// AppName names the service in logs, metrics, traces and profiles.
const AppName = "linnemanlabs-admin"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	ReleaseId  string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	AppName    string `json:"app_name"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	ReleaseId  string `json:"release_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// HasProvenance reports whether the binary came out of the release pipeline.
// Release builds are held to stricter startup checks.
func (i Info) HasProvenance() bool {
	return i.ReleaseId != ""
}

func Get() Info {
	out := Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		ReleaseId:  ReleaseId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
			out.CommitDate = s.Value
		case "vcs.modified":
			dirty := s.Value == "true"
			if s.Value == "true" || s.Value == "false" {
				out.VCSDirty = &dirty
			}
		}
	}
	return out
}
