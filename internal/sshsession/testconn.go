package sshsession

import (
	"context"
	"strings"
)

// ConnTestReport is the diagnostic payload returned by TestConnection: a
// small grab-bag of facts about the remote host useful for a human
// confirming a freshly-added entry is reachable and usable.
type ConnTestReport struct {
	OS            string `json:"os"`
	Python        string `json:"python"`
	PythonVersion string `json:"python_version,omitempty"`
	CurrentDir    string `json:"current_dir"`
}

// TestConnection runs a handful of cheap diagnostic commands and reports
// what it finds. It does not fail the overall test when an individual
// probe comes back empty — each field simply reports its fallback value.
func (s *Session) TestConnection(ctx context.Context) (ConnTestReport, error) {
	var report ConnTestReport

	if res, err := s.RunShort(ctx, "uname -a"); err == nil && res.ExitOK {
		report.OS = strings.TrimSpace(res.Stdout)
	} else {
		report.OS = "Unknown"
	}

	if res, err := s.RunShort(ctx, "which python3 || which python"); err == nil && res.ExitOK && strings.TrimSpace(res.Stdout) != "" {
		pythonCmd := strings.TrimSpace(res.Stdout)
		report.Python = pythonCmd
		if vres, err := s.RunShort(ctx, pythonCmd+" --version"); err == nil {
			v := strings.TrimSpace(vres.Stdout)
			if v == "" {
				v = strings.TrimSpace(vres.Stderr)
			}
			report.PythonVersion = v
		}
	} else {
		report.Python = "Not found"
	}

	if res, err := s.RunShort(ctx, "pwd"); err == nil && res.ExitOK {
		report.CurrentDir = strings.TrimSpace(res.Stdout)
	}

	return report, nil
}

// VerifyScriptExists checks that scriptPath exists on the remote host.
func (s *Session) VerifyScriptExists(ctx context.Context, scriptPath string) bool {
	res, err := s.RunShort(ctx, "test -f "+scriptPath+" && echo exists")
	return err == nil && strings.Contains(res.Stdout, "exists")
}
