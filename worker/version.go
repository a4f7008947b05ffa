package worker

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/teranos/dmypyls/errors"
)

// Matches the first dotted version in `dmypy --version` output, e.g.
// "dmypy 1.10.0 (compiled: yes)" or "dmypy 0.971+dev.8b0e4e6 (compiled: no)".
var versionPattern = regexp.MustCompile(`\b(\d+\.\d+(?:\.\d+)?(?:\+[0-9A-Za-z.\-]+)?)`)

// ParseVersion extracts the worker version from --version output.
func ParseVersion(output string) (*semver.Version, error) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, errors.Newf("no version in worker output %q", output)
	}

	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, errors.Wrapf(err, "invalid worker version %s", m[1])
	}
	return v, nil
}
