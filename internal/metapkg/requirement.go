package metapkg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/frederic-klein/envex/internal/dist"
)

var (
	nameRe   = regexp.MustCompile(`^\s*([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)`)
	extrasRe = regexp.MustCompile(`^\[\s*(?:[A-Za-z0-9][A-Za-z0-9._-]*\s*(?:,\s*[A-Za-z0-9][A-Za-z0-9._-]*\s*)*)?\]`)
)

// RequirementName extracts the canonical distribution name from a PEP 508
// requirement string such as `foo[bar]>=1.0; python_version < "3.12"`.
// Extras, version specifiers, URLs and markers are validated loosely and
// otherwise ignored.
func RequirementName(req string) (string, error) {
	m := nameRe.FindStringSubmatch(req)
	if m == nil {
		return "", fmt.Errorf("invalid requirement %q: missing name", req)
	}
	name := m[1]
	rest := strings.TrimSpace(req[len(m[0]):])

	if strings.HasPrefix(rest, "[") {
		ext := extrasRe.FindString(rest)
		if ext == "" {
			return "", fmt.Errorf("invalid requirement %q: malformed extras", req)
		}
		rest = strings.TrimSpace(rest[len(ext):])
	}

	if rest != "" && !strings.ContainsAny(rest[:1], "(<>=!~;@") {
		return "", fmt.Errorf("invalid requirement %q: unexpected %q", req, rest)
	}
	if strings.HasPrefix(rest, "(") && !strings.Contains(rest, ")") {
		return "", fmt.Errorf("invalid requirement %q: unclosed version list", req)
	}

	return dist.CanonicalName(name), nil
}
