package registry

import (
	"regexp"
	"strconv"
	"strings"
)

// pep440 matches every version spelling PEP 440 accepts, including the
// implicit post-release "1.0-1" and the alternate pre-release words.
var pep440 = regexp.MustCompile(`^v?` +
	`(?:(\d+)!)?` + // epoch
	`(\d+(?:\.\d+)*)` + // release
	`(?:[-_.]?(alpha|a|beta|b|preview|pre|c|rc)[-_.]?(\d+)?)?` + // pre
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d+)?)?` + // post
	`(?:[-_.]?(dev)[-_.]?(\d+)?)?` + // dev
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`) // local

var preReleaseSpellings = map[string]string{
	"alpha":   "a",
	"a":       "a",
	"beta":    "b",
	"b":       "b",
	"c":       "rc",
	"pre":     "rc",
	"preview": "rc",
	"rc":      "rc",
}

// canonicalVersion reduces a PEP 440 version to a comparable form: case and
// separators are normalised, alternate spellings are mapped to a, b, rc,
// post and dev, trailing zero release segments are dropped and the local
// label is kept. Strings that are not versions yield "".
//
//	"2.13.0" -> "2.13", "V1.0-RC1" -> "1rc1", "1.0-1" -> "1.post1",
//	"2.1.1+cu118" -> "2.1.1+cu118"
func canonicalVersion(v string) string {
	m := pep440.FindStringSubmatch(strings.ToLower(strings.TrimSpace(v)))
	if m == nil {
		return ""
	}
	epoch, release := m[1], m[2]
	preWord, preNum := m[3], m[4]
	implicitPost, postWord, postNum := m[5], m[6], m[7]
	devWord, devNum := m[8], m[9]
	local := m[10]

	var b strings.Builder
	if n := number(epoch); n != "0" {
		b.WriteString(n)
		b.WriteByte('!')
	}

	parts := strings.Split(release, ".")
	for len(parts) > 1 && number(parts[len(parts)-1]) == "0" {
		parts = parts[:len(parts)-1]
	}
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(number(p))
	}

	if preWord != "" {
		b.WriteString(preReleaseSpellings[preWord])
		b.WriteString(number(preNum))
	}
	switch {
	case implicitPost != "":
		b.WriteString(".post")
		b.WriteString(number(implicitPost))
	case postWord != "":
		b.WriteString(".post")
		b.WriteString(number(postNum))
	}
	if devWord != "" {
		b.WriteString(".dev")
		b.WriteString(number(devNum))
	}

	if local != "" {
		segments := strings.FieldsFunc(local, func(r rune) bool { return r == '-' || r == '_' || r == '.' })
		for i, s := range segments {
			if _, err := strconv.Atoi(s); err == nil {
				segments[i] = number(s)
			}
		}
		b.WriteByte('+')
		b.WriteString(strings.Join(segments, "."))
	}
	return b.String()
}

// number strips leading zeros from a digit string; empty means zero.
func number(digits string) string {
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		if digits == "" {
			return "0"
		}
		return strings.TrimLeft(digits, "0")
	}
	return strconv.FormatUint(n, 10)
}

// versionsEqual reports whether two version strings denote the same release.
// Strings that are not valid versions never match anything.
func versionsEqual(a, b string) bool {
	ca := canonicalVersion(a)
	return ca != "" && ca == canonicalVersion(b)
}
