package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of sensitive data.
type PatternType string

const (
	PatternIP      PatternType = "IP"
	PatternHost    PatternType = "HOST"
	PatternCred    PatternType = "CRED"
	PatternEmail   PatternType = "EMAIL"
	PatternUser    PatternType = "USER"
	PatternLiteral PatternType = "LITERAL"
)

// Match is a single occurrence of sensitive data in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

var (
	// IPv4 addresses (4 octets, no range validation).
	ipv4Re = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

	// Hostnames: FQDN with at least two dots and an alphabetic TLD.
	hostRe = regexp.MustCompile(`\b([a-zA-Z0-9][-a-zA-Z0-9]*\.[-a-zA-Z0-9]+\.[a-zA-Z]{2,})\b`)

	// key=value or key: value where the key suggests a secret.
	credKVRe = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_key|apikey|auth)[ \t]*[=:][ \t]*\S+)`)

	// Bearer tokens in Authorization headers passed to curl and friends.
	bearerRe = regexp.MustCompile(`(?i)\bbearer[ \t]+[A-Za-z0-9\-._~+/]+=*`)

	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})\b`)

	// Usernames from ~user and /home/user.
	tildeUserRe = regexp.MustCompile(`~([a-zA-Z_][a-zA-Z0-9_\-]+)`)
	homeUserRe  = regexp.MustCompile(`/home/([a-zA-Z_][a-zA-Z0-9_\-]*)`)
)

// safeHosts are domains that are never masked.
var safeHosts = map[string]bool{
	"example.com":       true,
	"example.org":       true,
	"example.net":       true,
	"localhost":         true,
	"github.com":        true,
	"golang.org":        true,
	"google.com":        true,
	"cloudflare.com":    true,
	"amazonaws.com":     true,
	"ubuntu.com":        true,
	"debian.org":        true,
	"kernel.org":        true,
	"wikipedia.org":     true,
	"stackexchange.com": true,
	"stackoverflow.com": true,
}

// safeIPs are addresses that are never masked.
var safeIPs = map[string]bool{
	"127.0.0.1":       true,
	"0.0.0.0":         true,
	"255.255.255.255": true,
}

// Scan finds every occurrence of a sensitive value in text with the
// built-in patterns, sorted by position. At one position the longest match
// comes first.
func Scan(text string) []Match {
	return ScanWithConfig(text, nil, nil)
}

// ScanWithConfig is Scan plus operator literals, extra patterns and safe
// lists. A nil cfg and nil extra behave like Scan.
func ScanWithConfig(text string, cfg *Config, extra []ExtraPattern) []Match {
	type key struct {
		value string
		start int
	}
	seen := make(map[key]bool)
	var matches []Match

	add := func(typ PatternType, value string, start int) {
		value = strings.TrimRight(value, ".,;:\"'`)}]")
		k := key{value, start}
		if value == "" || seen[k] {
			return
		}
		seen[k] = true
		matches = append(matches, Match{Type: typ, Value: value, Start: start, End: start + len(value)})
	}

	if cfg != nil {
		for _, lit := range cfg.Literals {
			if lit == "" {
				continue
			}
			for off := 0; ; {
				i := strings.Index(text[off:], lit)
				if i < 0 {
					break
				}
				add(PatternLiteral, lit, off+i)
				off += i + len(lit)
			}
		}
	}
	for _, p := range extra {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			add(p.TokenPrefix, text[loc[0]:loc[1]], loc[0])
		}
	}

	for _, loc := range credKVRe.FindAllStringIndex(text, -1) {
		add(PatternCred, text[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range bearerRe.FindAllStringIndex(text, -1) {
		add(PatternCred, text[loc[0]:loc[1]], loc[0])
	}

	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		add(PatternEmail, text[loc[0]:loc[1]], loc[0])
	}

	for _, loc := range ipv4Re.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		if !safeIPs[v] && !cfg.safeIP(v) {
			add(PatternIP, v, loc[0])
		}
	}

	for _, loc := range hostRe.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		lower := strings.ToLower(v)
		if !safeHosts[lower] && !cfg.safeHost(lower) && !isIPLike(v) {
			add(PatternHost, v, loc[0])
		}
	}

	for _, re := range []*regexp.Regexp{tildeUserRe, homeUserRe} {
		for _, sub := range re.FindAllStringSubmatchIndex(text, -1) {
			if sub[2] >= 0 && sub[3] > sub[2] {
				add(PatternUser, text[sub[2]:sub[3]], sub[2])
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})
	return matches
}

// isIPLike reports whether s is all digits and dots.
func isIPLike(s string) bool {
	for _, c := range s {
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
