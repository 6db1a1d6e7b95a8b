package redact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/config"
)

// Config holds operator redaction customizations.
type Config struct {
	ExtraPatterns []ExtraPatternDef `yaml:"extra_patterns"`
	SafeHosts     []string          `yaml:"safe_hosts"`
	SafeIPs       []string          `yaml:"safe_ips"`
	Literals      []string          `yaml:"literals"`
}

// ExtraPatternDef defines a custom pattern from config.
type ExtraPatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// ExtraPattern is a compiled custom pattern ready for scanning.
type ExtraPattern struct {
	Name        string
	Regex       *regexp.Regexp
	TokenPrefix PatternType
}

// DefaultConfigPath returns ~/.trustgate/redact.yaml.
func DefaultConfigPath() string {
	return filepath.Join(config.Dir(), "redact.yaml")
}

// LoadConfig reads redaction config from path, or from DefaultConfigPath
// when path is empty. A missing file yields a nil config and no error.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read redact config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse redact config: %w", err)
	}
	return &cfg, nil
}

// CompilePatterns validates and compiles extra patterns from config.
func CompilePatterns(cfg *Config) ([]ExtraPattern, error) {
	if cfg == nil {
		return nil, nil
	}

	var patterns []ExtraPattern
	for i, def := range cfg.ExtraPatterns {
		if def.Name == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		patterns = append(patterns, ExtraPattern{
			Name:        def.Name,
			Regex:       re,
			TokenPrefix: PatternType(strings.ToUpper(def.Name)),
		})
	}
	return patterns, nil
}

func (c *Config) safeHost(lower string) bool {
	if c == nil {
		return false
	}
	for _, h := range c.SafeHosts {
		if strings.ToLower(h) == lower {
			return true
		}
	}
	return false
}

func (c *Config) safeIP(ip string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.SafeIPs {
		if s == ip {
			return true
		}
	}
	return false
}

// DefaultConfigYAML returns a commented redact.yaml for init.
func DefaultConfigYAML() string {
	return `# trustgate redaction settings for audit tail/replay --redact.
# Built-in patterns mask IPs, hostnames, emails, credentials and usernames.

# Values masked wherever they appear.
literals: []

# Additional patterns; matches become <<NAME_n>> tokens.
extra_patterns: []
#  - name: ticket
#    regex: 'JIRA-[0-9]+'

# Never masked.
safe_hosts: []
safe_ips: []
`
}
