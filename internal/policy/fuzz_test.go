package policy

import (
	"testing"

	"github.com/ppiankov/trustgate/internal/trust"
)

func FuzzParseConfig(f *testing.F) {
	f.Add([]byte(DefaultConfigYAML()))
	f.Add([]byte(`{"name":"p","default_policy":"allow","rules":[]}`))
	f.Add([]byte{})
	f.Add([]byte(`{{{not yaml at all`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic on any input; a parsed config must evaluate.
		cfg, err := ParseConfig(data)
		if err != nil {
			return
		}
		target := "/tmp/x"
		Evaluate(cfg, "Read", &target, trust.Neutral())
	})
}

func FuzzMatchGlob(f *testing.F) {
	f.Add("**/.env", "/a/.env")
	f.Add("src/**", "src/x")
	f.Add("*.go", "main.go")
	f.Add("**/", "")

	f.Fuzz(func(t *testing.T, pattern, value string) {
		MatchGlob(pattern, value)
	})
}
