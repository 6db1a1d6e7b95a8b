package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/trustgate/internal/model"
)

func FuzzVerify(f *testing.F) {
	// Seed with a valid 3-entry chain
	validLog := filepath.Join(f.TempDir(), "valid.jsonl")
	al, err := Open(validLog)
	if err != nil {
		f.Fatal(err)
	}
	_, records := appendN(f, NewChain("s-fuzz", "p", testNow), 3)
	for _, rec := range records {
		al.Write(rec)
	}
	al.Close()
	validData, _ := os.ReadFile(validLog)
	f.Add(validData)

	f.Add([]byte{})
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		tmpFile := filepath.Join(t.TempDir(), "fuzz.jsonl")
		os.WriteFile(tmpFile, data, 0644)

		// Must not panic
		Verify(tmpFile)
	})
}

func FuzzAppend(f *testing.F) {
	f.Add("Read", "/repo/a.go", 0.5, "allow")
	f.Add("", "", -1.0, "bogus")
	f.Add("Bash", "rm -rf /", 1.0, "deny")

	f.Fuzz(func(t *testing.T, tool, target string, score float64, decision string) {
		in := testInput(0)
		in.ToolName = tool
		in.Target = &target
		in.TrustScore = score
		in.Decision = ""
		if d, ok := model.ParseDecision(decision); ok {
			in.Decision = d
		}
		if in.Validate() != nil {
			return
		}
		c, rec, hash := Append(NewChain("s", "p", testNow), in, testNow)
		if rec.ContentHash != hash || c.SequenceNumber != 1 {
			t.Fatalf("inconsistent append result")
		}
		if r := VerifyChain(c, []Record{rec}); !r.Valid {
			t.Fatalf("fresh record does not verify: %s", r.Error)
		}
	})
}
