package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	out := String()
	if !strings.HasPrefix(out, "riskgate 1.2.3\n") {
		t.Fatalf("unexpected version output %q", out)
	}
	if UserAgent() != "riskgate/1.2.3" {
		t.Fatalf("unexpected user agent %q", UserAgent())
	}
}
