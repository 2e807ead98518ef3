package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CUTLEDGER_STORAGE_DRIVER", "sqlite")
	t.Setenv("CUTLEDGER_STORAGE_SQLITE_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("CUTLEDGER_BLOB_DRIVER", "fs")
	t.Setenv("CUTLEDGER_BLOB_FS_ROOT", filepath.Join(dir, "blob"))
	seed := filepath.Join(dir, "seed.json")
	content := `{
		"fabricRolls": {
			"r1": {"rollNumber": "R1", "fabricCode": "Denim", "totalMeters": 20, "reservedMeters": 9, "availableMeters": 11},
			"r2": {"rollNumber": "R2", "fabricCode": "Denim", "totalMeters": 15}
		},
		"orders": {
			"o1": {"orderId": "PO-1", "article": "denim", "Status": "In Cutting",
			       "Assigned Rolls": [{"rollNumber": "R1", "reserved": 6}]}
		}
	}`
	if err := os.WriteFile(seed, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return seed
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), append([]string{"-env-only"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestImportCutAndLedger(t *testing.T) {
	seed := setupEnv(t)

	code, out, errOut := run(t, "import", "-file", seed, "-reconcile")
	if code != 0 {
		t.Fatalf("import exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "imported 2 rolls, 1 orders") || !strings.Contains(out, "denim: 1 rolls rewritten") {
		t.Fatalf("unexpected import output %q", out)
	}

	code, out, errOut = run(t, "cut", "-order", "o1", "-meters", "8,5", "-recut", "1.5:stain")
	if code != 0 {
		t.Fatalf("cut exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, `"new_actual_total": "8.5"`) {
		t.Fatalf("unexpected cut output %s", out)
	}

	code, out, errOut = run(t, "recut", "-order", "o1", "-recut", "2:torn")
	if code != 0 {
		t.Fatalf("recut exit %d: %s", code, errOut)
	}

	code, out, _ = run(t, "ledger", "-article", "DENIM")
	if code != 0 {
		t.Fatalf("ledger exit %d", code)
	}
	if !strings.Contains(out, "R1") || !strings.Contains(out, "9.50") || !strings.Contains(out, "24.50") {
		t.Fatalf("unexpected ledger output\n%s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	setupEnv(t)
	if code, _, _ := run(t); code != 2 {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if code, _, _ := run(t, "explode"); code != 2 {
		t.Fatalf("expected unknown command exit, got %d", code)
	}
	if code, _, _ := run(t, "cut", "-order", "o1"); code != 2 {
		t.Fatalf("expected missing flag exit, got %d", code)
	}
	if code, _, _ := run(t, "recut", "-order", "o1", "-recut", "nocolon"); code != 2 {
		t.Fatalf("expected bad recut flag exit, got %d", code)
	}
	code, _, errOut := run(t, "cut", "-order", "missing", "-meters", "1")
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("expected not found failure, got %d %q", code, errOut)
	}
}

func TestRecutFlags(t *testing.T) {
	var r recutFlags
	if err := r.Set("2.5: torn edge"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(r) != 1 || r[0].Reason != "torn edge" || r.String() != "2.5:torn edge" {
		t.Fatalf("unexpected recut flags %+v", r)
	}
	if err := r.Set("abc:x"); err == nil {
		t.Fatalf("expected meters parse error")
	}
}
