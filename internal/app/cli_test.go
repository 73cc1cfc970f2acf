package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boothforge/freightquote/internal/diag"
)

func TestExecuteVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute([]string{"--version"}, &out, &errOut)
	if code != exitSuccess {
		t.Fatalf("expected success, got %d", code)
	}
	if strings.TrimSpace(out.String()) != Version {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

func TestExecuteQuoteRequiresRequest(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute([]string{"quote"}, &out, &errOut)
	if code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if !strings.Contains(errOut.String(), "--request") {
		t.Fatalf("expected --request hint, got %q", errOut.String())
	}
}

func TestExecuteHeadlessHeadedConflict(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute([]string{"--headless", "--headed", "doctor"}, &out, &errOut)
	if code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
}

func TestCookiesValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	future := float64(time.Now().Add(24*time.Hour).Unix()) + 0.5
	records := []map[string]any{
		{"name": "session", "value": "abc", "domain": ".freightos.com", "path": "/", "sameSite": "lax", "expirationDate": future},
		{"name": "theme", "value": "dark", "domain": ".freightos.com", "path": "/", "sameSite": "no_restriction", "expirationDate": future},
	}
	data, _ := json.Marshal(records)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	app := App{Out: &out, Err: &errOut}
	code := app.runCookiesValidate(GlobalFlags{}, path)
	if code != exitSuccess {
		t.Fatalf("expected success, got %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "cookies=2") {
		t.Fatalf("expected cookie count, got %q", out.String())
	}
	if !strings.Contains(out.String(), "essential=session") {
		t.Fatalf("expected essential list, got %q", out.String())
	}
}

func TestCookiesValidateNoEssential(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	data := []byte(`[{"name":"theme","value":"dark","domain":".freightos.com","path":"/","sameSite":"lax"}]`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	app := App{Out: &out, Err: &errOut}
	code := app.runCookiesValidate(GlobalFlags{}, path)
	if code != exitFailure {
		t.Fatalf("expected failure, got %d", code)
	}
}

func TestCookiesInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	data := []byte(`[{"name":"session","value":"abc","domain":".freightos.com","path":"/","sameSite":"lax","expirationDate":1893456000.7}]`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	app := App{Out: &out, Err: &errOut}
	code := app.runCookiesInfo(GlobalFlags{}, path)
	if code != exitSuccess {
		t.Fatalf("expected success, got %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "session domain=.freightos.com") {
		t.Fatalf("expected cookie line, got %q", out.String())
	}
	if !strings.Contains(out.String(), "samesite=Lax") {
		t.Fatalf("expected translated samesite, got %q", out.String())
	}
}

func TestCookiesValidateMissingPath(t *testing.T) {
	var out, errOut bytes.Buffer
	app := App{Out: &out, Err: &errOut}
	code := app.runCookiesValidate(GlobalFlags{}, "")
	if code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
}

func TestRunsListAndPrune(t *testing.T) {
	store := diag.Store{Root: t.TempDir(), DefaultTTL: time.Hour}
	stale := diag.Run{ID: "old-run", StartedAt: time.Now().Add(-48 * time.Hour), FinishedAt: time.Now().Add(-48 * time.Hour), State: "done", Success: true, QuoteCount: 3}
	fresh := diag.Run{ID: "new-run", StartedAt: time.Now(), FinishedAt: time.Now(), State: "done", Success: true, QuoteCount: 2}
	for _, r := range []diag.Run{stale, fresh} {
		if err := store.Save(r); err != nil {
			t.Fatal(err)
		}
	}

	var out, errOut bytes.Buffer
	app := App{Out: &out, Err: &errOut}
	if code := app.runRunsList(store, GlobalFlags{}); code != exitSuccess {
		t.Fatalf("list failed: %d", code)
	}
	if !strings.Contains(out.String(), "old-run") || !strings.Contains(out.String(), "new-run") {
		t.Fatalf("expected both runs listed, got %q", out.String())
	}

	out.Reset()
	if code := app.runRunsPrune(store, GlobalFlags{}, false); code != exitSuccess {
		t.Fatalf("prune failed: %d", code)
	}
	if !strings.Contains(out.String(), "pruned old-run") {
		t.Fatalf("expected stale run pruned, got %q", out.String())
	}
	if strings.Contains(out.String(), "new-run") {
		t.Fatalf("fresh run should survive prune, got %q", out.String())
	}

	remaining, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != "new-run" {
		t.Fatalf("expected only new-run to remain, got %+v", remaining)
	}
}
