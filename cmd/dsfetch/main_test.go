package main

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/ligustah/dsfetch/internal/testutils"
	"github.com/ligustah/dsfetch/internal/transfer"
)

type cliEnv struct {
	server    *testutils.ProductServer
	outputDir string
	envFile   string
	products  map[string][]byte
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	products := map[string][]byte{
		"A": testutils.GenerateTestData(3000),
		"B": testutils.GenerateTestData(5000),
	}
	server := testutils.NewProductServer(t, products)

	t.Setenv("COPERNICUS_USERNAME", "user")
	t.Setenv("COPERNICUS_PASSWORD", "secret")
	t.Setenv("COPERNICUS_ACCESS_TOKEN", "")
	t.Setenv("COPERNICUS_REFRESH_TOKEN", "")
	t.Setenv("DSFETCH_TOKEN_URL", server.TokenURL())
	t.Setenv("DSFETCH_DOWNLOAD_URL", server.DownloadURL())
	t.Setenv("DSFETCH_CONFIG", "")

	dir := t.TempDir()
	return &cliEnv{
		server:    server,
		outputDir: filepath.Join(dir, "products"),
		envFile:   filepath.Join(dir, ".env"),
		products:  products,
	}
}

// args prefixes the flags every command needs in tests.
func (e *cliEnv) args(extra ...string) []string {
	return append([]string{
		"-output-dir", e.outputDir,
		"-env-file", e.envFile,
		"-token-store", e.envFile,
		"-log-level", "error",
	}, extra...)
}

func TestRunUsage(t *testing.T) {
	if got := run(nil); got != ExitInvalidArgs {
		t.Errorf("run() = %d, want %d", got, ExitInvalidArgs)
	}
	if got := run([]string{"help"}); got != ExitSuccess {
		t.Errorf("run(help) = %d, want %d", got, ExitSuccess)
	}
	if got := run([]string{"frobnicate"}); got != ExitInvalidArgs {
		t.Errorf("run(frobnicate) = %d, want %d", got, ExitInvalidArgs)
	}
}

func TestDownloadCommand(t *testing.T) {
	e := newCLIEnv(t)

	code := runDownload(e.args("-retry-backoff", "0", "A", "B"))
	if code != ExitSuccess {
		t.Fatalf("download exit code = %d", code)
	}

	layout := transfer.Layout{Dir: e.outputDir}
	for id, data := range e.products {
		got, err := os.ReadFile(layout.FinalPath(id))
		if err != nil || string(got) != string(data) {
			t.Errorf("product %s: %d bytes, err=%v", id, len(got), err)
		}
	}

	// The token was persisted for the next run.
	env, err := godotenv.Read(e.envFile)
	if err != nil {
		t.Fatalf("read token store: %v", err)
	}
	if env["COPERNICUS_ACCESS_TOKEN"] != "tok-1" {
		t.Errorf("stored token = %q, want tok-1", env["COPERNICUS_ACCESS_TOKEN"])
	}

	// A second run finds everything complete and makes no requests.
	before := e.server.Requests("A")
	if code := runDownload(e.args("A")); code != ExitSuccess {
		t.Fatalf("second download exit code = %d", code)
	}
	if e.server.Requests("A") != before {
		t.Error("completed product was requested again")
	}
	if got := e.server.Exchanges(); got != 1 {
		t.Errorf("exchanges = %d, want the stored token reused", got)
	}
}

func TestDownloadCommandFromCSV(t *testing.T) {
	e := newCLIEnv(t)

	csvPath := filepath.Join(t.TempDir(), "products.csv")
	if err := os.WriteFile(csvPath, []byte("Name,Id\nfirst,A\nsecond,B\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if code := runDownload(e.args("-input", csvPath, "-workers", "2")); code != ExitSuccess {
		t.Fatalf("download exit code = %d", code)
	}
	if e.server.Requests("A") != 1 || e.server.Requests("B") != 1 {
		t.Errorf("requests A=%d B=%d", e.server.Requests("A"), e.server.Requests("B"))
	}
}

func TestDownloadCommandPartialFailure(t *testing.T) {
	e := newCLIEnv(t)
	e.server.Hook("B", func(w http.ResponseWriter, r *http.Request, attempt int) bool {
		testutils.ServeProduct(w, r, e.products["B"], 100)
		return true
	})

	code := runDownload(e.args("-retry-attempts", "2", "-retry-backoff", "0", "A", "B"))
	if code != ExitPartialFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitPartialFailure)
	}
	if got := e.server.Requests("B"); got != 2 {
		t.Errorf("B requests = %d, want 2", got)
	}

	// status reports B as partial.
	if code := runStatus(e.args("A", "B")); code != ExitValidationFailed {
		t.Errorf("status exit code = %d, want %d", code, ExitValidationFailed)
	}

	// clean removes the part file, after which status sees B as missing.
	if code := runClean(e.args("-force")); code != ExitSuccess {
		t.Fatalf("clean exit code = %d", code)
	}
	layout := transfer.Layout{Dir: e.outputDir}
	if entry, _ := layout.Inspect("B"); entry.State != transfer.Missing {
		t.Errorf("B state after clean = %v", entry.State)
	}
	if entry, _ := layout.Inspect("A"); entry.State != transfer.Complete {
		t.Errorf("A state after clean = %v", entry.State)
	}

	// Without the fault the rerun completes B.
	e.server.Hook("B", nil)
	if code := runDownload(e.args("B")); code != ExitSuccess {
		t.Fatalf("rerun exit code = %d", code)
	}
	if code := runStatus(e.args()); code != ExitSuccess {
		t.Errorf("status exit code = %d, want success", code)
	}
}

func TestDownloadCommandErrors(t *testing.T) {
	e := newCLIEnv(t)

	if code := runDownload(e.args()); code != ExitInputError {
		t.Errorf("no ids: exit code = %d, want %d", code, ExitInputError)
	}
	if code := runDownload(e.args("../etc")); code != ExitInputError {
		t.Errorf("bad id: exit code = %d, want %d", code, ExitInputError)
	}
	if code := runDownload(e.args("-chunk-size", "lots", "A")); code != ExitInvalidArgs {
		t.Errorf("bad chunk size: exit code = %d, want %d", code, ExitInvalidArgs)
	}

	t.Setenv("COPERNICUS_PASSWORD", "bad")
	if code := runDownload(e.args("A")); code != ExitAuthError {
		t.Errorf("bad password: exit code = %d, want %d", code, ExitAuthError)
	}
	if e.server.Requests("A") != 0 {
		t.Error("product requested without a token")
	}
}

func TestTokenCommand(t *testing.T) {
	e := newCLIEnv(t)

	if code := runToken(e.args()); code != ExitSuccess {
		t.Fatalf("token exit code = %d", code)
	}
	env, err := godotenv.Read(e.envFile)
	if err != nil {
		t.Fatal(err)
	}
	if env["COPERNICUS_ACCESS_TOKEN"] != "tok-1" || env["COPERNICUS_REFRESH_TOKEN"] == "" {
		t.Errorf("stored tokens = %v", env)
	}

	t.Setenv("COPERNICUS_USERNAME", "")
	if code := runToken(e.args()); code != ExitAuthError {
		t.Errorf("missing credentials: exit code = %d, want %d", code, ExitAuthError)
	}
}

func TestArchiveCommand(t *testing.T) {
	e := newCLIEnv(t)
	bucketDir := t.TempDir()
	bucketURL := "file://" + filepath.ToSlash(bucketDir)

	if code := runDownload(e.args("A", "B")); code != ExitSuccess {
		t.Fatalf("download exit code = %d", code)
	}
	if code := runArchive(e.args()); code != ExitInvalidArgs {
		t.Errorf("archive without bucket: exit code = %d, want %d", code, ExitInvalidArgs)
	}
	if code := runArchive(e.args("-bucket", bucketURL)); code != ExitSuccess {
		t.Fatalf("archive exit code = %d", code)
	}

	for id := range e.products {
		if _, err := os.Stat(filepath.Join(bucketDir, "products", "product_"+id+".zip")); err != nil {
			t.Errorf("archived %s: %v", id, err)
		}
	}

	if code := runStatus(e.args("-archive-bucket", bucketURL)); code != ExitSuccess {
		t.Errorf("status with archive: exit code = %d", code)
	}
}

func TestStatusCommandConflict(t *testing.T) {
	e := newCLIEnv(t)
	layout := transfer.Layout{Dir: e.outputDir}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{layout.FinalPath("X"), layout.PartPath("X")} {
		if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if code := runStatus(e.args()); code != ExitValidationFailed {
		t.Errorf("status exit code = %d, want %d", code, ExitValidationFailed)
	}
	if code := runClean(e.args("-force", "-conflicts")); code != ExitSuccess {
		t.Fatalf("clean exit code = %d", code)
	}
	if code := runStatus(e.args()); code != ExitSuccess {
		t.Errorf("status after clean = %d, want success", code)
	}
}
