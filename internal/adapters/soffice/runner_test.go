package soffice

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptHeader parses the arguments the runner passes, like soffice does.
const scriptHeader = `#!/bin/sh
fmt=""; out=""; input=""
while [ $# -gt 0 ]; do
  case "$1" in
    --convert-to) fmt="$2"; shift 2 ;;
    --outdir) out="$2"; shift 2 ;;
    -*) shift ;;
    *) input="$1"; shift ;;
  esac
done
name="${input##*/}"
stem="${name%.*}"
ext="${fmt%%:*}"
`

func fakeConverter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake converter needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "soffice")
	require.NoError(t, os.WriteFile(path, []byte(scriptHeader+body), 0o755))
	return path
}

func newWorkspace(t *testing.T) (domain.Workspace, string) {
	t.Helper()
	ws := domain.Workspace{JobID: domain.NewJobID(), Path: filepath.Join(t.TempDir(), "ws")}
	require.NoError(t, os.MkdirAll(ws.SourceDir(), 0o700))
	require.NoError(t, os.MkdirAll(ws.ProfileDir(), 0o700))
	input := filepath.Join(ws.SourceDir(), "report.doc")
	require.NoError(t, os.WriteFile(input, []byte("hello"), 0o600))
	return ws, input
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestRunner_Success(t *testing.T) {
	bin := fakeConverter(t, `cp "$input" "$out/$stem.$ext"
echo "convert $input as a Writer document -> $out/$stem.$ext using filter : $fmt"
`)
	runner := NewRunner(testLogger(), Config{Binary: bin})
	ws, input := newWorkspace(t)

	outcome, err := runner.Run(context.Background(), ws, input, domain.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.FileExists(t, filepath.Join(ws.Path, "report.pdf"))
	assert.Empty(t, outcome.Diagnostic.Text, "stdout must not be captured")
}

func TestRunner_PassesArguments(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake converter needs /bin/sh")
	}
	bin := filepath.Join(t.TempDir(), "soffice")
	raw := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"$ARGS_FILE\"\n"
	require.NoError(t, os.WriteFile(bin, []byte(raw), 0o755))

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	t.Setenv("ARGS_FILE", argsFile)

	runner := NewRunner(testLogger(), Config{Binary: bin})
	ws, input := newWorkspace(t)

	_, err := runner.Run(context.Background(), ws, input, domain.FormatTXT)
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, Args(ws.ProfileDir(), ws.Path, input, "", "txt:Text (encoded):UTF8"), args)
	assert.NotContains(t, strings.Join(args, " "), "--infilter")
}

const minimalPDF = "%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n"

func TestImportFilter(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "scan.bin")
	require.NoError(t, os.WriteFile(pdf, []byte(minimalPDF), 0o600))
	doc := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("plain text despite the name"), 0o600))

	for _, f := range []domain.Format{domain.FormatDOCX, domain.FormatODT, domain.FormatRTF, domain.FormatTXT} {
		assert.Equal(t, PDFImportFilter, ImportFilter(pdf, f), f)
	}
	assert.Empty(t, ImportFilter(pdf, domain.FormatPDF))
	assert.Empty(t, ImportFilter(doc, domain.FormatDOCX), "detection uses content, not the name")
	assert.Empty(t, ImportFilter(filepath.Join(dir, "missing"), domain.FormatDOCX))
}

func TestRunner_PDFSourceUsesWriterImport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake converter needs /bin/sh")
	}
	bin := filepath.Join(t.TempDir(), "soffice")
	raw := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"$ARGS_FILE\"\n"
	require.NoError(t, os.WriteFile(bin, []byte(raw), 0o755))

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	t.Setenv("ARGS_FILE", argsFile)

	runner := NewRunner(testLogger(), Config{Binary: bin})
	ws, _ := newWorkspace(t)
	input := filepath.Join(ws.SourceDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(input, []byte(minimalPDF), 0o600))

	_, err := runner.Run(context.Background(), ws, input, domain.FormatDOCX)
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"-env:UserInstallation=" + ProfileURL(ws.ProfileDir()),
		"--headless",
		"--norestore",
		"--nolockcheck",
		"--infilter=writer_pdf_import",
		"--convert-to", "docx",
		"--outdir", ws.Path,
		input,
	}, args)
}

func TestRunner_NonZeroExitIsNotAnError(t *testing.T) {
	bin := fakeConverter(t, `echo "Error: source file could not be loaded" >&2
exit 3
`)
	runner := NewRunner(testLogger(), Config{Binary: bin})
	ws, input := newWorkspace(t)

	outcome, err := runner.Run(context.Background(), ws, input, domain.FormatDOCX)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Contains(t, outcome.Diagnostic.Text, "source file could not be loaded")
	assert.False(t, outcome.Diagnostic.Truncated)
}

func TestRunner_StderrIsBounded(t *testing.T) {
	bin := fakeConverter(t, `i=0
while [ $i -lt 200 ]; do
  echo "0123456789012345678901234567890123456789012345678" >&2
  i=$((i+1))
done
exit 1
`)
	runner := NewRunner(testLogger(), Config{Binary: bin, MaxDiagnostic: 1024})
	ws, input := newWorkspace(t)

	outcome, err := runner.Run(context.Background(), ws, input, domain.FormatODT)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ExitCode)
	assert.Len(t, outcome.Diagnostic.Text, 1024)
	assert.True(t, outcome.Diagnostic.Truncated)
	assert.Equal(t, int64(200*50-1024), outcome.Diagnostic.DroppedBytes)
}

func TestRunner_MissingBinary(t *testing.T) {
	runner := NewRunner(testLogger(), Config{Binary: filepath.Join(t.TempDir(), "missing", "soffice")})
	ws, input := newWorkspace(t)

	_, err := runner.Run(context.Background(), ws, input, domain.FormatPDF)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolUnavailable))
}

func TestRunner_NotExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced")
	}
	bin := filepath.Join(t.TempDir(), "soffice")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	runner := NewRunner(testLogger(), Config{Binary: bin})
	ws, input := newWorkspace(t)

	_, err := runner.Run(context.Background(), ws, input, domain.FormatPDF)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolUnavailable))
}

func TestRunner_TimeoutKillsProcessGroup(t *testing.T) {
	bin := fakeConverter(t, `sleep 30 &
wait
`)
	runner := NewRunner(testLogger(), Config{Binary: bin})
	ws, input := newWorkspace(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runner.Run(ctx, ws, input, domain.FormatPDF)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, domain.ErrToolUnavailable))
	assert.Less(t, time.Since(start), 4*time.Second, "background child must not hold the run open")
}

func TestProfileURL(t *testing.T) {
	assert.Equal(t, "file:///tmp/jobs/a%20b/.profile", ProfileURL("/tmp/jobs/a b/.profile"))
}

func TestFilters(t *testing.T) {
	f := DefaultFilters()
	assert.Equal(t, "pdf", f.Filter(domain.FormatPDF))
	assert.Equal(t, "txt:Text (encoded):UTF8", f.Filter(domain.FormatTXT))

	custom := Filters{domain.FormatPDF: "pdf:writer_pdf_Export"}
	assert.Equal(t, "pdf:writer_pdf_Export", custom.Filter(domain.FormatPDF))
	assert.Equal(t, "rtf", custom.Filter(domain.FormatRTF))
}

func TestBoundedBuffer(t *testing.T) {
	b := NewBoundedBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))

	d := b.Diagnostic()
	assert.Equal(t, "abcd", d.Text)
	assert.True(t, d.Truncated)
	assert.Equal(t, int64(4), d.DroppedBytes)
}
