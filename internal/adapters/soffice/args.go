package soffice

import (
	"net/url"
	"path/filepath"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/gabriel-vasile/mimetype"
)

// PDFImportFilter opens a PDF in Writer instead of Draw, whose exports
// cannot produce text documents.
const PDFImportFilter = "writer_pdf_import"

// Filters maps a target format to the --convert-to argument. The part before
// the first colon must equal the format so the output extension stays predictable.
type Filters map[domain.Format]string

// DefaultFilters pins text output to UTF-8; the rest use LibreOffice's default export filter.
func DefaultFilters() Filters {
	return Filters{
		domain.FormatTXT: "txt:Text (encoded):UTF8",
	}
}

func (f Filters) Filter(format domain.Format) string {
	if v, ok := f[format]; ok && v != "" {
		return v
	}
	return string(format)
}

// ImportFilter returns the --infilter value for the source at inputPath, or ""
// to let LibreOffice pick. Only PDF sources going to a text document need one.
func ImportFilter(inputPath string, format domain.Format) string {
	switch format {
	case domain.FormatDOCX, domain.FormatODT, domain.FormatRTF, domain.FormatTXT:
	default:
		return ""
	}
	mt, err := mimetype.DetectFile(inputPath)
	if err != nil || !mt.Is("application/pdf") {
		return ""
	}
	return PDFImportFilter
}

// Args builds the converter argument list. It is passed to exec directly, never through a shell.
// The per-job user installation keeps concurrent instances from sharing a profile lock.
func Args(profileDir, outDir, inputPath, infilter, filter string) []string {
	args := []string{
		"-env:UserInstallation=" + ProfileURL(profileDir),
		"--headless",
		"--norestore",
		"--nolockcheck",
	}
	if infilter != "" {
		args = append(args, "--infilter="+infilter)
	}
	return append(args,
		"--convert-to", filter,
		"--outdir", outDir,
		inputPath,
	)
}

// ProfileURL renders dir as a file:// URL.
func ProfileURL(dir string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}
	return u.String()
}
