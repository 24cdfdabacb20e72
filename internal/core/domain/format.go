package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Format is a target document format the converter can produce.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatODT  Format = "odt"
	FormatRTF  Format = "rtf"
	FormatTXT  Format = "txt"
)

var ErrUnsupportedFormat = errors.New("unsupported target format")

// SupportedFormats returns the closed set of formats in display order.
func SupportedFormats() []Format {
	return []Format{FormatPDF, FormatDOCX, FormatODT, FormatRTF, FormatTXT}
}

// ParseFormat normalizes a caller-supplied format name.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
	return f, nil
}

func (f Format) Valid() bool {
	switch f {
	case FormatPDF, FormatDOCX, FormatODT, FormatRTF, FormatTXT:
		return true
	}
	return false
}

// Extension is the file extension the converter uses for this format, with the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

func (f Format) String() string {
	return string(f)
}
