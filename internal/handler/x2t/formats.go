package x2t

import (
	"strings"

	"github.com/local/docbroker/internal/handler"
)

// x2t file format codes.
const (
	formatUnknown            = 0
	formatDocumentDOCX       = 65
	formatPresentationPPTX   = 129
	formatPresentationPPSX   = 132
	formatSpreadsheetXLSX    = 257
	formatCrossplatformPDF   = 513
	formatTeamlabDOCY        = 4097
	formatTeamlabXLSY        = 4098
	formatTeamlabPPTY        = 4099
	formatCanvasWord         = 8193
	formatCanvasSpreadsheet  = 8194
	formatCanvasPresentation = 8195
	formatOtherHTMLZip       = 2051
	formatOtherZip           = 2057
)

var formatCodes = map[string]int{
	"docy": formatCanvasWord,
	"xlsy": formatCanvasSpreadsheet,
	"ppty": formatCanvasPresentation,
	"docx": formatDocumentDOCX,
	"xlsx": formatSpreadsheetXLSX,
	"pptx": formatPresentationPPTX,
}

// openEquivalent maps each bridged format to the OOXML format x2t pairs it
// with.
var openEquivalent = map[string]string{
	"docy": "docx",
	"xlsy": "xlsx",
	"ppty": "pptx",
}

var openDocumentEquivalent = map[string]string{
	"docy": "odt",
	"xlsy": "ods",
	"ppty": "odp",
}

var bridgedMimeTypes = map[string]string{
	"docy": "application/x-asc-text",
	"xlsy": "application/x-asc-spreadsheet",
	"ppty": "application/x-asc-presentation",
}

var bridgedTitles = map[string]string{
	"docy": "OnlyOffice Text Document",
	"xlsy": "OnlyOffice Spreadsheet",
	"ppty": "OnlyOffice Presentation",
}

var openMimeTypes = map[string]string{
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"odt":  "application/vnd.oasis.opendocument.text",
	"ods":  "application/vnd.oasis.opendocument.spreadsheet",
	"odp":  "application/vnd.oasis.opendocument.presentation",
}

// internalFields never travel between formats.
var internalFields = []string{"MIMEType", "Generator", "AppVersion", "ImplementationName", handler.DataKey}

// IsBridged reports whether format (extension or mimetype) belongs to the
// bridged family.
func IsBridged(format string) bool {
	return bridgedFormat(format) != ""
}

// bridgedFormat resolves an extension or mimetype to a bridged extension.
func bridgedFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if i := strings.IndexByte(f, ';'); i >= 0 {
		f = strings.TrimSpace(f[:i])
	}
	if _, ok := openEquivalent[f]; ok {
		return f
	}
	for ext, m := range bridgedMimeTypes {
		if m == f {
			return ext
		}
	}
	return ""
}

// MimeType returns the mimetype of a bridged format, or "".
func MimeType(format string) string {
	return bridgedMimeTypes[bridgedFormat(format)]
}

// Extension returns the bridged extension for an extension or mimetype, or "".
func Extension(format string) string { return bridgedFormat(format) }
