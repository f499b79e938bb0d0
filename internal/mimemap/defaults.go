package mimemap

import "sync"

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the built-in LibreOffice filter table.
func Default() *Table {
	defaultOnce.Do(func() { defaultTable = MustNew(DefaultFilters()) })
	return defaultTable
}

// DefaultFilters returns the filters of a stock LibreOffice installation that
// the broker exposes.
func DefaultFilters() []Filter {
	const (
		odt  = "application/vnd.oasis.opendocument.text"
		ods  = "application/vnd.oasis.opendocument.spreadsheet"
		odp  = "application/vnd.oasis.opendocument.presentation"
		odg  = "application/vnd.oasis.opendocument.graphics"
		docx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		xlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		pptx = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		pdf  = "application/pdf"
	)
	return []Filter{
		// Writer
		{"writer8", "odt", TextDocument, odt, "ODF Text Document", true, true},
		{"writer8_template", "ott", TextDocument, "application/vnd.oasis.opendocument.text-template", "ODF Text Document Template", true, true},
		{"MS Word 2007 XML", "docx", TextDocument, docx, "Word 2007-365", true, true},
		{"MS Word 97", "doc", TextDocument, "application/msword", "Word 97-2003", true, true},
		{"Rich Text Format", "rtf", TextDocument, "application/rtf", "Rich Text", true, true},
		{"Text", "txt", TextDocument, "text/plain", "Text", true, true},
		{"HTML (StarWriter)", "html", TextDocument, "text/html", "HTML Document (Writer)", true, true},
		{"writer_pdf_Export", "pdf", TextDocument, pdf, "PDF - Portable Document Format", false, true},
		{"EPUB", "epub", TextDocument, "application/epub+zip", "EPUB Document", false, true},

		// Calc
		{"calc8", "ods", SpreadsheetDocument, ods, "ODF Spreadsheet", true, true},
		{"calc8_template", "ots", SpreadsheetDocument, "application/vnd.oasis.opendocument.spreadsheet-template", "ODF Spreadsheet Template", true, true},
		{"Calc MS Excel 2007 XML", "xlsx", SpreadsheetDocument, xlsx, "Excel 2007-365", true, true},
		{"MS Excel 97", "xls", SpreadsheetDocument, "application/vnd.ms-excel", "Excel 97-2003", true, true},
		{"Text - txt - csv (StarCalc)", "csv", SpreadsheetDocument, "text/csv", "Text CSV", true, true},
		{"HTML (StarCalc)", "html", SpreadsheetDocument, "text/html", "HTML Document (Calc)", true, true},
		{"calc_pdf_Export", "pdf", SpreadsheetDocument, pdf, "PDF - Portable Document Format", false, true},

		// Impress
		{"impress8", "odp", PresentationDocument, odp, "ODF Presentation", true, true},
		{"impress8_template", "otp", PresentationDocument, "application/vnd.oasis.opendocument.presentation-template", "ODF Presentation Template", true, true},
		{"Impress MS PowerPoint 2007 XML", "pptx", PresentationDocument, pptx, "PowerPoint 2007-365", true, true},
		{"MS PowerPoint 97", "ppt", PresentationDocument, "application/vnd.ms-powerpoint", "PowerPoint 97-2003", true, true},
		{"impress_pdf_Export", "pdf", PresentationDocument, pdf, "PDF - Portable Document Format", false, true},
		{"impress_png_Export", "png", PresentationDocument, "image/png", "PNG - Portable Network Graphics", false, true},
		{"impress_svg_Export", "svg", PresentationDocument, "image/svg+xml", "SVG - Scalable Vector Graphics", false, true},

		// Draw
		{"draw8", "odg", DrawingDocument, odg, "ODF Drawing", true, true},
		{"draw_pdf_Export", "pdf", DrawingDocument, pdf, "PDF - Portable Document Format", false, true},
		{"draw_png_Export", "png", DrawingDocument, "image/png", "PNG - Portable Network Graphics", false, true},
		{"draw_jpg_Export", "jpg", DrawingDocument, "image/jpeg", "JPEG - Joint Photographic Experts Group", false, true},
		{"draw_svg_Export", "svg", DrawingDocument, "image/svg+xml", "SVG - Scalable Vector Graphics", false, true},
	}
}
