package filetype

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
)

// Info is the detected type of a document.
type Info struct {
	MIMEType  string
	Extension string
}

// Detector sniffs document content using magic bytes.
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect determines the type of data. name is optional and only breaks ties
// for generic containers (ZIP, OLE storage).
func (d *Detector) Detect(data []byte, name string) *Info {
	mtype := mimetype.Detect(data)
	info := &Info{
		MIMEType:  mtype.String(),
		Extension: strings.TrimPrefix(mtype.Extension(), "."),
	}
	if i := strings.IndexByte(info.MIMEType, ';'); i >= 0 {
		info.MIMEType = info.MIMEType[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))

	switch {
	case mtype.Is("application/zip"):
		if isContainer(data) {
			// document containers share a layout; only the name tells them apart
			switch ext {
			case "xlsy", "ppty":
				info.Extension = ext
			default:
				info.Extension = "docy"
			}
			info.MIMEType = containerMimeTypes[info.Extension]
		} else if m, ok := zipMimeTypes[ext]; ok {
			info.MIMEType, info.Extension = m, ext
		}
	case mtype.Is("application/x-ole-storage"):
		if m, ok := oleMimeTypes[ext]; ok {
			info.MIMEType, info.Extension = m, ext
		}
	}

	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("name", name).Msg("detected file type")
	return info
}

// DetectFormat returns the format tag (extension without dot) of data.
func DetectFormat(data []byte) string {
	return New().Detect(data, "").Extension
}

// MimeType sniffs the mimetype of data.
func MimeType(data []byte) string {
	return New().Detect(data, "").MIMEType
}

// ContentType is the mimetype to store data under name with.
func ContentType(data []byte, name string) string {
	return New().Detect(data, name).MIMEType
}

// isContainer reports whether data is a bridged-format archive (body.txt at
// the root).
func isContainer(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "body.txt" {
			return true
		}
	}
	return false
}

var containerMimeTypes = map[string]string{
	"docy": "application/x-asc-text",
	"xlsy": "application/x-asc-spreadsheet",
	"ppty": "application/x-asc-presentation",
}

var zipMimeTypes = map[string]string{
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"odt":  "application/vnd.oasis.opendocument.text",
	"ods":  "application/vnd.oasis.opendocument.spreadsheet",
	"odp":  "application/vnd.oasis.opendocument.presentation",
	"odg":  "application/vnd.oasis.opendocument.graphics",
	"epub": "application/epub+zip",
}

var oleMimeTypes = map[string]string{
	"doc": "application/msword",
	"xls": "application/vnd.ms-excel",
	"ppt": "application/vnd.ms-powerpoint",
}
