package reconcile

import (
	"sort"
	"strings"
)

// Backend-native document mime types.
const (
	MimeFolder       = "application/vnd.google-apps.folder"
	MimeDocument     = "application/vnd.google-apps.document"
	MimeDrawing      = "application/vnd.google-apps.drawing"
	MimeSpreadsheet  = "application/vnd.google-apps.spreadsheet"
	MimePresentation = "application/vnd.google-apps.presentation"
	MimeForm         = "application/vnd.google-apps.form"
	MimeMap          = "application/vnd.google-apps.map"
)

// Format describes how one convertible document type is shown and exported.
type Format struct {
	MimeType string
	// Ext is the virtual extension appended to the display name.
	Ext string
	// ExportExt and ExportMime select the download conversion.
	ExportExt  string
	ExportMime string
}

// DefaultExport is used when the preferred conversion is not offered.
var DefaultExport = Format{ExportExt: ".pdf", ExportMime: "application/pdf"}

// Formats maps a native mime type to its format.
type Formats map[string]Format

// DocsFormats is the Google Docs table.
var DocsFormats = Formats{
	MimeDocument: {
		MimeType:   MimeDocument,
		Ext:        ".gdoc",
		ExportExt:  ".docx",
		ExportMime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	},
	MimeDrawing: {
		MimeType:   MimeDrawing,
		Ext:        ".gdraw",
		ExportExt:  ".jpg",
		ExportMime: "image/jpeg",
	},
	MimeSpreadsheet: {
		MimeType:   MimeSpreadsheet,
		Ext:        ".gsheet",
		ExportExt:  ".xlsx",
		ExportMime: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	},
	MimePresentation: {
		MimeType:   MimePresentation,
		Ext:        ".gslides",
		ExportExt:  ".pptx",
		ExportMime: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	},
}

// ExcludedMimeTypes are never matched by a plain name search: documents
// carry a virtual extension and forms and maps cannot be downloaded.
var ExcludedMimeTypes = []string{
	MimeForm,
	MimeMap,
	MimeDocument,
	MimeDrawing,
	MimePresentation,
	MimeSpreadsheet,
}

// Lookup returns the format of a convertible mime type.
func (f Formats) Lookup(mime string) (Format, bool) {
	format, ok := f[mime]
	return format, ok
}

// IsConvertible reports a mime type that must be exported to download.
func (f Formats) IsConvertible(mime string) bool {
	_, ok := f[mime]
	return ok
}

// ByExt returns the format whose virtual extension is ext.
func (f Formats) ByExt(ext string) (Format, bool) {
	ext = strings.ToLower(ext)
	for _, format := range f {
		if format.Ext == ext {
			return format, true
		}
	}
	return Format{}, false
}

// Exts returns every virtual extension in sorted order.
func (f Formats) Exts() []string {
	exts := make([]string, 0, len(f))
	for _, format := range f {
		exts = append(exts, format.Ext)
	}
	sort.Strings(exts)
	return exts
}

// Export picks the conversion for mime. available lists the export mime types
// the backend offers; nil means the backend did not say and the preferred
// conversion is assumed.
func (f Formats) Export(mime string, available []string) Format {
	format, ok := f[mime]
	if !ok {
		return DefaultExport
	}
	if available == nil {
		return format
	}
	for _, m := range available {
		if m == format.ExportMime {
			return format
		}
	}
	out := DefaultExport
	out.MimeType = format.MimeType
	out.Ext = format.Ext
	return out
}
