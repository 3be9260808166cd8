package gdrive

import "strings"

// MIME types used to classify remote items.
const (
	// MimeTypeFolder marks an item as a folder rather than a file.
	MimeTypeFolder = "application/vnd.google-apps.folder"

	// nativePrefix marks Workspace document types that have no byte
	// representation of their own and must go through export/import.
	nativePrefix = "application/vnd.google-apps."
)

// Interchange formats used when materializing native documents.
const (
	MimeTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeTypeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeTypePptx = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MimeTypePNG  = "image/png"
	MimeTypePDF  = "application/pdf"
)

// Node is the remote store's view of a single item. The ID is opaque,
// globally unique and stable across renames and moves. Revision is an
// opaque tag that advances on every remote mutation, content or metadata.
type Node struct {
	ID       string
	Name     string
	MimeType string
	// Size is the byte length for raw files. Native documents have no
	// intrinsic byte length; their visible size is determined by export.
	Size     int64
	Revision string
	// Parents holds zero or more parent folder IDs. The remote namespace
	// is a graph, not a tree.
	Parents      []string
	Trashed      bool
	CreatedTime  string // RFC3339
	ModifiedTime string // RFC3339
	ViewedTime   string // RFC3339, last viewed by the requesting user
	Md5Checksum  string
}

// IsFolder reports whether the node is a folder.
func (n Node) IsFolder() bool {
	return n.MimeType == MimeTypeFolder
}

// IsNative reports whether the node is a native document that requires
// export/import conversions to present a byte view.
func (n Node) IsNative() bool {
	return strings.HasPrefix(n.MimeType, nativePrefix) && !n.IsFolder()
}

// exportFormat describes the fixed byte representation chosen for one
// native document subtype.
type exportFormat struct {
	mime       string
	importable bool
}

// exportFormats fixes one interchange format per native subtype. The
// choice is part of the filesystem's contract: reads and writes of a
// given document always go through the same format.
var exportFormats = map[string]exportFormat{
	"application/vnd.google-apps.document":     {MimeTypeDocx, true},
	"application/vnd.google-apps.spreadsheet":  {MimeTypeXlsx, true},
	"application/vnd.google-apps.presentation": {MimeTypePptx, true},
	"application/vnd.google-apps.drawing":      {MimeTypePNG, false},
}

// ExportFormat returns the interchange MIME type used to materialize the
// given native document type, and whether bytes in that format can be
// imported back on write. Unknown Workspace types fall back to a PDF
// export, which is never importable. Returns ("", false) for types that
// are not native documents at all.
func ExportFormat(mimeType string) (string, bool) {
	if !strings.HasPrefix(mimeType, nativePrefix) || mimeType == MimeTypeFolder {
		return "", false
	}
	if f, ok := exportFormats[mimeType]; ok {
		return f.mime, f.importable
	}
	return MimeTypePDF, false
}

// UploadRequest describes a content upload. An empty ID creates a new
// item under ParentID; a non-empty ID replaces the content of an
// existing item. BaseRevision, when non-empty, is an optimistic
// concurrency precondition: the upload fails with ErrConflict if the
// remote revision no longer matches.
type UploadRequest struct {
	ID           string
	ParentID     string
	Name         string
	MimeType     string // target MIME type; empty means a plain binary file
	Data         []byte // nil when creating a folder
	BaseRevision string
}

// Change is one entry of the remote change stream: either an update
// (Node set) or a removal (Removed set, Node nil).
type Change struct {
	ID      string
	Removed bool
	Node    *Node
}

// ChangeList is one page of the change stream along with the cursor to
// resume from.
type ChangeList struct {
	Changes    []Change
	NextCursor string
}

// About reports storage quota, used to answer statfs. A Limit of zero
// means the quota is unlimited or unknown.
type About struct {
	Limit int64
	Usage int64
}
