package graph

import "time"

// File is one remote file descriptor. Identity is the remote item ID: two
// files sharing a name in different folders are distinct.
type File struct {
	ID          string
	Name        string
	Path        string
	MimeType    string
	Size        int64
	ETag        string
	ContentHash string
	WebURL      string
	DriveID     string
	DownloadURL string
}

// Fingerprint is the digest used to decide whether re-ingestion is needed.
// Falls back to the change tag when the store supplies no content hash.
func (f *File) Fingerprint() string {
	if f.ContentHash != "" {
		return f.ContentHash
	}
	return f.ETag
}

type Folder struct {
	ID         string
	Name       string
	Path       string
	DriveID    string
	ChildCount int
}

// DeltaItem is one entry from a delta query. Exactly one of File/Folder
// semantics applies; Deleted marks a tombstone.
type DeltaItem struct {
	ItemID   string
	Deleted  bool
	IsFolder bool
	File     *File
}

// DeltaPage is one page of a delta query. NextLink is set while more pages
// remain; DeltaLink is the new persisted token once the drain is complete.
type DeltaPage struct {
	Items     []DeltaItem
	NextLink  string
	DeltaLink string
}

type Subscription struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	ChangeType  string    `json:"changeType"`
	ClientState string    `json:"clientState"`
	Expiration  time.Time `json:"expirationDateTime"`
}

// driveItem is the wire shape of a Graph-style item.
type driveItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	ETag   string `json:"eTag"`
	Size   int64  `json:"size"`
	WebURL string `json:"webUrl"`
	File   *struct {
		MimeType string `json:"mimeType"`
		Hashes   struct {
			SHA256   string `json:"sha256Hash"`
			QuickXor string `json:"quickXorHash"`
		} `json:"hashes"`
	} `json:"file"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`
	ParentReference struct {
		DriveID string `json:"driveId"`
		Path    string `json:"path"`
	} `json:"parentReference"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl"`
}

func (d *driveItem) toFile(driveID string) *File {
	f := &File{
		ID:          d.ID,
		Name:        d.Name,
		Path:        d.ParentReference.Path + "/" + d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		WebURL:      d.WebURL,
		DriveID:     driveID,
		DownloadURL: d.DownloadURL,
	}
	if f.DriveID == "" {
		f.DriveID = d.ParentReference.DriveID
	}
	if d.File != nil {
		f.MimeType = d.File.MimeType
		if d.File.Hashes.SHA256 != "" {
			f.ContentHash = d.File.Hashes.SHA256
		} else {
			f.ContentHash = d.File.Hashes.QuickXor
		}
	}
	return f
}

func (d *driveItem) toFolder(driveID string) *Folder {
	f := &Folder{
		ID:      d.ID,
		Name:    d.Name,
		Path:    d.ParentReference.Path + "/" + d.Name,
		DriveID: driveID,
	}
	if d.Folder != nil {
		f.ChildCount = d.Folder.ChildCount
	}
	return f
}
