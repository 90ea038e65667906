package remote

import "context"

// Item is one child entry of a remote folder.
type Item struct {
	ID       string
	Name     string
	IsFolder bool
}

// Drive is the folder and file surface of a remote store. An empty parent
// id addresses the store's root.
type Drive interface {
	ListChildren(ctx context.Context, parentID string) ([]Item, error)
	// CreateFolder does not return the new id; callers re-list to find it.
	CreateFolder(ctx context.Context, parentID, name string) error
	UploadFile(ctx context.Context, localPath, parentID string) error
}
