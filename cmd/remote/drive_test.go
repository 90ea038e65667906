package remote

import (
	"context"
	"fmt"
	"path/filepath"
)

// memDrive is an in-memory Drive. Folder ids are "f1", "f2", ...
type memDrive struct {
	children map[string][]Item
	nextID   int

	creates   []string
	lists     int
	uploads   []string
	listErr   error
	createErr map[string]error
	// concurrent names fail to create but appear anyway, as if another run won the race
	concurrent map[string]bool
	// vanishing names report a successful create that never shows up in listings
	vanishing map[string]bool
	uploadErr map[string]error
}

func newMemDrive() *memDrive {
	return &memDrive{
		children:   make(map[string][]Item),
		createErr:  make(map[string]error),
		concurrent: make(map[string]bool),
		vanishing:  make(map[string]bool),
		uploadErr:  make(map[string]error),
	}
}

func (d *memDrive) add(parentID, name string, folder bool) string {
	d.nextID++
	id := fmt.Sprintf("f%d", d.nextID)
	d.children[parentID] = append(d.children[parentID], Item{ID: id, Name: name, IsFolder: folder})
	return id
}

func (d *memDrive) ListChildren(_ context.Context, parentID string) ([]Item, error) {
	d.lists++
	if d.listErr != nil {
		return nil, d.listErr
	}
	return append([]Item(nil), d.children[parentID]...), nil
}

func (d *memDrive) CreateFolder(_ context.Context, parentID, name string) error {
	d.creates = append(d.creates, name)
	if d.concurrent[name] {
		d.add(parentID, name, true)
		return fmt.Errorf("nameAlreadyExists: %s", name)
	}
	if err := d.createErr[name]; err != nil {
		return err
	}
	if d.vanishing[name] {
		return nil
	}
	d.add(parentID, name, true)
	return nil
}

func (d *memDrive) UploadFile(_ context.Context, localPath, parentID string) error {
	name := filepath.Base(localPath)
	if err := d.uploadErr[name]; err != nil {
		return err
	}
	d.uploads = append(d.uploads, parentID+"/"+name)
	d.add(parentID, name, false)
	return nil
}
