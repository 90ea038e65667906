package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Static errors for folder resolution
var (
	ErrFolderNotFound   = errors.New("folder not found")
	ErrFolderNotCreated = errors.New("folder still missing after create")
	ErrInvalidSegment   = errors.New("invalid folder name")
)

// FolderResolutionError reports the segment at which resolution stopped.
type FolderResolutionError struct {
	Segment string
	Path    []string
	Err     error
}

func (e *FolderResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve folder %q (path %s): %v", e.Segment, "/"+strings.Join(e.Path, "/"), e.Err)
}

func (e *FolderResolutionError) Unwrap() error {
	return e.Err
}

// FolderPath is the chain of folder ids from the root down to the target.
// IDs[i] is the id of Segments[i].
type FolderPath struct {
	RootID   string
	Segments []string
	IDs      []string
}

// TargetID is the id of the deepest folder, or the root for an empty path.
func (p FolderPath) TargetID() string {
	if len(p.IDs) == 0 {
		return p.RootID
	}
	return p.IDs[len(p.IDs)-1]
}

// Resolver walks a folder path segment by segment.
type Resolver struct {
	drive  Drive
	logger *slog.Logger
}

// NewResolver creates a resolver over drive
func NewResolver(drive Drive, logger *slog.Logger) *Resolver {
	return &Resolver{drive: drive, logger: logger}
}

// Resolve finds each segment under its parent, creating the ones that are
// missing. After a create the parent is listed again and the id taken from
// the listing, so a folder created concurrently by another run is reused
// rather than duplicated. Calling Resolve again with the same input yields
// the same path and creates nothing.
func (r *Resolver) Resolve(ctx context.Context, rootID string, segments []string) (FolderPath, error) {
	return r.walk(ctx, rootID, segments, true)
}

// ResolveExisting is Resolve without creation: any missing segment fails
// with ErrFolderNotFound.
func (r *Resolver) ResolveExisting(ctx context.Context, rootID string, segments []string) (FolderPath, error) {
	return r.walk(ctx, rootID, segments, false)
}

func (r *Resolver) walk(ctx context.Context, rootID string, segments []string, create bool) (FolderPath, error) {
	fp := FolderPath{RootID: rootID}
	parent := rootID

	for _, seg := range segments {
		fail := func(err error) (FolderPath, error) {
			return fp, &FolderResolutionError{Segment: seg, Path: append(append([]string{}, fp.Segments...), seg), Err: err}
		}

		if seg == "" || strings.ContainsAny(seg, `/\`) {
			return fail(fmt.Errorf("%w: %q", ErrInvalidSegment, seg))
		}

		item, found, err := r.lookup(ctx, parent, seg)
		if err != nil {
			return fail(err)
		}

		if !found {
			if !create {
				return fail(ErrFolderNotFound)
			}

			createErr := r.drive.CreateFolder(ctx, parent, seg)
			if createErr != nil {
				r.logger.Warn(fmt.Sprintf("⚠️  Creating folder %s failed, checking whether it exists anyway: %v", seg, createErr))
			}

			item, found, err = r.lookup(ctx, parent, seg)
			switch {
			case err != nil:
				return fail(errors.Join(createErr, err))
			case !found && createErr != nil:
				return fail(createErr)
			case !found:
				return fail(ErrFolderNotCreated)
			}
			r.logger.Info(fmt.Sprintf("📁 Created folder %s", "/"+strings.Join(append(append([]string{}, fp.Segments...), seg), "/")))
		}

		fp.Segments = append(fp.Segments, seg)
		fp.IDs = append(fp.IDs, item.ID)
		parent = item.ID
	}

	return fp, nil
}

// lookup reports whether parentID has a child folder named exactly name.
func (r *Resolver) lookup(ctx context.Context, parentID, name string) (Item, bool, error) {
	children, err := r.drive.ListChildren(ctx, parentID)
	if err != nil {
		return Item{}, false, err
	}

	for _, child := range children {
		if child.IsFolder && child.Name == name {
			return child, true, nil
		}
	}
	return Item{}, false, nil
}
