package pe

import (
	"fmt"
	"sort"
)

const (
	resourceDirectorySize      = 16
	resourceDirectoryEntrySize = 8
	resourceSubdirectoryFlag   = 0x80000000
)

// Resource types.
const (
	RT_CURSOR       = 1
	RT_BITMAP       = 2
	RT_ICON         = 3
	RT_MENU         = 4
	RT_DIALOG       = 5
	RT_STRING       = 6
	RT_RCDATA       = 10
	RT_GROUP_CURSOR = 12
	RT_GROUP_ICON   = 14
	RT_VERSION      = 16
	RT_MANIFEST     = 24
)

// ResourceInfo counts the resources of each type in the root of the
// resource tree.
type ResourceInfo struct {
	Types map[string]int `json:"types"`
}

// TypeNames returns the resource types present, sorted.
func (r *ResourceInfo) TypeNames() []string {
	names := make([]string, 0, len(r.Types))
	for n := range r.Types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseResources reads the first two levels of the resource directory:
// the root lists types and each type's subdirectory lists its resources.
// It returns nil when the image has no resources.
func ParseResources(img *Image, h *Header) (*ResourceInfo, error) {
	dir, ok := h.Directory(DirectoryResource)
	if !ok || dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}

	off, avail, err := h.Resolver.Resolve(dir.VirtualAddress)
	if err != nil {
		return nil, fmt.Errorf("resource directory: %w", err)
	}
	// Subdirectory offsets are relative to the root and stay in its section.
	tree, ok := span(img.Bytes(), off, avail)
	if !ok {
		return nil, formatErr(ErrTruncated, "IMAGE_RESOURCE_DIRECTORY", int64(off), "")
	}

	root, err := resourceEntries(tree, 0)
	if err != nil {
		return nil, err
	}

	info := &ResourceInfo{Types: make(map[string]int)}
	for _, e := range root {
		name := resourceTypeName(e.nameOrID)
		if e.target&resourceSubdirectoryFlag == 0 {
			info.Types[name]++
			continue
		}
		// Subdirectories are counted from their header alone; root entries
		// may all point at the same one.
		n, err := resourceEntryCount(tree, uint64(e.target&^resourceSubdirectoryFlag))
		if err != nil {
			return info, err
		}
		info.Types[name] += int(n)
	}

	return info, nil
}

type resourceEntry struct {
	nameOrID uint32
	target   uint32
}

// resourceEntryCount reads the IMAGE_RESOURCE_DIRECTORY at off in tree and
// checks that its entry table fits.
func resourceEntryCount(tree []byte, off uint64) (uint64, error) {
	hdr, ok := span(tree, off, resourceDirectorySize)
	if !ok {
		return 0, formatErr(ErrTableOutOfBounds, "IMAGE_RESOURCE_DIRECTORY", int64(off),
			"directory at tree offset 0x%X exceeds the section", off)
	}
	named, _ := u16At(hdr, 12)
	ids, _ := u16At(hdr, 14)
	n := uint64(named) + uint64(ids)

	if _, ok := span(tree, off+resourceDirectorySize, n*resourceDirectoryEntrySize); !ok {
		return 0, formatErr(ErrTableOutOfBounds, "NumberOfIdEntries", int64(off+14),
			"%d entries exceed the section", n)
	}
	return n, nil
}

// resourceEntries reads the IMAGE_RESOURCE_DIRECTORY at off in tree and
// its entries.
func resourceEntries(tree []byte, off uint64) ([]resourceEntry, error) {
	n, err := resourceEntryCount(tree, off)
	if err != nil {
		return nil, err
	}
	raw := tree[off+resourceDirectorySize : off+resourceDirectorySize+n*resourceDirectoryEntrySize]

	entries := make([]resourceEntry, n)
	for i := range entries {
		nameOrID, _ := u32At(raw, uint64(i)*resourceDirectoryEntrySize)
		target, _ := u32At(raw, uint64(i)*resourceDirectoryEntrySize+4)
		entries[i] = resourceEntry{nameOrID: nameOrID, target: target}
	}
	return entries, nil
}

func resourceTypeName(id uint32) string {
	// Named types carry a string offset with the high bit set.
	if id&0x80000000 != 0 {
		return "named"
	}
	switch id {
	case RT_CURSOR:
		return "CURSOR"
	case RT_BITMAP:
		return "BITMAP"
	case RT_ICON:
		return "ICON"
	case RT_MENU:
		return "MENU"
	case RT_DIALOG:
		return "DIALOG"
	case RT_STRING:
		return "STRING"
	case RT_RCDATA:
		return "RCDATA"
	case RT_GROUP_CURSOR:
		return "GROUP_CURSOR"
	case RT_GROUP_ICON:
		return "GROUP_ICON"
	case RT_VERSION:
		return "VERSION"
	case RT_MANIFEST:
		return "MANIFEST"
	default:
		return fmt.Sprintf("TYPE_%d", id)
	}
}
