package docstore

import (
	"fmt"
	"strings"

	"github.com/dabubble/common/errors"
)

// CollectionRef addresses a collection by its slash separated path,
// e.g. "users/u1/channels". Collection paths have an odd number of segments.
type CollectionRef struct {
	path string
}

// DocRef addresses a single document inside a collection.
type DocRef struct {
	Parent CollectionRef
	ID     string
}

func Collection(segments ...string) CollectionRef {
	return CollectionRef{path: strings.Join(segments, "/")}
}

func (c CollectionRef) Path() string {
	return c.path
}

// ID returns the last segment of the collection path.
func (c CollectionRef) ID() string {
	if i := strings.LastIndexByte(c.path, '/'); i >= 0 {
		return c.path[i+1:]
	}
	return c.path
}

// Parent returns the path of the document owning the collection, empty for root collections.
func (c CollectionRef) Parent() string {
	if i := strings.LastIndexByte(c.path, '/'); i >= 0 {
		return c.path[:i]
	}
	return ""
}

// Group returns the collection path with every document id removed,
// "users/u1/channels/c1/messages" becomes "users_channels_messages".
func (c CollectionRef) Group() string {
	segs := strings.Split(c.path, "/")
	names := make([]string, 0, (len(segs)+1)/2)
	for i := 0; i < len(segs); i += 2 {
		names = append(names, segs[i])
	}
	return strings.Join(names, "_")
}

func (c CollectionRef) Valid() bool {
	if c.path == "" {
		return false
	}
	segs := strings.Split(c.path, "/")
	if len(segs)%2 == 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}

func (c CollectionRef) Doc(id string) DocRef {
	return DocRef{Parent: c, ID: id}
}

func (c CollectionRef) String() string {
	return c.path
}

func (d DocRef) Path() string {
	return d.Parent.path + "/" + d.ID
}

// Collection returns a sub collection of the document.
func (d DocRef) Collection(name string) CollectionRef {
	return CollectionRef{path: d.Path() + "/" + name}
}

func (d DocRef) Valid() bool {
	return d.Parent.Valid() && d.ID != "" && !strings.Contains(d.ID, "/")
}

func (d DocRef) String() string {
	return d.Path()
}

// ParseDoc parses a document path such as "users/u1/channels/c1".
func ParseDoc(path string) (DocRef, error) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return DocRef{}, fmt.Errorf("%w: %q", errors.ErrInvalidPath, path)
	}
	ref := DocRef{Parent: CollectionRef{path: path[:i]}, ID: path[i+1:]}
	if !ref.Valid() {
		return DocRef{}, fmt.Errorf("%w: %q", errors.ErrInvalidPath, path)
	}
	return ref, nil
}
