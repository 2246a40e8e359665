package ob

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/models"
)

// maximum number of symbolic links followed by one lookup
const maxLinkDepth = 32

type Directory struct {
	Header
	entries map[string]Object
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]Object)}
}

func (d *Directory) TypeName() string { return "Directory" }

// Get finds an entry by case-insensitive name.
func (d *Directory) Get(name string) Object {
	return d.entries[strings.ToLower(name)]
}

// Insert links o under name, taking a reference.
func (d *Directory) Insert(name string, o Object) error {
	key := strings.ToLower(name)
	if _, ok := d.entries[key]; ok {
		return errors.Wrap(models.STATUS_OBJECT_NAME_COLLISION, name)
	}
	o.ObjectHeader().Name = name
	d.entries[key] = AddRef(o)
	return nil
}

func (d *Directory) Remove(name string) bool {
	key := strings.ToLower(name)
	o, ok := d.entries[key]
	if ok {
		delete(d.entries, key)
		Release(o)
	}
	return ok
}

// Names lists the entries in natural order.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.entries))
	for _, o := range d.entries {
		names = append(names, o.ObjectHeader().Name)
	}
	sort.Slice(names, func(i, j int) bool { return sortorder.NaturalLess(names[i], names[j]) })
	return names
}

func (d *Directory) Destroy() {
	entries := d.entries
	d.entries = make(map[string]Object)
	for _, o := range entries {
		Release(o)
	}
}

type Symlink struct {
	Header
	Target string
}

func (s *Symlink) TypeName() string { return "SymbolicLink" }

// Parser is implemented by objects that resolve the rest of a path
// themselves, like a drive resolving host files.
type Parser interface {
	Object
	Parse(rest string) (Object, error)
}

// Namespace is the \-rooted object directory tree.
type Namespace struct {
	Root *Directory
}

func NewNamespace() *Namespace {
	return &Namespace{Root: NewDirectory()}
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, `\`) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Lookup resolves path relative to root, or absolutely when root is nil.
// Symbolic links are followed, except a final component when openLink is
// set. The caller owns a reference to the returned object.
func (ns *Namespace) Lookup(path string, root Object, openLink bool) (Object, error) {
	o, created, err := ns.resolve(path, root, openLink, 0)
	if err != nil {
		return nil, err
	}
	if !created {
		AddRef(o)
	}
	return o, nil
}

// resolve reports whether the object was freshly created by a Parser, in
// which case it already carries the caller's reference.
func (ns *Namespace) resolve(path string, root Object, openLink bool, depth int) (Object, bool, error) {
	if depth > maxLinkDepth {
		return nil, false, errors.Wrap(models.STATUS_OBJECT_PATH_NOT_FOUND, "too many symbolic links")
	}
	cur := root
	if cur == nil {
		if !strings.HasPrefix(path, `\`) {
			return nil, false, errors.Wrap(models.STATUS_OBJECT_NAME_INVALID, path)
		}
		cur = ns.Root
	}
	parts := splitPath(path)
	for i, part := range parts {
		last := i == len(parts)-1
		dir, ok := cur.(*Directory)
		if !ok {
			if p, ok := cur.(Parser); ok {
				o, err := p.Parse(strings.Join(parts[i:], `\`))
				return o, err == nil, err
			}
			return nil, false, errors.Wrap(models.STATUS_OBJECT_PATH_NOT_FOUND, path)
		}
		next := dir.Get(part)
		if next == nil {
			if last {
				return nil, false, errors.Wrap(models.STATUS_OBJECT_NAME_NOT_FOUND, path)
			}
			return nil, false, errors.Wrap(models.STATUS_OBJECT_PATH_NOT_FOUND, path)
		}
		if link, ok := next.(*Symlink); ok && (!last || !openLink) {
			target := link.Target
			if rest := parts[i+1:]; len(rest) > 0 {
				target += `\` + strings.Join(rest, `\`)
			}
			return ns.resolve(target, nil, openLink, depth+1)
		}
		cur = next
	}
	if p, ok := cur.(Parser); ok {
		o, err := p.Parse("")
		return o, err == nil, err
	}
	return cur, false, nil
}

func splitLeaf(path string) (string, string) {
	i := strings.LastIndex(path, `\`)
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Insert links o into the namespace at path, relative to root when given.
// The parent directory must exist.
func (ns *Namespace) Insert(path string, root Object, o Object) error {
	dirPath, leaf := splitLeaf(path)
	if leaf == "" {
		return errors.Wrap(models.STATUS_OBJECT_NAME_INVALID, path)
	}
	var parent Object
	var created bool
	var err error
	switch {
	case root != nil && dirPath == "":
		parent = root
	case root != nil:
		parent, created, err = ns.resolve(dirPath, root, false, 0)
	case !strings.HasPrefix(path, `\`):
		return errors.Wrap(models.STATUS_OBJECT_NAME_INVALID, path)
	case dirPath == "":
		parent = ns.Root
	default:
		parent, created, err = ns.resolve(dirPath, nil, false, 0)
	}
	if err != nil {
		if models.StatusOf(err) == models.STATUS_OBJECT_NAME_NOT_FOUND {
			err = errors.Wrap(models.STATUS_OBJECT_PATH_NOT_FOUND, path)
		}
		return err
	}
	if created {
		defer Release(parent)
	}
	dir, ok := parent.(*Directory)
	if !ok {
		return errors.Wrap(models.STATUS_OBJECT_TYPE_MISMATCH, path)
	}
	return dir.Insert(leaf, o)
}

func (ns *Namespace) CreateDirectory(path string) (*Directory, error) {
	d := NewDirectory()
	if err := ns.Insert(path, nil, d); err != nil {
		return nil, err
	}
	// the namespace holds the only reference
	Release(d)
	return d, nil
}

func (ns *Namespace) CreateSymlink(path, target string) (*Symlink, error) {
	s := &Symlink{Target: target}
	if err := ns.Insert(path, nil, s); err != nil {
		return nil, err
	}
	Release(s)
	return s, nil
}

// Walk visits every named object depth first in natural order.
func (ns *Namespace) Walk(fn func(path string, o Object)) {
	walkDir(ns.Root, "", fn)
}

func walkDir(d *Directory, prefix string, fn func(string, Object)) {
	for _, name := range d.Names() {
		o := d.Get(name)
		path := prefix + `\` + name
		fn(path, o)
		if sub, ok := o.(*Directory); ok {
			walkDir(sub, path, fn)
		}
	}
}

// Dump prints the namespace, one object per line.
func (ns *Namespace) Dump(w io.Writer) {
	ns.Walk(func(path string, o Object) {
		if link, ok := o.(*Symlink); ok {
			fmt.Fprintf(w, "%-40s %s -> %s\n", path, TypeName(o), link.Target)
		} else {
			fmt.Fprintf(w, "%-40s %s\n", path, TypeName(o))
		}
	})
}

func (ns *Namespace) Close() {
	Release(ns.Root)
}
