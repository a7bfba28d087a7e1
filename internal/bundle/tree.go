package bundle

import (
	"fmt"
	"path"
	"strings"
)

// treeLayout places the files of one directory fetch below its TreeDir.
// Device names are reduced with safeSegment; names that collide after that,
// ignoring case, get a numeric suffix. A remote directory keeps the bundle
// directory it was first given.
type treeLayout struct {
	root   string
	remote string
	taken  map[string]bool
	dirs   map[string]string
}

func newTreeLayout(root, remoteRoot string) *treeLayout {
	return &treeLayout{
		root:   root,
		remote: path.Clean(path.Join("/", remoteRoot)),
		taken:  map[string]bool{},
		dirs:   map[string]string{},
	}
}

// file returns the bundle path for a remote file.
func (l *treeLayout) file(remote string) string {
	rel := l.relative(remote)
	return l.claim(l.dir(path.Dir(rel)), path.Base(rel))
}

// relative maps remote to an absolute path rooted at the fetched directory.
func (l *treeLayout) relative(remote string) string {
	p := path.Clean(path.Join("/", remote))
	switch {
	case l.remote == "/":
		return p
	case p == l.remote:
		return "/" + path.Base(p)
	case strings.HasPrefix(p, l.remote+"/"):
		return p[len(l.remote):]
	}
	return p
}

func (l *treeLayout) dir(rel string) string {
	if rel == "/" {
		return l.root
	}
	if d, ok := l.dirs[rel]; ok {
		return d
	}
	d := l.claim(l.dir(path.Dir(rel)), path.Base(rel))
	l.dirs[rel] = d
	return d
}

func (l *treeLayout) claim(parent, base string) string {
	seg := safeSegment(base)
	p := path.Join(parent, seg)
	for i := 2; l.taken[strings.ToLower(p)]; i++ {
		p = path.Join(parent, fmt.Sprintf("%s-%d", seg, i))
	}
	l.taken[strings.ToLower(p)] = true
	return p
}
