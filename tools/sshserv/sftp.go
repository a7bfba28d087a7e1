package sshserv

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

func (s *Server) serveSFTP(ch ssh.Channel) {
	fs := memFS{files: map[string][]byte{}, denied: map[string]bool{}}
	for p, b := range s.cfg.Files {
		fs.files[path.Join("/", p)] = b
	}
	for _, p := range s.cfg.Unreadable {
		fs.denied[path.Join("/", p)] = true
	}
	h := sftp.Handlers{FileGet: fs, FilePut: fs, FileCmd: fs, FileList: fs}
	srv := sftp.NewRequestServer(ch, h)
	_ = srv.Serve()
	_ = srv.Close()
}

// memFS is a read-only sftp backend over a fixed set of files. Directories
// exist implicitly as the parents of files.
type memFS struct {
	files  map[string][]byte
	denied map[string]bool
}

var errReadOnly = errors.New("read-only device emulator")

func (fs memFS) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	p := path.Join("/", r.Filepath)
	b, ok := fs.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	if fs.denied[p] {
		return nil, os.ErrPermission
	}
	return bytes.NewReader(b), nil
}

func (fs memFS) Filewrite(*sftp.Request) (io.WriterAt, error) { return nil, errReadOnly }

func (fs memFS) Filecmd(*sftp.Request) error { return errReadOnly }

func (fs memFS) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	p := path.Join("/", r.Filepath)
	switch r.Method {
	case "Stat", "Lstat":
		if b, ok := fs.files[p]; ok {
			return listerAt{fileInfo{name: path.Base(p), size: int64(len(b))}}, nil
		}
		if fs.isDir(p) {
			return listerAt{fileInfo{name: path.Base(p), dir: true}}, nil
		}
		return nil, os.ErrNotExist
	case "List":
		if !fs.isDir(p) {
			return nil, os.ErrNotExist
		}
		return fs.children(p), nil
	}
	return nil, errReadOnly
}

func (fs memFS) isDir(p string) bool {
	if p == "/" {
		return true
	}
	for f := range fs.files {
		if strings.HasPrefix(f, p+"/") {
			return true
		}
	}
	return false
}

// children lists the files and subdirectories directly below dir by name.
func (fs memFS) children(dir string) listerAt {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := map[string]bool{}
	var out listerAt
	for f, b := range fs.files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		rest := f[len(prefix):]
		name, _, nested := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		if nested {
			out = append(out, fileInfo{name: name, dir: true})
		} else {
			out = append(out, fileInfo{name: name, size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

type listerAt []os.FileInfo

func (l listerAt) ListAt(dst []os.FileInfo, off int64) (int, error) {
	if off >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dst, l[off:])
	if n+int(off) >= len(l) {
		return n, io.EOF
	}
	return n, nil
}

type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (f fileInfo) Name() string { return f.name }
func (f fileInfo) Size() int64  { return f.size }
func (f fileInfo) Mode() os.FileMode {
	if f.dir {
		return os.ModeDir | 0o550
	}
	return 0o440
}
func (f fileInfo) ModTime() time.Time { return time.Time{} }
func (f fileInfo) IsDir() bool        { return f.dir }
func (f fileInfo) Sys() any           { return nil }
