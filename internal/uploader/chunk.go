package uploader

import (
	"crypto/md5"
	"encoding/base64"
	"io"
	"os"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"

	"github.com/datalift/partstream/internal/planner"
)

// source is the file being transferred. Workers read their byte
// ranges through positioned reads on the shared handle, so no seek
// state is shared between them.
type source struct {
	file        *os.File
	name        string
	size        int64
	contentType string

	sent atomic.Int64 // bytes transferred so far, for progress
}

func openSource(path string) (*source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mt.String()
	}

	return &source{
		file:        file,
		name:        fi.Name(),
		size:        fi.Size(),
		contentType: contentType,
	}, nil
}

func (s *source) Close() error {
	return s.file.Close()
}

// reader returns a fresh reader over one part's byte range. Each retry
// attempt gets its own reader so a partially-consumed body never leaks
// into the next attempt.
func (s *source) reader(p planner.Part) *chunkReader {
	return &chunkReader{src: s, base: p.Offset, off: p.Offset, limit: p.Offset + p.Length}
}

// chunkReader reads the byte range [base, limit) of the source using
// ReadAt, counting transferred bytes.
type chunkReader struct {
	src   *source
	base  int64
	off   int64
	limit int64
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if max := r.limit - r.off; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := r.src.file.ReadAt(p, r.off)
	r.off += int64(n)
	r.src.sent.Add(int64(n))
	if err == io.EOF && r.off >= r.limit {
		err = nil
	}
	return n, err
}

func (r *chunkReader) Size() int64 {
	return r.limit - r.base
}

// md5Base64 computes the base64 MD5 digest of the chunk's range
// without disturbing the reader or the progress counter.
func (r *chunkReader) md5Base64() (string, error) {
	h := md5.New()
	section := io.NewSectionReader(r.src.file, r.base, r.limit-r.base)
	if _, err := io.Copy(h, section); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
