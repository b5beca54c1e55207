// Package blob stores file content on local disk with transparent gzip
// compression. Sizes reported to callers are always the decompressed
// logical size, never the on-disk size.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"fileshare/internal/apperr"
)

const chunkSize = 4096

type Store struct {
	basePath string
}

func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("blob store base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create blob base path: %w", err)
	}

	return &Store{basePath: basePath}, nil
}

func (s *Store) objectPath(fileID string) string {
	return filepath.Join(s.basePath, fileID)
}

// Path returns the on-disk location for a file id, recorded in the
// file's metadata row.
func (s *Store) Path(fileID string) string {
	return s.objectPath(fileID)
}

// Put streams the reader through a gzip writer into the object for
// fileID and returns the decompressed byte count. The write goes to a
// temp file first and is renamed into place only on success, so a
// cancelled or failed upload never leaves a truncated object under the
// final name. Any previous content for fileID is replaced.
func (s *Store) Put(ctx context.Context, fileID string, reader io.Reader) (int64, error) {
	finalPath := s.objectPath(fileID)

	tmp, err := os.CreateTemp(s.basePath, fileID+".part-*")
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageIO, "create temp object", err)
	}
	tmpPath := tmp.Name()

	written, err := s.writeCompressed(ctx, tmp, reader)
	closeErr := tmp.Close()
	if err == nil && closeErr != nil {
		err = apperr.Wrap(apperr.KindStorageIO, "close temp object", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, apperr.Wrap(apperr.KindStorageIO, "finalize object", err)
	}

	return written, nil
}

func (s *Store) writeCompressed(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	compressor := gzip.NewWriter(dst)

	var written int64
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return 0, apperr.Wrap(apperr.KindStorageIO, "upload cancelled", err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := compressor.Write(buf[:n]); err != nil {
				return 0, apperr.Wrap(apperr.KindStorageIO, "write compressed chunk", err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, apperr.Wrap(apperr.KindStorageIO, "read upload chunk", readErr)
		}
	}

	if err := compressor.Close(); err != nil {
		return 0, apperr.Wrap(apperr.KindStorageIO, "flush compressed object", err)
	}

	return written, nil
}

// Get opens the object for fileID and returns a reader producing the
// decompressed content. The reader is finite and restartable only from
// scratch via a new Get call. The caller must Close it.
func (s *Store) Get(ctx context.Context, fileID string) (io.ReadCloser, error) {
	file, err := os.Open(s.objectPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.KindNotFound, "object not found", err)
		}
		return nil, apperr.Wrap(apperr.KindStorageIO, "open object", err)
	}

	decompressor, err := gzip.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, apperr.Wrap(apperr.KindStorageIO, "open compressed object", err)
	}

	return &objectReader{ctx: ctx, file: file, decompressor: decompressor}, nil
}

// Delete removes the backing object. A missing object reports NotFound;
// callers treat that as non-fatal.
func (s *Store) Delete(fileID string) error {
	if err := os.Remove(s.objectPath(fileID)); err != nil {
		if os.IsNotExist(err) {
			return apperr.Wrap(apperr.KindNotFound, "object not found", err)
		}
		return apperr.Wrap(apperr.KindStorageIO, "remove object", err)
	}
	return nil
}

// ObjectInfo describes a stored object for reconciliation sweeps.
type ObjectInfo struct {
	FileID  string
	ModTime time.Time
}

// List enumerates stored objects. Unfinished temp objects are skipped;
// they are cleaned up by their own writers.
func (s *Store) List() ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageIO, "list objects", err)
	}

	objects := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.Contains(entry.Name(), ".part-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		objects = append(objects, ObjectInfo{FileID: entry.Name(), ModTime: info.ModTime().UTC()})
	}

	return objects, nil
}

// objectReader decompresses at most chunkSize bytes per Read and
// checks for cancellation between chunks, so a disconnected client
// stops the download loop promptly.
type objectReader struct {
	ctx          context.Context
	file         *os.File
	decompressor *gzip.Reader
}

func (r *objectReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > chunkSize {
		p = p[:chunkSize]
	}
	return r.decompressor.Read(p)
}

func (r *objectReader) Close() error {
	decompressErr := r.decompressor.Close()
	fileErr := r.file.Close()
	if decompressErr != nil {
		return decompressErr
	}
	return fileErr
}
