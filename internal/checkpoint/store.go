// internal/checkpoint/store.go
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const tempPrefix = ".tmp-"

// ContentStore keeps zstd-compressed blobs addressed by the SHA-256 of their
// uncompressed bytes. Reference counts are tracked in the database; the store
// only holds bytes.
type ContentStore struct {
	root    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewContentStore creates a content store rooted at dir
func NewContentStore(dir string, compressionLevel int) (*ContentStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioError("create content store", dir, err)
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)),
		zstd.WithZeroFrames(true))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &ContentStore{
		root:    dir,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Close releases the codec resources
func (s *ContentStore) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// Root returns the directory holding the blobs
func (s *ContentStore) Root() string {
	return s.root
}

// CalculateHash calculates SHA256 hash of content
func CalculateHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

func (s *ContentStore) blobPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash)
}

// Has reports whether a blob file exists for hash
func (s *ContentStore) Has(hash string) bool {
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// Put stores data under hash unless a blob already exists. It reports
// whether a new file was created so callers can undo staged writes.
func (s *ContentStore) Put(hash string, data []byte) (bool, error) {
	dst := s.blobPath(hash)
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, ioError("create blob dir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return false, ioError("create temp blob", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	compressed := s.encoder.EncodeAll(data, nil)
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return false, ioError("write blob", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, ioError("sync blob", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return false, ioError("close blob", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return false, ioError("commit blob", dst, err)
	}
	syncDir(dir)

	return true, nil
}

// Get reads and verifies the blob stored under hash
func (s *ContentStore) Get(hash string) ([]byte, error) {
	compressed, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &TreeIntegrityError{CheckpointID: "-", Reason: fmt.Sprintf("blob %s is missing", hash)}
		}
		return nil, ioError("read blob", hash, err)
	}

	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, &HashMismatchError{Hash: hash, Actual: "undecodable"}
	}
	if actual := CalculateHash(data); actual != hash {
		return nil, &HashMismatchError{Hash: hash, Actual: actual}
	}
	return data, nil
}

// Remove deletes the blob file for hash. Missing files are not an error.
func (s *ContentStore) Remove(hash string) error {
	if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return ioError("remove blob", hash, err)
	}
	return nil
}

// List returns the hash of every blob file on disk
func (s *ContentStore) List() ([]string, error) {
	var hashes []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		hashes = append(hashes, d.Name())
		return nil
	})
	if err != nil {
		return nil, ioError("list blobs", s.root, err)
	}
	return hashes, nil
}

// Sweep removes blob files not present in live along with leftover temp
// files. Such files come from captures that staged blobs but never
// committed.
func (s *ContentStore) Sweep(live map[string]bool) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, tempPrefix) || !live[name] {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, ioError("sweep blobs", s.root, err)
	}
	return removed, nil
}

func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
}
