package problemstore

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"codejudge/internal/common/storage"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
)

const packExt = ".tar.zst"

// ObjectPackFetcher downloads <prefix>/<id>.tar.zst from object storage and
// extracts it.
type ObjectPackFetcher struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
}

// NewObjectPackFetcher creates a fetcher over the given bucket and key prefix.
func NewObjectPackFetcher(objects storage.ObjectStorage, bucket, prefix string) *ObjectPackFetcher {
	return &ObjectPackFetcher{
		storage: objects,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
	}
}

// PackKey returns the object key of a problem's data pack.
func (f *ObjectPackFetcher) PackKey(problemID int64) string {
	return path.Join(f.prefix, fmt.Sprintf("%d%s", problemID, packExt))
}

// Fetch extracts the pack into a sibling temp dir and renames it into place,
// so dest is either complete or absent.
func (f *ObjectPackFetcher) Fetch(ctx context.Context, problemID int64, dest string) error {
	if f.storage == nil {
		return appErr.New(appErr.StorageError).WithMessage("storage client is not initialized")
	}
	key := f.PackKey(problemID)
	reader, err := f.storage.GetObject(ctx, f.bucket, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return appErr.Newf(appErr.ProblemNotFound, "problem %d not found", problemID)
		}
		return appErr.Wrapf(err, appErr.StorageError, "download data pack failed")
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create problems dir failed")
	}
	tmp := dest + ".tmp-" + uuid.NewString()
	defer os.RemoveAll(tmp)

	if err := ExtractPack(reader, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "install data pack failed")
	}
	logger.Info(ctx, "problem data pack installed",
		zap.Int64("problem_id", problemID),
		zap.String("key", key),
	)
	return nil
}

// ExtractPack unpacks a zstd-compressed tar stream into dstDir. Entries that
// would land outside dstDir are rejected.
func ExtractPack(src io.Reader, dstDir string) error {
	zstdReader, err := zstd.NewReader(src)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create zstd reader failed")
	}
	defer zstdReader.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create dir failed")
	}
	cleanDst := filepath.Clean(dstDir)
	tr := tar.NewReader(zstdReader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(hdr.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.New(appErr.StorageError).WithMessage("invalid tar entry path")
		}
		target := filepath.Join(cleanDst, cleanName)
		if target != cleanDst && !strings.HasPrefix(target, cleanDst+string(filepath.Separator)) {
			return appErr.New(appErr.StorageError).WithMessage("tar entry escape detected")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.StorageError, "create dir failed")
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		default:
			// links and devices are skipped
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create parent dir failed")
	}
	if mode == 0 {
		mode = 0o644
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create file failed")
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return appErr.Wrapf(err, appErr.StorageError, "write file failed")
	}
	return file.Close()
}
