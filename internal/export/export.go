package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sqldump/sqldump/internal/dispatch"
	"github.com/sqldump/sqldump/internal/observability"
	"github.com/sqldump/sqldump/internal/storage"
)

var ErrNotFound = errors.New("export not found")

// Export is one rendered document kept in object storage.
type Export struct {
	QueryKey     string    `json:"query_key"`
	Name         string    `json:"name"`
	ObjectKey    string    `json:"object_key"`
	Format       string    `json:"format"`
	MediaType    string    `json:"media_type,omitempty"`
	Size         int64     `json:"size_bytes"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// Service archives rendered documents under <prefix>/<query key>/.
type Service struct {
	store  storage.ObjectStore
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewService(store storage.ObjectStore, prefix string) *Service {
	return &Service{
		store:  store,
		prefix: prefix,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Save stores doc as a new export of queryKey.
func (s *Service) Save(ctx context.Context, queryKey string, doc dispatch.Document) (Export, error) {
	name, err := storage.BuildExportFileName(s.now(), s.newID(), doc.Format)
	if err != nil {
		return Export{}, err
	}
	objectKey, err := storage.BuildExportPath(s.prefix, queryKey, name)
	if err != nil {
		return Export{}, err
	}

	info, err := s.store.Put(ctx, objectKey, bytes.NewReader(doc.Body), int64(len(doc.Body)), storage.PutOptions{ContentType: doc.MediaType})
	if err != nil {
		return Export{}, fmt.Errorf("store export: %w", err)
	}
	observability.IncrementExportsStored()

	size := info.Size
	if size == 0 {
		size = int64(len(doc.Body))
	}
	return Export{
		QueryKey:     queryKey,
		Name:         name,
		ObjectKey:    objectKey,
		Format:       doc.Format,
		MediaType:    doc.MediaType,
		Size:         size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// List returns the exports of queryKey, newest first. Names start with the
// UTC save time, so they order chronologically. A positive limit keeps the
// most recent exports.
func (s *Service) List(ctx context.Context, queryKey string, limit int) ([]Export, error) {
	dir, err := storage.BuildExportDir(s.prefix, queryKey)
	if err != nil {
		return nil, err
	}
	infos, err := s.store.List(ctx, dir, storage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	exports := make([]Export, 0, len(infos))
	for _, info := range infos {
		exports = append(exports, fromObject(queryKey, info))
	}
	slices.SortFunc(exports, func(a, b Export) int { return strings.Compare(b.Name, a.Name) })
	if limit > 0 && len(exports) > limit {
		exports = exports[:limit]
	}
	return exports, nil
}

// Open returns the stored body of one export. The caller closes it.
func (s *Service) Open(ctx context.Context, queryKey, name string) (io.ReadCloser, Export, error) {
	objectKey, err := storage.BuildExportPath(s.prefix, queryKey, name)
	if err != nil {
		return nil, Export{}, ErrNotFound
	}
	info, err := s.store.Stat(ctx, objectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, Export{}, ErrNotFound
		}
		return nil, Export{}, fmt.Errorf("stat export: %w", err)
	}
	body, err := s.store.Get(ctx, objectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, Export{}, ErrNotFound
		}
		return nil, Export{}, fmt.Errorf("get export: %w", err)
	}
	return body, fromObject(queryKey, info), nil
}

// Delete removes one export. Deleting a missing export is not an error.
func (s *Service) Delete(ctx context.Context, queryKey, name string) error {
	objectKey, err := storage.BuildExportPath(s.prefix, queryKey, name)
	if err != nil {
		return ErrNotFound
	}
	if err := s.store.Delete(ctx, objectKey); err != nil {
		return fmt.Errorf("delete export: %w", err)
	}
	return nil
}

func fromObject(queryKey string, info storage.ObjectInfo) Export {
	name := path.Base(info.Key)
	return Export{
		QueryKey:     queryKey,
		Name:         name,
		ObjectKey:    info.Key,
		Format:       storage.ExportFormat(name),
		MediaType:    info.ContentType,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}
}
