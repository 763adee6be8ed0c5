package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configure the object store backend.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objects is the narrow object API the S3 store relies on.
type objects interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts minio.PutObjectOptions) error
}

// S3Store keeps bundles and entries in an S3-compatible bucket. Content ids
// are object keys.
type S3Store struct {
	objects objects
	bucket  string
	logger  *slog.Logger
}

// NewS3Store connects to the object store and makes sure the bucket exists.
func NewS3Store(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return newS3Store(ctx, minioObjects{client: client}, opts.Bucket, logger)
}

func newS3Store(ctx context.Context, objs objects, bucket string, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := objs.EnsureBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("failed to prepare bucket %s: %w", bucket, err)
	}
	return &S3Store{
		objects: objs,
		bucket:  bucket,
		logger:  logger.With(slog.String("component", "content_s3")),
	}, nil
}

var _ Store = (*S3Store)(nil)

// Download implements Store.Download.
func (s *S3Store) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	body, err := s.objects.Get(ctx, s.bucket, id)
	if err != nil {
		return 0, fmt.Errorf("failed to get object %s: %w", id, err)
	}
	defer func() { _ = body.Close() }()

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("failed to read object %s: %w", id, err)
	}
	return n, nil
}

// Upload implements Store.Upload. Entries are keyed by tenant, parent and
// entry path, so a bundle's files stay together and re-uploading an entry
// overwrites it in place.
func (s *S3Store) Upload(ctx context.Context, obj Object, meta UploadMetadata) (string, error) {
	entry := obj.Key
	if entry == "" {
		entry = obj.Name
	}
	key := path.Join(meta.TenantID, meta.ExternalID, path.Clean("/"+entry)[1:])

	size := obj.Size
	if size <= 0 {
		size = -1
	}
	opts := minio.PutObjectOptions{
		ContentType: obj.ContentType,
		UserMetadata: map[string]string{
			"tenant-id":    meta.TenantID,
			"task-created": strconv.FormatBool(meta.TaskCreated),
			"external-id":  meta.ExternalID,
			"media-name":   meta.MediaName,
			"parent-id":    meta.ParentID,
			"owner":        meta.Owner,
			"created-by":   meta.CreatedBy,
		},
	}
	if err := s.objects.Put(ctx, s.bucket, key, obj.Body, size, opts); err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	s.logger.Debug("uploaded object", slog.String("key", key), slog.Int64("size", obj.Size))
	return key, nil
}

type minioObjects struct {
	client *minio.Client
}

func (m minioObjects) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

func (m minioObjects) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key before streaming starts.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

func (m minioObjects) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts minio.PutObjectOptions) error {
	_, err := m.client.PutObject(ctx, bucket, key, body, size, opts)
	return err
}
