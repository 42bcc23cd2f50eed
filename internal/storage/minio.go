package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/iaction/internal/config"
)

const snapshotPrefix = "snapshots/"

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore archives analysed frames in a MinIO bucket.
type SnapshotStore struct {
	client *minio.Client
	bucket string
}

func NewSnapshotStore(cfg config.MinIOConfig) (*SnapshotStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &SnapshotStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *SnapshotStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// SnapshotKey is snapshots/<camera_id>/<unix_ms>.jpg.
func SnapshotKey(cameraID string, ts time.Time) string {
	return fmt.Sprintf("%s%s/%d.jpg", snapshotPrefix, cameraID, ts.UnixMilli())
}

// SaveSnapshot uploads a JPEG frame and returns its object key.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, cameraID string, ts time.Time, jpeg []byte) (string, error) {
	key := SnapshotKey(cameraID, ts)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(jpeg), int64(len(jpeg)), minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return key, nil
}

// GetSnapshot downloads an archived frame. Keys outside the snapshot
// prefix are reported as not found.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, key string) ([]byte, error) {
	if !ValidSnapshotKey(key) {
		return nil, ErrSnapshotNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return data, nil
}

// ValidSnapshotKey reports whether key has the snapshots/<camera_id>/<name>.jpg shape.
func ValidSnapshotKey(key string) bool {
	rest, ok := strings.CutPrefix(key, snapshotPrefix)
	if !ok || strings.Contains(rest, "..") {
		return false
	}
	cam, name, ok := strings.Cut(rest, "/")
	return ok && cam != "" && name != "" && !strings.Contains(name, "/") && strings.HasSuffix(name, ".jpg")
}

func (s *SnapshotStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *SnapshotStore) deleteKeys(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// Prune keeps the newest keep snapshots of every camera and deletes the rest.
// It returns the number of deleted objects.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	keys, err := s.listKeys(ctx, snapshotPrefix)
	if err != nil {
		return 0, err
	}
	stale := expiredSnapshots(keys, keep)
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.deleteKeys(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// RunRetention prunes on every tick until ctx ends.
func (s *SnapshotStore) RunRetention(ctx context.Context, keep int, every time.Duration) {
	if keep <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx, keep)
			if err != nil {
				slog.Warn("snapshot retention failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned snapshots", "deleted", n, "keep", keep)
			}
		}
	}
}

// Ping checks MinIO connectivity.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// expiredSnapshots groups keys by camera and returns all but the newest keep
// of each group. Keys are ordered by their millisecond timestamp.
func expiredSnapshots(keys []string, keep int) []string {
	byCamera := make(map[string][]string)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, snapshotPrefix)
		cam := path.Dir(rest)
		if cam == "." {
			continue
		}
		byCamera[cam] = append(byCamera[cam], key)
	}

	var stale []string
	for _, group := range byCamera {
		if len(group) <= keep {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return snapshotMillis(group[i]) < snapshotMillis(group[j])
		})
		stale = append(stale, group[:len(group)-keep]...)
	}
	sort.Strings(stale)
	return stale
}

func snapshotMillis(key string) int64 {
	var ms int64
	_, _ = fmt.Sscanf(strings.TrimSuffix(path.Base(key), ".jpg"), "%d", &ms)
	return ms
}
