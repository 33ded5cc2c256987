package catalog

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"codeduel/internal/common/storage"
	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultObjectPrefix = "tasks/"
	defaultCacheTTL     = 10 * time.Minute
	defaultMaxEntries   = 256
)

// ObjectConfig locates task bundles in object storage.
type ObjectConfig struct {
	Bucket     string        `yaml:"bucket"`
	Prefix     string        `yaml:"prefix"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
	MaxEntries int           `yaml:"maxEntries"`
}

type cacheEntry struct {
	task      *model.Task
	etag      string
	expiresAt time.Time
	usedAt    time.Time
}

// Object serves tasks stored as bundles under <prefix><id>.tar.zst, keeping
// decoded tasks in memory. An expired entry is revalidated by ETag before
// the bundle is downloaded again.
type Object struct {
	cfg   ObjectConfig
	store storage.ObjectStorage
	now   func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewObject creates an object-storage catalog.
func NewObject(cfg ObjectConfig, store storage.ObjectStorage) (*Object, error) {
	if store == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("object storage is required")
	}
	if cfg.Bucket == "" {
		return nil, appErr.ValidationError("bucket", "required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultObjectPrefix
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	return &Object{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
	}, nil
}

func (o *Object) key(taskID string) string {
	return o.cfg.Prefix + taskID + BundleSuffix
}

func (o *Object) Get(ctx context.Context, taskID string) (*model.Task, error) {
	if taskID == "" || strings.Contains(taskID, "/") {
		return nil, appErr.ValidationError("task_id", "invalid")
	}
	if task := o.hit(taskID); task != nil {
		return task, nil
	}
	v, err, _ := o.group.Do(taskID, func() (interface{}, error) {
		return o.load(ctx, taskID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Task), nil
}

func (o *Object) hit(taskID string) *model.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[taskID]
	if !ok {
		return nil
	}
	now := o.now()
	if now.After(entry.expiresAt) {
		return nil
	}
	entry.usedAt = now
	return entry.task
}

func (o *Object) load(ctx context.Context, taskID string) (*model.Task, error) {
	key := o.key(taskID)
	stat, err := o.store.StatObject(ctx, o.cfg.Bucket, key)
	if err != nil {
		return nil, o.storageErr(taskID, err)
	}

	o.mu.Lock()
	if entry, ok := o.entries[taskID]; ok && stat.ETag != "" && entry.etag == stat.ETag {
		now := o.now()
		entry.expiresAt = now.Add(o.cfg.CacheTTL)
		entry.usedAt = now
		o.mu.Unlock()
		return entry.task, nil
	}
	o.mu.Unlock()

	reader, err := o.store.GetObject(ctx, o.cfg.Bucket, key)
	if err != nil {
		return nil, o.storageErr(taskID, err)
	}
	defer reader.Close()
	task, err := DecodeBundle(reader)
	if err != nil {
		logger.Error(ctx, "decode task bundle failed", zap.String("task_id", taskID), zap.String("object_key", key), zap.Error(err))
		return nil, err
	}
	if task.ID != taskID {
		return nil, appErr.New(appErr.TaskBundleBroken).WithMessagef("bundle %s holds task %s", key, task.ID)
	}

	o.mu.Lock()
	now := o.now()
	o.entries[taskID] = &cacheEntry{task: task, etag: stat.ETag, expiresAt: now.Add(o.cfg.CacheTTL), usedAt: now}
	o.evictLocked()
	o.mu.Unlock()
	logger.Info(ctx, "task bundle loaded", zap.String("task_id", taskID), zap.Int("test_cases", len(task.TestCases)))
	return task, nil
}

// evictLocked drops least recently used entries above MaxEntries.
func (o *Object) evictLocked() {
	for len(o.entries) > o.cfg.MaxEntries {
		var oldestID string
		var oldest time.Time
		for id, e := range o.entries {
			if oldestID == "" || e.usedAt.Before(oldest) {
				oldestID, oldest = id, e.usedAt
			}
		}
		delete(o.entries, oldestID)
	}
}

func (o *Object) storageErr(taskID string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return appErr.New(appErr.TaskNotFound).WithDetail("task_id", taskID)
	}
	return appErr.Wrapf(err, appErr.ObjectStorageError, "load task %s failed", taskID)
}

func (o *Object) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	for obj := range o.store.ListObjects(ctx, o.cfg.Bucket, o.cfg.Prefix) {
		if obj.Err != nil {
			return nil, appErr.Wrapf(obj.Err, appErr.ObjectStorageError, "list task bundles failed")
		}
		name := strings.TrimPrefix(obj.Key, o.cfg.Prefix)
		if !strings.HasSuffix(name, BundleSuffix) || strings.Contains(name, "/") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, BundleSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Publish uploads task as a bundle and drops any cached copy.
func (o *Object) Publish(ctx context.Context, task *model.Task) error {
	if err := task.Normalize(); err != nil {
		return err
	}
	data, err := EncodeBundle(task)
	if err != nil {
		return err
	}
	key := o.key(task.ID)
	if err := o.store.PutObject(ctx, o.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), BundleContentType); err != nil {
		return appErr.Wrapf(err, appErr.ObjectStorageError, "upload task %s failed", task.ID)
	}
	o.mu.Lock()
	delete(o.entries, task.ID)
	o.mu.Unlock()
	logger.Info(ctx, "task bundle published", zap.String("task_id", task.ID), zap.String("object_key", key), zap.Int("bytes", len(data)))
	return nil
}
