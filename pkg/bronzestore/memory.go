package bronzestore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
)

// ====================================================================================
// An in-memory Client implementation. Used by unit tests across the module and
// by the CLI's dry-run mode, which rehearses a full sync without touching the
// real destination bucket.
// ====================================================================================

// MemoryClient is a thread-safe, in-memory Client. Objects are keyed by
// "bucket/key" in a single map so locking stays in one place.
type MemoryClient struct {
	mu      sync.Mutex
	objects map[string]*memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	updated     time.Time
}

var _ Client = (*MemoryClient)(nil)

// NewMemoryClient returns an empty in-memory store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: make(map[string]*memoryObject)}
}

func (c *MemoryClient) Bucket(name string) BucketHandle {
	return &memoryBucket{client: c, name: name}
}

// Seed places an object directly into the store, bypassing the writer path.
func (c *MemoryClient) Seed(bucket, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[bucket+"/"+key] = &memoryObject{data: append([]byte(nil), data...), updated: time.Now()}
}

// Keys returns all object keys in a bucket, sorted.
func (c *MemoryClient) Keys(bucket string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	prefix := bucket + "/"
	for full := range c.objects {
		if strings.HasPrefix(full, prefix) {
			keys = append(keys, strings.TrimPrefix(full, prefix))
		}
	}
	sort.Strings(keys)
	return keys
}

// Get returns an object's bytes and whether it exists.
func (c *MemoryClient) Get(bucket, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[bucket+"/"+key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

type memoryBucket struct {
	client *MemoryClient
	name   string
}

func (b *memoryBucket) Object(name string) ObjectHandle {
	return &memoryObjectHandle{client: b.client, bucket: b.name, key: name}
}

func (b *memoryBucket) Objects(_ context.Context, prefix string) ObjectIterator {
	b.client.mu.Lock()
	defer b.client.mu.Unlock()

	var attrs []*ObjectAttrs
	full := b.name + "/"
	for name, obj := range b.client.objects {
		if !strings.HasPrefix(name, full) {
			continue
		}
		key := strings.TrimPrefix(name, full)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		attrs = append(attrs, &ObjectAttrs{
			Name:        key,
			Size:        int64(len(obj.data)),
			ContentType: obj.contentType,
			Updated:     obj.updated,
		})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return &memoryIterator{attrs: attrs}
}

type memoryIterator struct {
	attrs []*ObjectAttrs
	pos   int
}

func (it *memoryIterator) Next() (*ObjectAttrs, error) {
	if it.pos >= len(it.attrs) {
		return nil, iterator.Done
	}
	a := it.attrs[it.pos]
	it.pos++
	return a, nil
}

type memoryObjectHandle struct {
	client *MemoryClient
	bucket string
	key    string
}

func (h *memoryObjectHandle) NewWriter(_ context.Context) ObjectWriter {
	return &memoryWriter{handle: h}
}

func (h *memoryObjectHandle) NewReader(_ context.Context) (io.ReadCloser, error) {
	data, ok := h.client.Get(h.bucket, h.key)
	if !ok {
		return nil, ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (h *memoryObjectHandle) Attrs(_ context.Context) (*ObjectAttrs, error) {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	obj, ok := h.client.objects[h.bucket+"/"+h.key]
	if !ok {
		return nil, ErrObjectNotExist
	}
	return &ObjectAttrs{
		Name:        h.key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		Updated:     obj.updated,
	}, nil
}

type memoryWriter struct {
	handle      *memoryObjectHandle
	buf         bytes.Buffer
	contentType string
	closed      bool
}

func (w *memoryWriter) SetContentType(contentType string) {
	w.contentType = contentType
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

// Close commits the buffered bytes; nothing is visible until Close succeeds,
// matching the concrete client's all-or-nothing object writes.
func (w *memoryWriter) Close() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	w.closed = true
	c := w.handle.client
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[w.handle.bucket+"/"+w.handle.key] = &memoryObject{
		data:        w.buf.Bytes(),
		contentType: w.contentType,
		updated:     time.Now(),
	}
	return nil
}
