package bronzestore

import (
	"context"
	"io"
)

// --- Fault-injecting wrappers around MemoryClient ---
//
// Each wrapper delegates to the in-memory store and lets a test break one
// specific operation.

type faultClient struct {
	inner *MemoryClient

	// attrsErr is returned by Attrs for keys in attrsErrKeys (or all keys when
	// the map is nil and attrsErr is set).
	attrsErr     error
	attrsErrKeys map[string]bool

	// listErr is returned by the iterator after listErrAfter successful items.
	listErr      error
	listErrAfter int

	// closeErr is returned when an object writer is closed.
	closeErr error
}

func (f *faultClient) Bucket(name string) BucketHandle {
	return &faultBucket{faults: f, inner: f.inner.Bucket(name)}
}

type faultBucket struct {
	faults *faultClient
	inner  BucketHandle
}

func (b *faultBucket) Object(name string) ObjectHandle {
	return &faultObject{faults: b.faults, key: name, inner: b.inner.Object(name)}
}

func (b *faultBucket) Objects(ctx context.Context, prefix string) ObjectIterator {
	it := b.inner.Objects(ctx, prefix)
	if b.faults.listErr != nil {
		return &faultIterator{faults: b.faults, inner: it}
	}
	return it
}

type faultIterator struct {
	faults *faultClient
	inner  ObjectIterator
	served int
}

func (it *faultIterator) Next() (*ObjectAttrs, error) {
	if it.served >= it.faults.listErrAfter {
		return nil, it.faults.listErr
	}
	it.served++
	return it.inner.Next()
}

type faultObject struct {
	faults *faultClient
	key    string
	inner  ObjectHandle
}

func (o *faultObject) NewWriter(ctx context.Context) ObjectWriter {
	return &faultWriter{faults: o.faults, inner: o.inner.NewWriter(ctx)}
}

func (o *faultObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.inner.NewReader(ctx)
}

func (o *faultObject) Attrs(ctx context.Context) (*ObjectAttrs, error) {
	if o.faults.attrsErr != nil {
		if o.faults.attrsErrKeys == nil || o.faults.attrsErrKeys[o.key] {
			return nil, o.faults.attrsErr
		}
	}
	return o.inner.Attrs(ctx)
}

type faultWriter struct {
	faults *faultClient
	inner  ObjectWriter
}

func (w *faultWriter) SetContentType(ct string) { w.inner.SetContentType(ct) }

func (w *faultWriter) Write(p []byte) (int, error) { return w.inner.Write(p) }

func (w *faultWriter) Close() error {
	if w.faults.closeErr != nil {
		return w.faults.closeErr
	}
	return w.inner.Close()
}
