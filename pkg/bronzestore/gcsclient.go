package bronzestore

import (
	"context"
	"errors"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ====================================================================================
// This file defines a set of interfaces to abstract the Google Cloud Storage
// client, plus adapters wrapping the concrete client. The abstraction lets the
// Writer and Checkpoint be tested without a real GCS backend.
// ====================================================================================

// ErrObjectNotExist is the store-agnostic equivalent of
// storage.ErrObjectNotExist; adapters translate so callers never depend on the
// concrete client's sentinel.
var ErrObjectNotExist = errors.New("object does not exist")

// ObjectAttrs is the subset of object metadata the pipeline reads.
type ObjectAttrs struct {
	Name        string
	Size        int64
	ContentType string
	Updated     time.Time
}

// Client abstracts the top-level storage client.
type Client interface {
	Bucket(name string) BucketHandle
}

// BucketHandle abstracts a bucket.
type BucketHandle interface {
	Object(name string) ObjectHandle
	// Objects iterates object metadata under prefix. The iterator ends with
	// iterator.Done, matching the concrete client's convention.
	Objects(ctx context.Context, prefix string) ObjectIterator
}

// ObjectHandle abstracts a single object.
type ObjectHandle interface {
	NewWriter(ctx context.Context) ObjectWriter
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Attrs(ctx context.Context) (*ObjectAttrs, error)
}

// ObjectWriter is an object write stream. SetContentType must be called before
// the first Write.
type ObjectWriter interface {
	io.WriteCloser
	SetContentType(contentType string)
}

// ObjectIterator walks a listing; Next returns iterator.Done at the end.
type ObjectIterator interface {
	Next() (*ObjectAttrs, error)
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes the concrete *storage.Client conform to the Client
// interface.
func NewGCSClientAdapter(client *storage.Client) Client {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

// NewGoogleClient creates a production storage client wrapped in the Client
// interface.
func NewGoogleClient(ctx context.Context, opts ...option.ClientOption) (Client, error) {
	realClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewGCSClientAdapter(realClient), nil
}

func (a *gcsClientAdapter) Bucket(name string) BucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) ObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

func (a *gcsBucketHandleAdapter) Objects(ctx context.Context, prefix string) ObjectIterator {
	return &gcsObjectIteratorAdapter{it: a.handle.Objects(ctx, &storage.Query{Prefix: prefix})}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) ObjectWriter {
	return &gcsWriterAdapter{writer: a.handle.NewWriter(ctx)}
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := a.handle.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotExist
		}
		return nil, err
	}
	return r, nil
}

func (a *gcsObjectHandleAdapter) Attrs(ctx context.Context) (*ObjectAttrs, error) {
	attrs, err := a.handle.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotExist
		}
		return nil, err
	}
	return fromGCSObjectAttrs(attrs), nil
}

type gcsWriterAdapter struct {
	writer *storage.Writer
}

func (w *gcsWriterAdapter) SetContentType(contentType string) {
	w.writer.ObjectAttrs.ContentType = contentType
}

func (w *gcsWriterAdapter) Write(p []byte) (int, error) {
	return w.writer.Write(p)
}

func (w *gcsWriterAdapter) Close() error {
	return w.writer.Close()
}

type gcsObjectIteratorAdapter struct {
	it *storage.ObjectIterator
}

func (a *gcsObjectIteratorAdapter) Next() (*ObjectAttrs, error) {
	attrs, err := a.it.Next()
	if err != nil {
		// iterator.Done passes through untouched.
		return nil, err
	}
	return fromGCSObjectAttrs(attrs), nil
}

func fromGCSObjectAttrs(attrs *storage.ObjectAttrs) *ObjectAttrs {
	if attrs == nil {
		return nil
	}
	return &ObjectAttrs{
		Name:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}
}
