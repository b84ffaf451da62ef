package storage

import (
	"context"
	"io"
	"time"
)

// Object describes an object written to remote storage.
type Object struct {
	Key         string
	ContentType string
	Size        int64
}

// Service stores user avatars in remote object storage.
type Service interface {
	Upload(ctx context.Context, obj Object, body io.Reader) error
	Delete(ctx context.Context, key string) error
	GetObjectURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
