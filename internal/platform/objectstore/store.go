// Package objectstore keeps evidence artifacts in write-once object storage.
//
// The package exposes no delete operation. The evidence bucket is also
// protected by object lock retention and a deny policy.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrObjectExists   = errors.New("object already exists")
	ErrObjectNotFound = errors.New("object not found")
)

type ObjectInfo struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// EvidenceStore is write-once storage. Put refuses to overwrite a key.
type EvidenceStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	URI(key string) string
}

// EvidenceKey is the content addressed location of an artifact.
func EvidenceKey(runID, sha256Hex string) string {
	return fmt.Sprintf("evidence/%s/%s.json", runID, sha256Hex)
}

func uri(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
