// Package distribute copies a published file set to remote storage so hosts
// that do not run a pass can fetch it.
package distribute

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/hnrobert/nssync/internal/hostfs"
)

// Object is one file to upload.
type Object struct {
	Name string
	Data []byte
}

type Publisher interface {
	Publish(ctx context.Context, objects []Object) error
	Close() error
}

// Objects lists the files of a pass in upload order. The manifest goes last
// so a reader that sees it can trust the files it names are in place.
func Objects(passwd, group, shadow, manifest, token []byte) []Object {
	out := []Object{
		{Name: hostfs.PasswdName, Data: passwd},
		{Name: hostfs.GroupName, Data: group},
		{Name: hostfs.ShadowName, Data: shadow},
	}
	if len(token) > 0 {
		out = append(out, Object{Name: hostfs.TokenName, Data: token})
	}
	return append(out, Object{Name: hostfs.ManifestName, Data: manifest})
}

// GCS uploads objects to a Google Cloud Storage bucket under a prefix.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Publisher = (*GCS)(nil)

// NewGCS creates a publisher. keyFile may be empty to use application
// default credentials; opts are appended to the client options.
func NewGCS(ctx context.Context, bucket, prefix, keyFile string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if keyFile != "" {
		clientOpts = append(clientOpts, option.WithAuthCredentialsFile(option.ServiceAccount, keyFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (g *GCS) key(name string) string {
	if g.prefix == "" {
		return name
	}
	return path.Join(g.prefix, name)
}

func (g *GCS) Publish(ctx context.Context, objects []Object) error {
	bkt := g.client.Bucket(g.bucket)
	for _, o := range objects {
		key := g.key(o.Name)
		w := bkt.Object(key).NewWriter(ctx)
		w.ContentType = "text/plain; charset=utf-8"
		if o.Name == hostfs.ManifestName {
			w.ContentType = "application/json"
		}
		w.CacheControl = "no-cache"
		if _, err := w.Write(o.Data); err != nil {
			_ = w.Close()
			return fmt.Errorf("upload gs://%s/%s: %w", g.bucket, key, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("upload gs://%s/%s: %w", g.bucket, key, err)
		}
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
