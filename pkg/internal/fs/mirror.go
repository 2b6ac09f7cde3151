package fs

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/afero"
)

// Mirror copies finished pack files to the permanent destination.
type Mirror interface {
	Enabled() bool
	// BaseURL is where clients read pack files from, empty when unset.
	BaseURL() string
	Publish(ctx context.Context, packId string, files []string) error
	Remove(ctx context.Context, packId string) error
}

// NewMirror builds the mirror for a `destinations.permanent` settings map.
// A missing or local destination needs no copy because the workspace already is local storage.
func NewMirror(fs afero.Fs, destMap map[string]any) (Mirror, error) {
	if len(destMap) == 0 {
		return localMirror{}, nil
	}

	var dest models.BaseDestination
	rawDest, _ := jsoniter.Marshal(destMap)
	_ = jsoniter.Unmarshal(rawDest, &dest)

	switch dest.Type {
	case "", models.DestinationTypeLocal:
		var destConfigured models.LocalDestination
		_ = jsoniter.Unmarshal(rawDest, &destConfigured)
		return localMirror{config: destConfigured}, nil
	case models.DestinationTypeS3:
		var destConfigured models.S3Destination
		_ = jsoniter.Unmarshal(rawDest, &destConfigured)
		return NewS3Mirror(fs, destConfigured)
	default:
		return nil, fmt.Errorf("invalid destination: unsupported protocol %s", dest.Type)
	}
}

type localMirror struct {
	config models.LocalDestination
}

func (v localMirror) BaseURL() string                               { return v.config.AccessBaseURL }
func (localMirror) Enabled() bool                                   { return false }
func (localMirror) Publish(context.Context, string, []string) error { return nil }
func (localMirror) Remove(context.Context, string) error            { return nil }

type S3Mirror struct {
	fs     afero.Fs
	config models.S3Destination
	client *minio.Client
}

func NewS3Mirror(fs afero.Fs, config models.S3Destination) (*S3Mirror, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.SecretID, config.SecretKey, ""),
		Secure: config.EnableSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to configure s3 client: %v", err)
	}

	return &S3Mirror{fs: fs, config: config, client: client}, nil
}

func (v *S3Mirror) Enabled() bool {
	return true
}

func (v *S3Mirror) BaseURL() string {
	return v.config.AccessBaseURL
}

func (v *S3Mirror) objectName(packId, file string) string {
	return path.Join(v.config.Path, packId, filepath.Base(file))
}

func (v *S3Mirror) Publish(ctx context.Context, packId string, files []string) error {
	for _, file := range files {
		if err := v.put(ctx, packId, file); err != nil {
			return err
		}
	}
	return nil
}

func (v *S3Mirror) put(ctx context.Context, packId, file string) error {
	in, err := v.fs.Open(file)
	if err != nil {
		return fmt.Errorf("unable to open %s: %v", file, err)
	}
	defer in.Close()

	stat, err := in.Stat()
	if err != nil {
		return fmt.Errorf("unable to stat %s: %v", file, err)
	}

	_, err = v.client.PutObject(ctx, v.config.Bucket, v.objectName(packId, file), in, stat.Size(), minio.PutObjectOptions{
		ContentType:          mime.TypeByExtension(filepath.Ext(file)),
		SendContentMd5:       false,
		DisableContentSha256: true,
	})
	if err != nil {
		return fmt.Errorf("unable to upload file to s3: %v", err)
	}
	return nil
}

func (v *S3Mirror) Remove(ctx context.Context, packId string) error {
	prefix := path.Join(v.config.Path, packId) + "/"
	for object := range v.client.ListObjects(ctx, v.config.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return fmt.Errorf("unable to list s3 objects: %v", object.Err)
		}
		if err := v.client.RemoveObject(ctx, v.config.Bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("unable to remove s3 object %s: %v", object.Key, err)
		}
	}
	return nil
}
