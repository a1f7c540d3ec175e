package lora

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ilkoid/condsched/pkg/config"
)

// S3Source читает LoRA из S3-совместимого хранилища.
type S3Source struct {
	api    *minio.Client
	bucket string
	prefix string
}

var _ Source = (*S3Source)(nil)

// NewS3Source создает источник, используя наш конфиг.
func NewS3Source(cfg config.S3Config) (*S3Source, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Source{
		api:    minioClient,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Source) List(ctx context.Context) ([]string, error) {
	var names []string

	opts := minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}

	for obj := range s.api.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if !strings.HasSuffix(obj.Key, safetensorsExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(path.Base(obj.Key), safetensorsExt))
	}

	return names, nil
}

func (s *S3Source) Fetch(ctx context.Context, name string) (*Weights, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	key := s.prefix + name + safetensorsExt
	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get lora object %s: %w", key, err)
	}
	defer obj.Close()

	// Читаем в буфер
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, fmt.Errorf("download lora %s: %w", key, err)
	}

	return ParseSafetensors(name, buf.Bytes())
}
