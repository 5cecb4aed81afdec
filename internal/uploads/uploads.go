// Пакет uploads - проверка существования загруженных результатов
// (upload_ref) в объектном хранилище S3.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/config"
)

// headObjectAPI - часть клиента S3, используемая проверкой.
type headObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Checker проверяет, что upload_ref указывает на существующий объект.
//
// Допустимые формы ссылки: "s3://bucket/key" и "key" (бакет по умолчанию).
type S3Checker struct {
	client  headObjectAPI
	bucket  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewS3Checker создаёт клиент S3 по конфигурации.
func NewS3Checker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*S3Checker, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.UploadsRegion),
		awsconfig.WithHTTPClient(&http.Client{Timeout: cfg.UploadsCheckTimeout}),
	}
	if cfg.UploadsAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.UploadsAccessKey, cfg.UploadsSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UploadsPathStyle
		if cfg.UploadsEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.UploadsEndpoint)
		}
	})

	return newS3Checker(client, cfg.UploadsBucket, cfg.UploadsCheckTimeout, logger), nil
}

func newS3Checker(client headObjectAPI, bucket string, timeout time.Duration, logger *slog.Logger) *S3Checker {
	return &S3Checker{
		client:  client,
		bucket:  bucket,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "uploads")),
	}
}

// Exists возвращает false, если объект отсутствует. Ошибка означает,
// что хранилище недоступно.
func (c *S3Checker) Exists(ctx context.Context, ref string) (bool, error) {
	bucket, key, err := c.parseRef(ref)
	if err != nil {
		return false, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	_, err = c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			c.logger.Info("Загрузка не найдена",
				slog.String("bucket", bucket),
				slog.String("key", key),
			)
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки объекта %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// parseRef разбирает upload_ref на бакет и ключ.
func (c *S3Checker) parseRef(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", "", fmt.Errorf("некорректная ссылка на загрузку: %q", ref)
		}
		return bucket, key, nil
	}
	if ref == "" {
		return "", "", fmt.Errorf("пустая ссылка на загрузку")
	}
	return c.bucket, strings.TrimPrefix(ref, "/"), nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// Noop считает любую непустую ссылку существующей.
// Используется, когда бакет не настроен.
type Noop struct{}

// Exists всегда возвращает true.
func (Noop) Exists(context.Context, string) (bool, error) { return true, nil }
