package service

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3FileService is an alternate local_file_service backend: instead of a
// local docroot, requests are served as S3 GetObject calls against
// Bucket, with Prefix joined onto tx.Path the way Docroot is joined
// locally.
type S3FileService struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewS3FileService builds an S3FileService over an already-configured
// client.
func NewS3FileService(client *s3.Client, bucket, prefix string) *S3FileService {
	return &S3FileService{Client: client, Bucket: bucket, Prefix: prefix}
}

func (s *S3FileService) key(reqPath string) string {
	return strings.TrimPrefix(s.Prefix+strings.TrimPrefix(reqPath, "/"), "/")
}

func (s *S3FileService) Serve(tx *Transaction) error {
	key := s.key(tx.Path)

	out, err := s.Client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return tx.Respond(404, "text/plain", []byte("Not Found"))
		}
		return tx.Respond(502, "text/plain", []byte("Bad Gateway"))
	}
	defer out.Body.Close()

	contentType := "application/octet-stream"
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	tx.Writer.Header().Set("Content-Type", contentType)
	if out.ContentLength != nil {
		tx.Writer.Header().Set("Content-Length", itoa(int(*out.ContentLength)))
	}
	if err := tx.Writer.WriteHeader(200); err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := out.Body.Read(buf)
		if n > 0 {
			written, werr := tx.Writer.Write(buf[:n])
			tx.bytesWritten += int64(written)
			if werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

var _ Service = (*S3FileService)(nil)
