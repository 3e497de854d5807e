package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUploader struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = input
	f.body, _ = io.ReadAll(input.Body)
	return &manager.UploadOutput{}, f.err
}

func TestS3Archiver_Archive(t *testing.T) {
	up := &fakeUploader{}
	a := &S3Archiver{uploader: up, bucket: "medos-exports", region: "eu-west-1", log: zap.NewNop()}

	url, err := a.Archive(context.Background(), "exports/MedOS_Export_1.json", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "https://medos-exports.s3.eu-west-1.amazonaws.com/exports/MedOS_Export_1.json", url)
	assert.Equal(t, "medos-exports", aws.ToString(up.input.Bucket))
	assert.Equal(t, "application/json", aws.ToString(up.input.ContentType))
	assert.JSONEq(t, `{"ok":true}`, string(up.body))
}

func TestS3Archiver_UploadError(t *testing.T) {
	a := &S3Archiver{uploader: &fakeUploader{err: errors.New("denied")}, bucket: "b", region: "r", log: zap.NewNop()}
	_, err := a.Archive(context.Background(), "k", nil, "application/json")
	assert.Error(t, err)
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), Options{Region: "us-east-1"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewS3Archiver(context.Background(), Options{Bucket: "b"}, nil)
	assert.Error(t, err)
}
