package spool

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/orbit/pkg/compression"
	"github.com/ajitpratap0/orbit/pkg/errors"
)

func TestDir_Store(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	location, err := d.Store(context.Background(), "Account/insert/abc/batch-00001.csv", []byte("Name\nr1\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Account", "insert", "abc", "batch-00001.csv"), location)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "Name\nr1\n", string(data))

	_, err = os.Stat(location + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDir_KeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root, nil)
	require.NoError(t, err)

	location, err := d.Store(context.Background(), "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), location)

	_, err = d.Store(context.Background(), "", []byte("x"))
	assert.True(t, errors.IsValidation(err))
}

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, input)
	f.bodies = append(f.bodies, string(body))
	return &manager.UploadOutput{Key: input.Key}, nil
}

func TestS3_Store(t *testing.T) {
	up := &fakeUploader{}
	s := NewS3WithUploader(up, "failed-batches", "orbit/spool", zaptest.NewLogger(t))

	location, err := s.Store(context.Background(), "Contact/upsert/abc/batch-00000.csv", []byte("Email\na@example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://failed-batches/orbit/spool/Contact/upsert/abc/batch-00000.csv", location)

	require.Len(t, up.inputs, 1)
	assert.Equal(t, "failed-batches", aws.ToString(up.inputs[0].Bucket))
	assert.Equal(t, "orbit/spool/Contact/upsert/abc/batch-00000.csv", aws.ToString(up.inputs[0].Key))
	assert.Equal(t, "text/csv", aws.ToString(up.inputs[0].ContentType))
	assert.Equal(t, "21", up.inputs[0].Metadata["bytes"])
	assert.Equal(t, "Email\na@example.com\n", up.bodies[0])
}

func TestS3_StoreFailure(t *testing.T) {
	s := NewS3WithUploader(&fakeUploader{err: io.ErrUnexpectedEOF}, "b", "", nil)
	_, err := s.Store(context.Background(), "k.csv", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"dir", Config{Type: KindDir, Dir: "/tmp/spool"}, false},
		{"dir without path", Config{Type: KindDir}, true},
		{"s3", Config{Type: KindS3, Bucket: "b"}, false},
		{"s3 without bucket", Config{Type: KindS3}, true},
		{"unknown", Config{Type: "ftp"}, true},
		{"zstd", Config{Type: KindDir, Dir: "/tmp/spool", Compression: compression.Zstd}, false},
		{"unknown compression", Config{Type: KindDir, Dir: "/tmp/spool", Compression: "rar"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	s, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(context.Background(), Config{Type: KindDir, Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Dir{}, s)
}

func TestNew_Compressed(t *testing.T) {
	root := t.TempDir()
	s, err := New(context.Background(), Config{Type: KindDir, Dir: root, Compression: compression.Zstd}, zaptest.NewLogger(t))
	require.NoError(t, err)

	payload := []byte("Name\nr1\nr2\n")
	location, err := s.Store(context.Background(), "Account/insert/abc/batch-00002.csv", payload)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Account", "insert", "abc", "batch-00002.csv.zst"), location)

	packed, err := os.ReadFile(location)
	require.NoError(t, err)
	codec, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Zstd})
	require.NoError(t, err)
	unpacked, err := codec.Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, payload, unpacked)
}

func TestCompressed_S3(t *testing.T) {
	up := &fakeUploader{}
	codec, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Gzip})
	require.NoError(t, err)
	s := Compressed(NewS3WithUploader(up, "b", "p", nil), codec)

	location, err := s.Store(context.Background(), "k.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://b/p/k.csv.gz", location)
	require.Len(t, up.bodies, 1)
	assert.Equal(t, "\x1f\x8b", up.bodies[0][:2])
}
