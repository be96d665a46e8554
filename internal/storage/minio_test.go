package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
)

type fakeStore struct {
	exists    bool
	made      []string
	puts      map[string]string
	failOnKey string
}

func (f *fakeStore) BucketExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeStore) FPutObject(_ context.Context, _, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if object == f.failOnKey {
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	if f.puts == nil {
		f.puts = map[string]string{}
	}
	f.puts[object] = opts.ContentType
	info, err := os.Stat(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	return minio.UploadInfo{Key: object, Size: info.Size()}, nil
}

func writeRunFolder(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "script_seq1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "script_seq1", "script_seq1.txt"), []byte("hello narration"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "script_seq1", "script_seq1.json"), []byte(`{"script_seq":1}`), 0644))
	return dir
}

func TestUploadFolder_KeysAndBucket(t *testing.T) {
	store := &fakeStore{}
	u := NewUploader(store, "lesson-runs", nil)

	res, err := u.UploadFolder(context.Background(), "run-1", writeRunFolder(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"lesson-runs"}, store.made)
	keys := append([]string(nil), res.Objects...)
	sort.Strings(keys)
	assert.Equal(t, []string{"run-1/script_seq1/script_seq1.json", "run-1/script_seq1/script_seq1.txt"}, keys)
	assert.Contains(t, store.puts["run-1/script_seq1/script_seq1.txt"], "text/plain")
	assert.Equal(t, int64(len("hello narration")+len(`{"script_seq":1}`)), res.Bytes)
}

func TestUploadFolder_ExistingBucketNotRecreated(t *testing.T) {
	store := &fakeStore{exists: true}
	_, err := NewUploader(store, "b", nil).UploadFolder(context.Background(), "r", writeRunFolder(t))
	require.NoError(t, err)
	assert.Empty(t, store.made)
}

func TestUploadFolder_ObjectFailure(t *testing.T) {
	store := &fakeStore{failOnKey: "r/script_seq1/script_seq1.json"}
	_, err := NewUploader(store, "b", nil).UploadFolder(context.Background(), "r", writeRunFolder(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestUploadFolder_MissingDir(t *testing.T) {
	_, err := NewUploader(&fakeStore{}, "b", nil).UploadFolder(context.Background(), "r", filepath.Join(t.TempDir(), "gone"))
	assert.Error(t, err)
}

func TestUploadFolder_RejectsInvalidRunID(t *testing.T) {
	store := &fakeStore{}
	_, err := NewUploader(store, "b", nil).UploadFolder(context.Background(), "../escaped", writeRunFolder(t))
	assert.ErrorIs(t, err, ledger.ErrInvalidRunID)
	assert.Empty(t, store.made)
	assert.Empty(t, store.puts)
}

func TestNewMinIOUploader_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIOUploader(Config{}, nil)
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "r/a/b.mp4", ObjectKey("r", filepath.Join("a", "b.mp4")))
}
