package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	require.Equal(t, "results/acme/widget/X.json", ObjectKey("acme/widget", "X"))
	require.Equal(t, "results/unknown/unknown.json", ObjectKey("", " "))
	require.Equal(t, "results/acme/widget/deadbeef.json", ObjectKey(" acme/widget ", "deadbeef"))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: ""})
	require.Error(t, err)

	_, err = New(Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s"})
	require.Error(t, err, "bucket is required")

	s, err := New(Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"})
	require.NoError(t, err)
	require.NotNil(t, s)
}
