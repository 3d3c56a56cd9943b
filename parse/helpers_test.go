package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/fleetrt/storage"
)

// Runs parseFn against a fresh memory feed and returns a reader for
// whatever it wrote.
func parseInto(t *testing.T, parseFn func(storage.FeedWriter) error) (*storage.MemoryStorageFeed, error) {
	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	if err := parseFn(writer); err != nil {
		return nil, err
	}

	reader, err := s.GetReader("test")
	require.NoError(t, err)
	return reader.(*storage.MemoryStorageFeed), nil
}

func csvBuf(content string) *bytes.Buffer {
	return bytes.NewBufferString(content)
}
