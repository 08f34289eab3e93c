package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) (*BadgerStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := OpenBadgerStore("", root, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, root
}

func waitCurrent(t *testing.T, s *BadgerStore, p string) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := s.DownloadStatus(context.Background(), p)
		return err == nil && status == StatusCurrent
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUploadThenDownloadElsewhere(t *testing.T) {
	ctx := context.Background()
	s, root := newTestBadgerStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "index.json"), []byte(`[{"uuid":"c1"}]`), 0o644))
	require.NoError(t, s.Upload(ctx, "index.json"))

	// Simulate another device: the local copy diverges, then a download restores the remote one.
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.json"), []byte(`[]`), 0o644))
	status, err := s.DownloadStatus(ctx, "index.json")
	require.NoError(t, err)
	assert.Equal(t, StatusCurrent, status, "upload marks the path current until a new download is requested")

	require.NoError(t, s.StartDownload(ctx, "index.json"))
	waitCurrent(t, s, "index.json")

	data, err := os.ReadFile(filepath.Join(root, "index.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"uuid":"c1"}]`, string(data))
}

func TestDownloadCreatesNestedFiles(t *testing.T) {
	ctx := context.Background()
	s, root := newTestBadgerStore(t)
	mod := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Push(ctx, []Record{{Path: "conversations/c1.json", Data: []byte(`[]`), ModTime: mod}}))
	require.NoError(t, s.StartDownload(ctx, "conversations/c1.json"))
	waitCurrent(t, s, "conversations/c1.json")

	info, err := os.Stat(filepath.Join(root, "conversations", "c1.json"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mod))
}

func TestDownloadStatusWithoutRequest(t *testing.T) {
	ctx := context.Background()
	s, root := newTestBadgerStore(t)

	status, err := s.DownloadStatus(ctx, "agents.json")
	require.NoError(t, err)
	assert.Equal(t, StatusCurrent, status, "nothing remote means nothing to wait for")

	require.NoError(t, s.Push(ctx, []Record{{Path: "agents.json", Data: []byte(`[]`), ModTime: time.Now()}}))
	status, err = s.DownloadStatus(ctx, "agents.json")
	require.NoError(t, err)
	assert.Equal(t, StatusNotDownloaded, status)

	require.NoError(t, os.WriteFile(filepath.Join(root, "agents.json"), []byte(`[]`), 0o644))
	status, err = s.DownloadStatus(ctx, "agents.json")
	require.NoError(t, err)
	assert.Equal(t, StatusCurrent, status)
}

func TestPullListRemove(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestBadgerStore(t)

	require.NoError(t, s.Push(ctx, []Record{
		{Path: "index.json", Data: []byte("[]"), ModTime: time.Now()},
		{Path: "conversations/c1.json", Data: []byte("[1]"), ModTime: time.Now()},
	}))

	records, err := s.Pull(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	byPath := map[string]RecordInfo{}
	for _, info := range infos {
		byPath[info.Path] = info
	}
	assert.Equal(t, 3, byPath["conversations/c1.json"].Size)
	assert.Equal(t, Checksum([]byte("[1]")), byPath["conversations/c1.json"].Checksum)

	require.NoError(t, s.Remove(ctx, "conversations/c1.json"))
	require.NoError(t, s.Remove(ctx, "conversations/c1.json"))

	infos, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "index.json", infos[0].Path)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBadgerStore("", t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.StartDownload(ctx, "index.json"), ErrRemoteUnavailable)
	_, err = s.DownloadStatus(ctx, "index.json")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	_, err = s.Pull(ctx)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestCleanPath(t *testing.T) {
	for _, bad := range []string{"", "/abs", "..", "../x", `a\b`, "."} {
		_, err := CleanPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}

	p, err := CleanPath("conversations//c1.json")
	require.NoError(t, err)
	assert.Equal(t, "conversations/c1.json", p)
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadgerStore(dir, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, []Record{{Path: "index.json", Data: []byte("[]"), ModTime: time.Now()}}))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(dir, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	records, err := s.Pull(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "[]", string(records[0].Data))
}
