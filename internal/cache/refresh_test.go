package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DatanoiseTV/chatstore/internal/model"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

func findByUUID(list []model.Conversation, conversationUUID string) (model.Conversation, bool) {
	for _, c := range list {
		if c.UUID == conversationUUID {
			return c, true
		}
	}
	return model.Conversation{}, false
}

func TestRefreshMergesDiskIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, s := newTestCache(t, dir, 0)

	localNewer := c.NewConversation("", nil)
	_, err := c.AppendMessage(ctx, localNewer.ID, model.RoleUser, "local newer")
	require.NoError(t, err)
	remoteNewer := c.NewConversation("", nil)
	_, err = c.AppendMessage(ctx, remoteNewer.ID, model.RoleUser, "remote newer")
	require.NoError(t, err)
	tie := c.NewConversation("", nil)
	_, err = c.AppendMessage(ctx, tie.ID, model.RoleUser, "tie")
	require.NoError(t, err)
	deletedElsewhere := c.NewConversation("", nil)
	_, err = c.AppendMessage(ctx, deletedElsewhere.ID, model.RoleUser, "gone")
	require.NoError(t, err)
	staged := c.NewConversation("", nil)

	current := map[string]model.Metadata{}
	for _, m := range c.Metadata() {
		current[m.UUID] = m
	}

	// Simulate what another device wrote into the synced index.
	lnMeta := current[localNewer.UUID]
	lnMeta.Title = "stale remote title"
	lnMeta.LastInteracted = lnMeta.LastInteracted.Add(-time.Hour)

	rnMeta := current[remoteNewer.UUID]
	rnMeta.Title = "renamed elsewhere"
	rnMeta.LastInteracted = rnMeta.LastInteracted.Add(time.Hour)

	tieMeta := current[tie.UUID]
	tieMeta.Title = "tie goes to disk"

	added := model.Metadata{UUID: "from-other-device", Title: "new there", LastInteracted: time.Now(), ModelUsed: "m"}

	require.NoError(t, s.SaveIndex([]model.Metadata{lnMeta, rnMeta, tieMeta, added}))

	result, err := c.RefreshFromStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{Added: 1, Removed: 1, Updated: 2, LocalWins: 1}, result)

	list := c.Conversations(true)
	require.Len(t, list, 5)

	got, ok := findByUUID(list, localNewer.UUID)
	require.True(t, ok)
	assert.Equal(t, "local newer", got.Title)

	got, ok = findByUUID(list, remoteNewer.UUID)
	require.True(t, ok)
	assert.Equal(t, "renamed elsewhere", got.Title)

	got, ok = findByUUID(list, tie.UUID)
	require.True(t, ok)
	assert.Equal(t, "tie goes to disk", got.Title)

	got, ok = findByUUID(list, added.UUID)
	require.True(t, ok)
	assert.Equal(t, 6, got.ID, "new entries get max+1")

	_, ok = findByUUID(list, staged.UUID)
	assert.True(t, ok, "staged conversations survive a refresh")
	_, ok = findByUUID(list, deletedElsewhere.UUID)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(store.MessagesFile(deletedElsewhere.UUID))))
	assert.True(t, os.IsNotExist(err))

	// The local winner was written back so the next upload carries it.
	index, err := s.LoadIndex()
	require.NoError(t, err)
	require.Len(t, index, 4)
	assert.Equal(t, "local newer", index[0].Title)
}

func TestRefreshDropsStaleBody(t *testing.T) {
	ctx := context.Background()
	c, s := newTestCache(t, t.TempDir(), 0)

	conv := c.NewConversation("", nil)
	_, err := c.AppendMessage(ctx, conv.ID, model.RoleUser, "v1")
	require.NoError(t, err)

	meta := c.Metadata()[0]
	meta.LastInteracted = meta.LastInteracted.Add(time.Hour)
	require.NoError(t, s.SaveMessages(conv.UUID, []model.Message{
		{Role: model.RoleUser, Text: "v1"},
		{Role: model.RoleAssistant, Text: "answered elsewhere"},
	}))
	require.NoError(t, s.SaveIndex([]model.Metadata{meta}))

	_, err = c.RefreshFromStorage(ctx)
	require.NoError(t, err)

	got, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "answered elsewhere", got.Messages[1].Text)
}

func TestRefreshKeepsMemoryOnCorruptIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, _ := newTestCache(t, dir, 0)

	conv := c.NewConversation("", nil)
	_, err := c.AppendMessage(ctx, conv.ID, model.RoleUser, "hi")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, store.IndexFile), []byte("[{"), 0o644))
	_, err = c.RefreshFromStorage(ctx)
	assert.ErrorIs(t, err, store.ErrCorruptIndex)
	assert.Len(t, c.Conversations(true), 1)
}

func TestRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, t.TempDir(), 0)

	conv := c.NewConversation("", nil)
	_, err := c.AppendMessage(ctx, conv.ID, model.RoleUser, "hi")
	require.NoError(t, err)

	result, err := c.RefreshFromStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{}, result)
}
