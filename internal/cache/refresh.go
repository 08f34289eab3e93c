package cache

import (
	"context"

	"github.com/DatanoiseTV/chatstore/internal/model"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

// RefreshResult summarizes a merge of the on-disk index into memory.
type RefreshResult struct {
	Added     int // present on disk only
	Removed   int // persisted locally, gone from disk
	Updated   int // disk copy won
	LocalWins int // in-memory copy was newer and was written back
}

// RefreshFromStorage merges the on-disk index into memory. Conversations
// only on disk are added and persisted ones missing from disk are dropped.
// Where both sides have a conversation the newer lastInteracted wins, and
// the disk copy wins a tie. Staged conversations are kept.
//
// A corrupt index leaves memory untouched.
func (c *Cache) RefreshFromStorage(ctx context.Context) (RefreshResult, error) {
	metas, err := c.store.LoadIndex()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to reload index, keeping in-memory state")
		return RefreshResult{}, err
	}

	var result RefreshResult
	var removed []string
	var change Change

	c.mu.Lock()
	local := make(map[string]*entry, len(c.entries))
	for _, e := range c.entries {
		local[e.meta.UUID] = e
	}
	onDisk := make(map[string]bool, len(metas))
	for _, m := range metas {
		onDisk[m.UUID] = true
	}

	maxID := c.lastID
	for _, e := range c.entries {
		if e.id > maxID {
			maxID = e.id
		}
	}

	merged := make([]*entry, 0, len(metas)+len(c.entries))
	for _, m := range metas {
		e, ok := local[m.UUID]
		if !ok {
			maxID++
			merged = append(merged, &entry{id: maxID, meta: m, persisted: true})
			result.Added++
			continue
		}

		if e.meta.NewerThan(m) {
			result.LocalWins++
			if e.persisted {
				change.Written = append(change.Written, store.MessagesFile(m.UUID))
				delete(c.unpublished, m.UUID)
			}
		} else {
			if m.LastInteracted.After(e.meta.LastInteracted) {
				// Disk has newer messages; drop the stale body without saving it.
				delete(c.dirty, m.UUID)
				delete(c.unpublished, m.UUID)
				c.bodies.Remove(m.UUID)
			}
			if !e.meta.Equal(m) {
				result.Updated++
			}
			e.meta = m.Clone()
		}
		e.persisted = true
		merged = append(merged, e)
	}

	for _, e := range c.entries {
		if onDisk[e.meta.UUID] {
			continue
		}
		if !e.persisted {
			merged = append(merged, e)
			continue
		}
		delete(c.dirty, e.meta.UUID)
		delete(c.unpublished, e.meta.UUID)
		c.bodies.Remove(e.meta.UUID)
		if c.viewing == e.meta.UUID {
			c.viewing = ""
		}
		removed = append(removed, e.meta.UUID)
		result.Removed++
	}
	c.entries = merged
	c.lastID = maxID

	if result.LocalWins > 0 {
		if err := c.saveIndexLocked(); err == nil {
			change.Written = append(change.Written, store.IndexFile)
		} else {
			change.Written = nil
		}
	}
	if result != (RefreshResult{}) {
		c.notifyLocked(Event{Kind: EventConversations})
	}
	c.mu.Unlock()

	for _, conversationUUID := range removed {
		if err := c.store.DeleteConversation(conversationUUID); err != nil {
			c.logger.Warn().Err(err).Str("uuid", conversationUUID).Msg("failed to delete files of removed conversation")
		}
	}
	c.replicate(ctx, change)

	c.logger.Debug().
		Int("added", result.Added).
		Int("removed", result.Removed).
		Int("updated", result.Updated).
		Int("local_wins", result.LocalWins).
		Msg("refreshed from storage")
	return result, nil
}

// Metadata returns snapshots of every persisted conversation in index order.
func (c *Cache) Metadata() []model.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Metadata, 0, len(c.entries))
	for _, e := range c.entries {
		if e.persisted {
			out = append(out, e.meta.Clone())
		}
	}
	return out
}
