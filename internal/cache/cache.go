// Package cache holds the in-memory working set of conversations. It is the
// only mutator of conversation state visible to the application and writes
// through to the conversation store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/chatstore/internal/model"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

// DefaultBodyCacheSize bounds how many message bodies stay in memory.
const DefaultBodyCacheSize = 32

var (
	// ErrNotFound is returned for ids or uuids that are not loaded.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidArgument is returned for malformed input such as unknown
	// roles, blank titles or out-of-range message indexes.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConversationStore is the persistence the cache writes through to.
type ConversationStore interface {
	InitializeStorage() error
	LoadIndex() ([]model.Metadata, error)
	SaveIndex(entries []model.Metadata) error
	LoadMessages(conversationUUID string) ([]model.Message, error)
	SaveMessages(conversationUUID string, messages []model.Message) error
	DeleteConversation(conversationUUID string) error
}

// Change lists the files a cache operation wrote or removed, as paths
// relative to the store's base directory.
type Change struct {
	Written []string
	Removed []string
}

// Empty reports whether the change touched nothing.
func (c Change) Empty() bool {
	return len(c.Written) == 0 && len(c.Removed) == 0
}

// Remote is the optional sync collaborator of the cache.
type Remote interface {
	// EnsureFresh waits, bounded, until the local copies of paths are current.
	EnsureFresh(ctx context.Context, paths ...string) error

	// Replicate propagates local writes and deletes. It is best effort.
	Replicate(ctx context.Context, change Change)
}

// entry is the cache's record for one conversation. Message bodies live in
// the body LRU, keyed by uuid.
type entry struct {
	id        int
	meta      model.Metadata
	persisted bool
}

// Cache is the process's single source of conversation state.
type Cache struct {
	mu     sync.Mutex
	store  ConversationStore
	remote Remote
	logger zerolog.Logger
	now    func() time.Time

	entries []*entry
	lastID  int
	bodies  *lru.Cache
	dirty   map[string]bool
	viewing string

	// Bodies written to disk by eviction that the remote has not seen yet.
	// The next commit of such a conversation replicates it, and lazy loads
	// skip the freshness wait so the remote copy cannot overwrite it.
	unpublished map[string]bool

	selectedAgent *string
	selectedModel string
	loading       bool
	progress      float64

	subs    map[int]chan Event
	nextSub int
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger.With().Str("component", "cache").Logger()
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithSelectedModel sets the model new conversations default to.
func WithSelectedModel(modelID string) Option {
	return func(c *Cache) {
		c.selectedModel = modelID
	}
}

// New creates an empty cache over s. bodyCacheSize bounds the message
// bodies kept in memory; values below one use DefaultBodyCacheSize.
func New(s ConversationStore, bodyCacheSize int, opts ...Option) (*Cache, error) {
	if bodyCacheSize < 1 {
		bodyCacheSize = DefaultBodyCacheSize
	}

	c := &Cache{
		store:  s,
		logger: zerolog.Nop(),
		now:    time.Now,
		dirty:       make(map[string]bool),
		unpublished: make(map[string]bool),
		subs:        make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}

	bodies, err := lru.NewWithEvict(bodyCacheSize, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create body cache: %w", err)
	}
	c.bodies = bodies
	return c, nil
}

// SetRemote attaches the sync collaborator. It must be called before the
// cache is shared between goroutines.
func (c *Cache) SetRemote(r Remote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = r
}

// onEvict persists bodies that still hold unsaved streamed text and marks
// them unpublished. It runs with c.mu held, from inside bodies.Add or
// bodies.Remove.
func (c *Cache) onEvict(key, value interface{}) {
	conversationUUID, _ := key.(string)
	if !c.dirty[conversationUUID] {
		return
	}
	delete(c.dirty, conversationUUID)

	messages, _ := value.([]model.Message)
	if err := c.store.SaveMessages(conversationUUID, messages); err != nil {
		c.logger.Error().Err(err).Str("uuid", conversationUUID).Msg("failed to persist evicted conversation")
		return
	}
	c.unpublished[conversationUUID] = true
	if e := c.findByUUIDLocked(conversationUUID); e != nil {
		e.meta.LastInteracted = c.now()
	}
}

// Load initializes storage and replaces the working set with the on-disk
// index. A corrupt index is logged and treated as empty.
func (c *Cache) Load(ctx context.Context) error {
	if err := c.store.InitializeStorage(); err != nil {
		c.logger.Error().Err(err).Msg("storage unavailable, continuing without persistence")
		return err
	}

	metas, err := c.store.LoadIndex()
	if err != nil {
		if !errors.Is(err, store.ErrCorruptIndex) {
			return err
		}
		c.logger.Error().Err(err).Msg("index is corrupt, starting with an empty conversation list")
		metas = nil
	}

	c.mu.Lock()
	c.dirty = make(map[string]bool)
	c.bodies.Purge()
	c.unpublished = make(map[string]bool)
	c.viewing = ""
	c.entries = make([]*entry, 0, len(metas))
	for i, m := range metas {
		c.entries = append(c.entries, &entry{id: i + 1, meta: m, persisted: true})
	}
	c.lastID = len(metas)
	c.notifyLocked(Event{Kind: EventConversations})
	c.mu.Unlock()

	c.logger.Info().Int("conversations", len(metas)).Msg("conversation index loaded")
	return nil
}

// NewConversation stages an empty conversation. It is not persisted until
// its first message. An empty modelID uses the selected model.
func (c *Cache) NewConversation(modelID string, agentID *string) model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if modelID == "" {
		modelID = c.selectedModel
	}
	e := &entry{
		id: c.nextIDLocked(),
		meta: model.Metadata{
			UUID:           uuid.NewString(),
			Title:          model.DefaultTitle,
			LastInteracted: c.now(),
			ModelUsed:      modelID,
			AgentUsed:      cloneString(agentID),
		},
	}
	c.entries = append(c.entries, e)
	c.bodies.Add(e.meta.UUID, []model.Message{})
	c.notifyLocked(Event{Kind: EventConversations, UUID: e.meta.UUID})
	return model.Conversation{ID: e.id, Metadata: e.meta.Clone(), Messages: []model.Message{}}
}

// Conversations returns metadata snapshots, most recently interacted first.
// Message bodies are not included.
func (c *Cache) Conversations(includeArchived bool) []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Conversation, 0, len(c.entries))
	for _, e := range c.entries {
		if e.meta.IsArchived && !includeArchived {
			continue
		}
		out = append(out, model.Conversation{ID: e.id, Metadata: e.meta.Clone()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastInteracted.After(out[j].LastInteracted)
	})
	return out
}

// GetConversation returns a snapshot including messages, loading them from
// disk on first access.
func (c *Cache) GetConversation(ctx context.Context, id int) (model.Conversation, error) {
	conversationUUID, err := c.uuidFor(id)
	if err != nil {
		return model.Conversation{}, err
	}
	return c.GetConversationByUUID(ctx, conversationUUID)
}

// GetConversationByUUID is GetConversation keyed by the durable uuid.
func (c *Cache) GetConversationByUUID(ctx context.Context, conversationUUID string) (model.Conversation, error) {
	if err := c.ensureBody(ctx, conversationUUID); err != nil {
		return model.Conversation{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.findByUUIDLocked(conversationUUID)
	if e == nil {
		return model.Conversation{}, ErrNotFound
	}
	return c.snapshotLocked(e), nil
}

// SetViewing marks a conversation as the one on screen, or clears the mark.
// Only one conversation is viewed at a time. An empty staged conversation
// that stops being viewed is discarded.
func (c *Cache) SetViewing(ctx context.Context, id int, isViewing bool) error {
	c.mu.Lock()
	e := c.findByIDLocked(id)
	if e == nil {
		c.mu.Unlock()
		return ErrNotFound
	}
	conversationUUID := e.meta.UUID

	if isViewing {
		previous := c.viewing
		c.viewing = conversationUUID
		if previous != "" && previous != conversationUUID {
			c.pruneIfEmptyLocked(previous)
		}
	} else if c.viewing == conversationUUID {
		c.viewing = ""
		c.pruneIfEmptyLocked(conversationUUID)
	}
	c.notifyLocked(Event{Kind: EventSelection, UUID: conversationUUID})
	c.mu.Unlock()

	if isViewing {
		return c.ensureBody(ctx, conversationUUID)
	}
	return nil
}

// Viewing returns the id of the viewed conversation.
func (c *Cache) Viewing() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.findByUUIDLocked(c.viewing); e != nil {
		return e.id, true
	}
	return 0, false
}

// IsViewing reports whether id is the viewed conversation.
func (c *Cache) IsViewing(id int) bool {
	viewed, ok := c.Viewing()
	return ok && viewed == id
}

// AppendMessage adds a message and persists the conversation. The first
// message also sets the title.
func (c *Cache) AppendMessage(ctx context.Context, id int, role model.Role, text string) (model.Message, error) {
	if !role.Valid() {
		return model.Message{}, fmt.Errorf("%w: role %q", ErrInvalidArgument, role)
	}
	conversationUUID, err := c.uuidFor(id)
	if err != nil {
		return model.Message{}, err
	}
	if err := c.ensureBody(ctx, conversationUUID); err != nil {
		return model.Message{}, err
	}

	c.mu.Lock()
	e := c.findByUUIDLocked(conversationUUID)
	if e == nil {
		c.mu.Unlock()
		return model.Message{}, ErrNotFound
	}
	body := c.bodyLocked(e)
	msg := model.Message{ID: len(body), Role: role, Text: text}
	if len(body) == 0 {
		e.meta.Title = model.TitleFromText(text)
	}
	body = append(body, msg)
	c.bodies.Add(conversationUUID, body)

	change, err := c.persistLocked(e, body)
	c.notifyLocked(Event{Kind: EventConversations, UUID: conversationUUID})
	c.mu.Unlock()

	c.replicate(ctx, change)
	if err != nil {
		return msg, err
	}
	return msg, nil
}

// AppendMessageText appends streamed text to a message in memory only. Call
// CommitMessages once the stream ends.
func (c *Cache) AppendMessageText(id, messageIndex int, delta string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.findByIDLocked(id)
	if e == nil {
		return ErrNotFound
	}
	body := c.bodyLocked(e)
	if messageIndex < 0 || messageIndex >= len(body) {
		return fmt.Errorf("%w: message index %d out of range", ErrInvalidArgument, messageIndex)
	}
	body[messageIndex].Text += delta
	c.dirty[e.meta.UUID] = true
	c.notifyLocked(Event{Kind: EventMessages, UUID: e.meta.UUID})
	return nil
}

// CommitMessages persists text streamed into a conversation, including
// text that eviction already wrote locally but never replicated.
func (c *Cache) CommitMessages(ctx context.Context, id int) error {
	c.mu.Lock()
	e := c.findByIDLocked(id)
	if e == nil {
		c.mu.Unlock()
		return ErrNotFound
	}
	if !c.dirty[e.meta.UUID] && !c.unpublished[e.meta.UUID] {
		c.mu.Unlock()
		return nil
	}
	change, err := c.persistLocked(e, c.bodyLocked(e))
	c.notifyLocked(Event{Kind: EventConversations, UUID: e.meta.UUID})
	c.mu.Unlock()

	c.replicate(ctx, change)
	return err
}

// RenameConversation changes a title and re-saves the index before returning.
func (c *Cache) RenameConversation(ctx context.Context, id int, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalidArgument)
	}
	return c.updateMetadata(ctx, id, func(m *model.Metadata) {
		m.Title = title
	})
}

// SetArchived archives or restores a conversation.
func (c *Cache) SetArchived(ctx context.Context, id int, archived bool) error {
	return c.updateMetadata(ctx, id, func(m *model.Metadata) {
		m.IsArchived = archived
	})
}

func (c *Cache) updateMetadata(ctx context.Context, id int, mutate func(*model.Metadata)) error {
	c.mu.Lock()
	e := c.findByIDLocked(id)
	if e == nil {
		c.mu.Unlock()
		return ErrNotFound
	}
	mutate(&e.meta)

	var change Change
	var err error
	if e.persisted {
		e.meta.LastInteracted = c.now()
		if err = c.saveIndexLocked(); err == nil {
			change.Written = []string{store.IndexFile}
		}
	}
	c.notifyLocked(Event{Kind: EventConversations, UUID: e.meta.UUID})
	c.mu.Unlock()

	c.replicate(ctx, change)
	return err
}

// DeleteConversation drops a conversation from memory, re-saves the index
// and removes its files. A staged conversation has no message file but may
// already have attachments.
func (c *Cache) DeleteConversation(ctx context.Context, id int) error {
	c.mu.Lock()
	e := c.findByIDLocked(id)
	if e == nil {
		c.mu.Unlock()
		return ErrNotFound
	}
	conversationUUID := e.meta.UUID
	c.removeLocked(conversationUUID)

	var change Change
	var errs []error
	if e.persisted {
		if err := c.saveIndexLocked(); err != nil {
			errs = append(errs, err)
		} else {
			change.Written = []string{store.IndexFile}
		}
		change.Removed = []string{store.MessagesFile(conversationUUID)}
	}
	if err := c.store.DeleteConversation(conversationUUID); err != nil {
		errs = append(errs, err)
	}
	c.notifyLocked(Event{Kind: EventConversations, UUID: conversationUUID})
	c.mu.Unlock()

	c.replicate(ctx, change)
	return errors.Join(errs...)
}

// SelectAgent sets or clears (nil) the selected agent.
func (c *Cache) SelectAgent(agentID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedAgent = cloneString(agentID)
	c.notifyLocked(Event{Kind: EventSelection})
}

// SelectedAgent returns the selected agent id.
func (c *Cache) SelectedAgent() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneString(c.selectedAgent)
}

// SelectModel sets the model new conversations default to.
func (c *Cache) SelectModel(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedModel = modelID
	c.notifyLocked(Event{Kind: EventSelection})
}

// SelectedModel returns the selected model.
func (c *Cache) SelectedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedModel
}

// BeginLoading marks a sync as running and resets progress.
func (c *Cache) BeginLoading() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = true
	c.progress = 0
	c.notifyLocked(Event{Kind: EventProgress, Progress: c.progress})
}

// SetProgress records sync progress, clamped to [0, 1].
func (c *Cache) SetProgress(p float64) {
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = p
	c.notifyLocked(Event{Kind: EventProgress, Progress: c.progress})
}

// EndLoading marks the sync as finished.
func (c *Cache) EndLoading() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.notifyLocked(Event{Kind: EventProgress, Progress: c.progress})
}

// Progress returns whether a sync is running and how far it got.
func (c *Cache) Progress() (bool, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading, c.progress
}

// ensureBody loads a conversation's messages into the body cache if they
// are not there yet. The freshness wait and file read run without c.mu.
func (c *Cache) ensureBody(ctx context.Context, conversationUUID string) error {
	c.mu.Lock()
	e := c.findByUUIDLocked(conversationUUID)
	if e == nil {
		c.mu.Unlock()
		return ErrNotFound
	}
	if _, ok := c.bodies.Get(conversationUUID); ok {
		c.mu.Unlock()
		return nil
	}
	if !e.persisted {
		c.bodies.Add(conversationUUID, []model.Message{})
		c.mu.Unlock()
		return nil
	}
	remote := c.remote
	if c.unpublished[conversationUUID] {
		remote = nil
	}
	c.mu.Unlock()

	if remote != nil {
		if err := remote.EnsureFresh(ctx, store.MessagesFile(conversationUUID)); err != nil {
			c.logger.Warn().Err(err).Str("uuid", conversationUUID).Msg("reading possibly stale messages")
		}
	}
	messages, err := c.loadMessages(conversationUUID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findByUUIDLocked(conversationUUID) == nil {
		return ErrNotFound
	}
	if _, ok := c.bodies.Get(conversationUUID); !ok {
		c.bodies.Add(conversationUUID, messages)
	}
	return nil
}

// loadMessages reads a message file, substituting an empty body for a
// corrupt one.
func (c *Cache) loadMessages(conversationUUID string) ([]model.Message, error) {
	messages, err := c.store.LoadMessages(conversationUUID)
	if err != nil {
		if !errors.Is(err, store.ErrCorruptMessageFile) {
			return nil, err
		}
		c.logger.Error().Err(err).Str("uuid", conversationUUID).Msg("message file is corrupt, showing an empty conversation")
		messages = []model.Message{}
	}
	return messages, nil
}

// bodyLocked returns the cached body of e, reading it synchronously if it
// was evicted since ensureBody.
func (c *Cache) bodyLocked(e *entry) []model.Message {
	if v, ok := c.bodies.Get(e.meta.UUID); ok {
		return v.([]model.Message)
	}
	if !e.persisted {
		c.bodies.Add(e.meta.UUID, []model.Message{})
		return []model.Message{}
	}
	messages, err := c.loadMessages(e.meta.UUID)
	if err != nil {
		c.logger.Error().Err(err).Str("uuid", e.meta.UUID).Msg("failed to reload evicted messages")
		messages = []model.Message{}
	}
	c.bodies.Add(e.meta.UUID, messages)
	return messages
}

// persistLocked writes body and the index, stamping lastInteracted.
func (c *Cache) persistLocked(e *entry, body []model.Message) (Change, error) {
	e.meta.LastInteracted = c.now()
	if err := c.store.SaveMessages(e.meta.UUID, body); err != nil {
		c.dirty[e.meta.UUID] = true
		c.logger.Error().Err(err).Str("uuid", e.meta.UUID).Msg("failed to save messages")
		return Change{}, err
	}
	delete(c.dirty, e.meta.UUID)
	delete(c.unpublished, e.meta.UUID)
	e.persisted = true

	change := Change{Written: []string{store.MessagesFile(e.meta.UUID)}}
	if err := c.saveIndexLocked(); err != nil {
		return change, err
	}
	change.Written = append(change.Written, store.IndexFile)
	return change, nil
}

// saveIndexLocked writes every persisted conversation in list order.
func (c *Cache) saveIndexLocked() error {
	metas := make([]model.Metadata, 0, len(c.entries))
	for _, e := range c.entries {
		if e.persisted {
			metas = append(metas, e.meta.Clone())
		}
	}
	if err := c.store.SaveIndex(metas); err != nil {
		c.logger.Error().Err(err).Msg("failed to save index")
		return err
	}
	return nil
}

// pruneIfEmptyLocked discards a staged conversation that never got a message.
func (c *Cache) pruneIfEmptyLocked(conversationUUID string) {
	e := c.findByUUIDLocked(conversationUUID)
	if e == nil || e.persisted {
		return
	}
	if v, ok := c.bodies.Peek(conversationUUID); ok && len(v.([]model.Message)) > 0 {
		return
	}
	c.removeLocked(conversationUUID)
	if err := c.store.DeleteConversation(conversationUUID); err != nil {
		c.logger.Warn().Err(err).Str("uuid", conversationUUID).Msg("failed to remove attachments of discarded conversation")
	}
	c.logger.Debug().Str("uuid", conversationUUID).Msg("discarded empty conversation")
}

// removeLocked drops an entry and its body without writing anything.
func (c *Cache) removeLocked(conversationUUID string) {
	for i, e := range c.entries {
		if e.meta.UUID == conversationUUID {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	delete(c.dirty, conversationUUID)
	delete(c.unpublished, conversationUUID)
	c.bodies.Remove(conversationUUID)
	if c.viewing == conversationUUID {
		c.viewing = ""
	}
}

func (c *Cache) replicate(ctx context.Context, change Change) {
	if change.Empty() {
		return
	}
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()
	if remote != nil {
		remote.Replicate(ctx, change)
	}
}

func (c *Cache) snapshotLocked(e *entry) model.Conversation {
	out := model.Conversation{ID: e.id, Metadata: e.meta.Clone()}
	if v, ok := c.bodies.Peek(e.meta.UUID); ok {
		out.Messages = append([]model.Message{}, v.([]model.Message)...)
	} else {
		out.Messages = []model.Message{}
	}
	return out
}

func (c *Cache) uuidFor(id int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.findByIDLocked(id)
	if e == nil {
		return "", ErrNotFound
	}
	return e.meta.UUID, nil
}

func (c *Cache) findByIDLocked(id int) *entry {
	for _, e := range c.entries {
		if e.id == id {
			return e
		}
	}
	return nil
}

func (c *Cache) findByUUIDLocked(conversationUUID string) *entry {
	if conversationUUID == "" {
		return nil
	}
	for _, e := range c.entries {
		if e.meta.UUID == conversationUUID {
			return e
		}
	}
	return nil
}

// nextIDLocked returns one more than the highest id handed out since Load,
// so ids of deleted conversations are not reused.
func (c *Cache) nextIDLocked() int {
	for _, e := range c.entries {
		if e.id > c.lastID {
			c.lastID = e.id
		}
	}
	c.lastID++
	return c.lastID
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
