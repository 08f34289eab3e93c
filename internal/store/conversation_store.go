// Package store persists conversations, attachments and agents as JSON
// files under a single base directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/chatstore/internal/model"
)

// ConversationStore persists the conversation index and the per-conversation
// message files.
type ConversationStore struct {
	mu      sync.Mutex
	baseDir string
	logger  zerolog.Logger
}

// NewConversationStore creates a store rooted at baseDir. Nothing touches
// the disk until InitializeStorage.
func NewConversationStore(baseDir string, logger zerolog.Logger) *ConversationStore {
	return &ConversationStore{
		baseDir: baseDir,
		logger:  logger.With().Str("component", "conversation_store").Logger(),
	}
}

// BaseDir returns the directory the store writes under.
func (s *ConversationStore) BaseDir() string {
	return s.baseDir
}

// InitializeStorage creates the base directory layout and an empty index if
// none exists. It is safe to call repeatedly.
func (s *ConversationStore) InitializeStorage() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range []string{s.baseDir, resolve(s.baseDir, ConversationsDir), resolve(s.baseDir, AttachmentsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	indexPath := resolve(s.baseDir, IndexFile)
	if _, err := os.Stat(indexPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := WriteFileAtomic(indexPath, []byte("[]"), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.logger.Debug().Str("path", indexPath).Msg("created empty index")
	return nil
}

// LoadIndex reads index.json. A missing or empty file is an empty index.
// Malformed content yields ErrCorruptIndex; callers fall back to an empty
// list and log.
func (s *ConversationStore) LoadIndex() ([]model.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(resolve(s.baseDir, IndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Metadata{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(data) == 0 {
		return []model.Metadata{}, nil
	}

	var entries []model.Metadata
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}

	seen := make(map[string]bool, len(entries))
	out := make([]model.Metadata, 0, len(entries))
	for i, entry := range entries {
		if err := validName(entry.UUID); err != nil {
			s.logger.Warn().Err(err).Int("entry", i).Str("uuid", entry.UUID).Msg("dropping index entry with invalid uuid")
			continue
		}
		if seen[entry.UUID] {
			s.logger.Warn().Str("uuid", entry.UUID).Msg("dropping duplicate index entry")
			continue
		}
		seen[entry.UUID] = true
		out = append(out, entry)
	}
	return out, nil
}

// SaveIndex atomically overwrites index.json with entries in the given order.
func (s *ConversationStore) SaveIndex(entries []model.Metadata) error {
	if entries == nil {
		entries = []model.Metadata{}
	}
	for _, entry := range entries {
		if err := validName(entry.UUID); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFileAtomic(resolve(s.baseDir, IndexFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

// LoadMessages reads a conversation's messages. A missing file is not an
// error: the conversation may be indexed but not materialized yet.
func (s *ConversationStore) LoadMessages(conversationUUID string) ([]model.Message, error) {
	if err := validName(conversationUUID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(resolve(s.baseDir, MessagesFile(conversationUUID)))
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Message{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(data) == 0 {
		return []model.Message{}, nil
	}

	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptMessageFile, conversationUUID, err)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w: %s: message %d has role %q", ErrCorruptMessageFile, conversationUUID, i, m.Role)
		}
	}
	if messages == nil {
		messages = []model.Message{}
	}
	model.Renumber(messages)
	return messages, nil
}

// SaveMessages atomically overwrites a conversation's message file.
func (s *ConversationStore) SaveMessages(conversationUUID string, messages []model.Message) error {
	if err := validName(conversationUUID); err != nil {
		return err
	}
	if messages == nil {
		messages = []model.Message{}
	}

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFileAtomic(resolve(s.baseDir, MessagesFile(conversationUUID)), data, 0o644); err != nil {
		return fmt.Errorf("failed to save messages for %s: %w", conversationUUID, err)
	}
	return nil
}

// DeleteConversation removes the message file and attachment directory of a
// conversation. Missing files are ignored.
func (s *ConversationStore) DeleteConversation(conversationUUID string) error {
	if err := validName(conversationUUID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := os.Remove(resolve(s.baseDir, MessagesFile(conversationUUID))); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove messages: %w", err))
	}
	if err := os.RemoveAll(resolve(s.baseDir, AttachmentDir(conversationUUID))); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove attachments: %w", err))
	}
	return errors.Join(errs...)
}
