package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/chatstore/internal/model"
)

const (
	// defaultImageExt is used when content sniffing finds no extension.
	defaultImageExt = ".bin"
	// corruptSuffix is appended to a Q&A file that could not be decoded.
	corruptSuffix = ".corrupt"
)

// AttachmentStore persists attachment payloads and their Q&A caches under
// attachments/<conversationUUID>/.
type AttachmentStore struct {
	mu      sync.Mutex
	baseDir string
	logger  zerolog.Logger
}

// NewAttachmentStore creates an attachment store rooted at baseDir.
func NewAttachmentStore(baseDir string, logger zerolog.Logger) *AttachmentStore {
	return &AttachmentStore{
		baseDir: baseDir,
		logger:  logger.With().Str("component", "attachment_store").Logger(),
	}
}

// SaveImage stores data for a conversation and returns the filename it was
// stored under: a fresh uuid plus an extension sniffed from the content.
func (s *AttachmentStore) SaveImage(conversationUUID string, data []byte) (string, error) {
	if err := validName(conversationUUID); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("attachment payload is empty")
	}

	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = defaultImageExt
	}
	filename := uuid.NewString() + ext

	s.mu.Lock()
	defer s.mu.Unlock()
	rel := path.Join(AttachmentDir(conversationUUID), filename)
	if err := WriteFileAtomic(resolve(s.baseDir, rel), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save attachment: %w", err)
	}
	s.logger.Debug().Str("conversation", conversationUUID).Str("file", filename).Msg("saved attachment")
	return filename, nil
}

// LoadImage returns the attachment bytes, or nil without error when the
// conversation has no attachment by that name.
func (s *AttachmentStore) LoadImage(filename, conversationUUID string) ([]byte, error) {
	if err := validName(conversationUUID); err != nil {
		return nil, err
	}
	if err := validName(filename); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(resolve(s.baseDir, path.Join(AttachmentDir(conversationUUID), filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return data, nil
}

// MIMEType sniffs the content type of an attachment payload.
func MIMEType(data []byte) string {
	return mimetype.Detect(data).String()
}

// AddQA appends one question/answer pair to the attachment's Q&A cache.
// It never deduplicates; that is up to the caller.
func (s *AttachmentStore) AddQA(imageUUID, question, answer, conversationUUID string) error {
	if err := validName(conversationUUID); err != nil {
		return err
	}
	stem := attachmentStem(imageUUID)
	if err := validName(stem); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readQA(conversationUUID, stem)
	switch {
	case err == nil:
	case errors.Is(err, ErrCorruptQA):
		// Keep the undecodable file for inspection and start a new one.
		qaPath := s.qaPath(conversationUUID, stem)
		if err := os.Rename(qaPath, qaPath+corruptSuffix); err != nil {
			return fmt.Errorf("%w: failed to set aside corrupt Q&A records: %v", ErrStorageUnavailable, err)
		}
		s.logger.Error().Str("conversation", conversationUUID).Str("attachment", stem).
			Msg("moved corrupt Q&A records aside")
		records = nil
	default:
		return err
	}
	records = append(records, model.QARecord{Question: question, Answer: answer})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal Q&A records: %w", err)
	}
	if err := WriteFileAtomic(s.qaPath(conversationUUID, stem), data, 0o644); err != nil {
		return fmt.Errorf("failed to save Q&A records: %w", err)
	}
	return nil
}

// LoadQA returns the Q&A records of an attachment in the order they were added.
func (s *AttachmentStore) LoadQA(imageUUID, conversationUUID string) ([]model.QARecord, error) {
	if err := validName(conversationUUID); err != nil {
		return nil, err
	}
	stem := attachmentStem(imageUUID)
	if err := validName(stem); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readQA(conversationUUID, stem)
}

// FindAnswer looks up a cached answer to question for an attachment.
func (s *AttachmentStore) FindAnswer(imageUUID, question, conversationUUID string) (string, bool, error) {
	records, err := s.LoadQA(imageUUID, conversationUUID)
	if err != nil {
		return "", false, err
	}
	question = strings.TrimSpace(question)
	for _, r := range records {
		if strings.EqualFold(strings.TrimSpace(r.Question), question) {
			return r.Answer, true, nil
		}
	}
	return "", false, nil
}

// DeleteAll removes every attachment of a conversation. A conversation
// without attachments is not an error.
func (s *AttachmentStore) DeleteAll(conversationUUID string) error {
	if err := validName(conversationUUID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(resolve(s.baseDir, AttachmentDir(conversationUUID))); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	return nil
}

func (s *AttachmentStore) readQA(conversationUUID, stem string) ([]model.QARecord, error) {
	data, err := os.ReadFile(s.qaPath(conversationUUID, stem))
	if err != nil {
		if os.IsNotExist(err) {
			return []model.QARecord{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var records []model.QARecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptQA, err)
		}
	}
	if records == nil {
		records = []model.QARecord{}
	}
	return records, nil
}

func (s *AttachmentStore) qaPath(conversationUUID, stem string) string {
	return resolve(s.baseDir, path.Join(AttachmentDir(conversationUUID), stem+qaSuffix))
}

// attachmentStem strips the extension so both "abc.png" and "abc" address
// the same Q&A cache.
func attachmentStem(name string) string {
	if strings.HasSuffix(name, qaSuffix) {
		return strings.TrimSuffix(name, qaSuffix)
	}
	return strings.TrimSuffix(name, path.Ext(name))
}
