package store

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// On-disk layout, relative to the base directory. Relative names always use
// forward slashes; they double as remote record keys.
const (
	IndexFile        = "index.json"
	AgentsFile       = "agents.json"
	ConversationsDir = "conversations"
	AttachmentsDir   = "attachments"

	qaSuffix = ".qa.json"
)

// MessagesFile returns the relative path of a conversation's message file.
func MessagesFile(conversationUUID string) string {
	return path.Join(ConversationsDir, conversationUUID+".json")
}

// AttachmentDir returns the relative directory holding a conversation's attachments.
func AttachmentDir(conversationUUID string) string {
	return path.Join(AttachmentsDir, conversationUUID)
}

// validName rejects names that are empty or could address another directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// resolve joins a relative slash path onto the base directory.
func resolve(baseDir, rel string) string {
	return filepath.Join(baseDir, filepath.FromSlash(rel))
}
