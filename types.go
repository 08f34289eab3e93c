package main

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Tool argument types. Each is bound from the MCP call arguments with
// mcp.NewTypedToolHandler and checked against its validate tags before use.

// ListConversationsArgs selects which conversations list_conversations returns.
type ListConversationsArgs struct {
	IncludeArchived bool `json:"include_archived"` // Also list archived conversations
}

// ConversationArgs names a single conversation by its list id.
type ConversationArgs struct {
	ID int `json:"id" validate:"gt=0"` // Conversation id from list_conversations
}

// SendMessageArgs appends a user message and asks the model for a reply.
type SendMessageArgs struct {
	ID      int    `json:"id,omitempty" validate:"gte=0"` // Existing conversation; 0 starts a new one
	Text    string `json:"text" validate:"notblank"`      // Message text
	AgentID string `json:"agent_id,omitempty"`            // Agent preset for a new conversation
	Model   string `json:"model,omitempty"`               // Model for a new conversation
}

// RenameConversationArgs sets a conversation title.
type RenameConversationArgs struct {
	ID    int    `json:"id" validate:"gt=0"`
	Title string `json:"title" validate:"notblank"`
}

// ArchiveConversationArgs archives or restores a conversation.
type ArchiveConversationArgs struct {
	ID       int  `json:"id" validate:"gt=0"`
	Archived bool `json:"archived"`
}

// AttachImageArgs stores an image with a conversation. Exactly one of Path
// and ImageBase64 must be set.
type AttachImageArgs struct {
	ID          int    `json:"id" validate:"gt=0"`
	Path        string `json:"path,omitempty" validate:"required_without=ImageBase64,excluded_with=ImageBase64"` // Local image file
	ImageBase64 string `json:"image_base64,omitempty" validate:"required_without=Path,excluded_with=Path"`       // Inline image bytes
}

// AnalyzeImageArgs asks a question about an attached image.
type AnalyzeImageArgs struct {
	ID       int    `json:"id" validate:"gt=0"`
	Image    string `json:"image" validate:"notblank"`    // Attachment filename from attach_image
	Question string `json:"question" validate:"notblank"` // Question about the image
}

// ListAgentsArgs filters list_agents.
type ListAgentsArgs struct {
	SidebarOnly bool `json:"sidebar_only"`
}

// AgentArgs names an agent preset.
type AgentArgs struct {
	ID string `json:"id" validate:"notblank"`
}

// SaveAgentArgs creates or replaces an agent preset.
type SaveAgentArgs struct {
	ID             string `json:"id,omitempty"` // Empty creates a new agent
	Name           string `json:"name" validate:"notblank"`
	Icon           string `json:"icon,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	Model          string `json:"model,omitempty"`
	ShownInSidebar bool   `json:"shown_in_sidebar"`
}

// SyncStatusArgs controls sync_status output.
type SyncStatusArgs struct {
	IncludeDiff bool `json:"include_diff"` // Compare local files with the record database
}

// NoArgs is used by tools without parameters.
type NoArgs struct{}

// argsValidator checks tool arguments. Field names in its errors are the
// JSON names a client sent.
var argsValidator = newArgsValidator()

func newArgsValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateArgs runs the validate tags of args and turns failures into one
// readable error.
func validateArgs(args any) error {
	err := argsValidator.Struct(args)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank":
		return fmt.Sprintf("%s cannot be empty", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	case "required_without", "excluded_with":
		return "exactly one of path and image_base64 is required"
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
