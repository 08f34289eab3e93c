package main

import (
	"time"

	"github.com/DatanoiseTV/chatstore/internal/cache"
	"github.com/DatanoiseTV/chatstore/internal/cloudsync"
	"github.com/DatanoiseTV/chatstore/internal/llm"
)

// Configuration locations
const (
	// Directory under the user's home holding config and data
	ConfigDirName = ".chatstore"
	// Config file inside ConfigDirName
	ConfigFileName = "config.json"
	// Default local base directory, inside ConfigDirName
	DefaultDataDirName = "data"
	// Default record database directory, inside ConfigDirName
	DefaultRemoteDirName = "remote"
	// RemoteDir value selecting an in-memory record database
	InMemoryRemoteDir = "memory"
)

// Engine defaults
const (
	DefaultBodyCacheSize    = cache.DefaultBodyCacheSize
	DefaultFreshnessTimeout = cloudsync.DefaultFreshnessTimeout
	DefaultPollInterval     = cloudsync.DefaultPollInterval
	DefaultChatModel        = llm.DefaultChatModel
	DefaultVisionModel      = llm.DefaultVisionModel
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
)

// Server configuration constants
const (
	// MCP server name
	ServerName = "chatstore"
	// Server version following semantic versioning
	ServerVersion = "0.4.0"
	// Upper bound for a single tool call that talks to a model
	ModelCallTimeout = 2 * time.Minute
)

// Listing constants
const (
	// Maximum snippet length in transcript and list output
	MaxSnippetLength = 60
)

// UI/CLI messages
const (
	PromptStr     = "chat> "
	WelcomeMsg    = "=== chatstore interactive mode ==="
	HelpMsg       = "Commands: list [all] | new | open <id> | say <text> | show | rename <id> <title> | archive <id> | unarchive <id> | delete <id> | attach <path> | ask <image> <question> | agents | agent <id|none> | sync | status | exit"
	UnknownCmdMsg = "Unknown command. Type help for the command list."
)

// Status messages
const (
	NoConversationsMsg    = "No conversations yet."
	NoAgentsMsg           = "No agents defined."
	NoModelMsg            = "Message saved. No model is configured, so no reply was generated."
	SyncDisabledMsg       = "Sync is disabled: the record database could not be opened."
	NoConversationOpenMsg = "No conversation is open. Use new or open <id> first."
)
