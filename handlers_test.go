package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DatanoiseTV/chatstore/internal/llm"
	"github.com/DatanoiseTV/chatstore/internal/model"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type fakeCompleter struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f.Stream(ctx, req, func(string) error { return nil })
}

func (f *fakeCompleter) Stream(ctx context.Context, req llm.Request, onDelta func(delta string) error) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	var sb strings.Builder
	for _, c := range f.chunks {
		if err := onDelta(c); err != nil {
			return sb.String(), err
		}
		sb.WriteString(c)
	}
	return sb.String(), f.err
}

func (f *fakeCompleter) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeAnalyzer struct {
	calls  int
	answer string
}

func (f *fakeAnalyzer) AnalyzeImage(ctx context.Context, base64Image, mimeType, question string) (string, error) {
	f.calls++
	if mimeType != "image/png" {
		return "", errors.New("unexpected mime type " + mimeType)
	}
	return f.answer, nil
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &Config{
		DataDir:       t.TempDir(),
		RemoteDir:     InMemoryRemoteDir,
		BodyCacheSize: 8,
		Gemini:        GeminiConfig{ChatModel: "test-model"},
		Sync: SyncConfig{
			FreshnessTimeout: Duration(2 * time.Second),
			PollInterval:     Duration(10 * time.Millisecond),
		},
	}
	a, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func call(t *testing.T, a *App, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := a.callTool(context.Background(), name, args)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestToolsAreRegistered(t *testing.T) {
	a := newTestApp(t)
	names := map[string]bool{}
	for _, td := range a.tools() {
		assert.False(t, names[td.tool.Name], "duplicate tool %s", td.tool.Name)
		names[td.tool.Name] = true
	}
	for _, want := range []string{
		"list_conversations", "show_conversation", "send_message", "rename_conversation",
		"archive_conversation", "delete_conversation", "attach_image", "analyze_image",
		"list_agents", "save_agent", "delete_agent", "sync_now", "sync_status",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}

	_, err := a.callTool(context.Background(), "no_such_tool", nil)
	assert.Error(t, err)
	assert.NotNil(t, a.NewMCPServer())
}

func TestSendMessageWithoutModel(t *testing.T) {
	a := newTestApp(t)

	res := call(t, a, "send_message", map[string]any{"text": "Plan a trip to Lisbon"})
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), NoModelMsg)

	convs := a.cache.Conversations(false)
	require.Len(t, convs, 1)
	assert.Equal(t, "Plan a trip to Lisbon", convs[0].Title)
	assert.Equal(t, "test-model", convs[0].ModelUsed)

	res = call(t, a, "show_conversation", map[string]any{"id": convs[0].ID})
	assert.Contains(t, resultText(res), "user: Plan a trip to Lisbon")
}

func TestSendMessageStreamsReply(t *testing.T) {
	a := newTestApp(t)
	fc := &fakeCompleter{chunks: []string{"Sure", ", here", " is a plan."}}
	a.completer = fc

	agent, err := a.agents.SaveAgent(model.Agent{Name: "Travel", SystemPrompt: "Be brief."})
	require.NoError(t, err)

	res := call(t, a, "send_message", map[string]any{"text": "Plan a trip", "agent_id": agent.ID})
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Sure, here is a plan.")

	req := fc.lastRequest()
	assert.Equal(t, "Be brief.", req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, model.RoleUser, req.Messages[0].Role)

	convs := a.cache.Conversations(false)
	require.Len(t, convs, 1)
	id := convs[0].ID
	require.NotNil(t, convs[0].AgentUsed)
	assert.Equal(t, agent.ID, *convs[0].AgentUsed)

	// The committed reply is on disk, not only in memory.
	msgs, err := a.conversations.LoadMessages(convs[0].UUID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Sure, here is a plan.", msgs[1].Text)

	// A follow-up carries the whole history.
	res = call(t, a, "send_message", map[string]any{"id": id, "text": "Shorter please"})
	require.False(t, res.IsError, resultText(res))
	assert.Len(t, fc.lastRequest().Messages, 3)
}

func TestSendMessageModelFailureKeepsPartialReply(t *testing.T) {
	a := newTestApp(t)
	a.completer = &fakeCompleter{chunks: []string{"Half an"}, err: errors.New("connection reset")}

	res := call(t, a, "send_message", map[string]any{"text": "Hello"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "connection reset")

	convs := a.cache.Conversations(false)
	require.Len(t, convs, 1)
	msgs, err := a.conversations.LoadMessages(convs[0].UUID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Half an", msgs[1].Text)
}

func TestSendMessageUnknownTargets(t *testing.T) {
	a := newTestApp(t)

	res := call(t, a, "send_message", map[string]any{"id": 42, "text": "hi"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "not found")

	res = call(t, a, "send_message", map[string]any{"text": "hi", "agent_id": "ghost"})
	assert.True(t, res.IsError)

	res = call(t, a, "send_message", map[string]any{"text": "   "})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "Invalid arguments")
}

func TestConversationLifecycleTools(t *testing.T) {
	a := newTestApp(t)

	call(t, a, "send_message", map[string]any{"text": "first"})
	call(t, a, "send_message", map[string]any{"text": "second"})
	convs := a.cache.Conversations(false)
	require.Len(t, convs, 2)
	first, second := convs[1], convs[0]

	res := call(t, a, "rename_conversation", map[string]any{"id": first.ID, "title": "  Renamed  "})
	require.False(t, res.IsError, resultText(res))
	index, err := a.conversations.LoadIndex()
	require.NoError(t, err)
	titles := map[string]string{}
	for _, m := range index {
		titles[m.UUID] = m.Title
	}
	assert.Equal(t, "Renamed", titles[first.UUID])

	res = call(t, a, "archive_conversation", map[string]any{"id": second.ID, "archived": true})
	require.False(t, res.IsError, resultText(res))
	listed := resultText(call(t, a, "list_conversations", nil))
	assert.NotContains(t, listed, "second")
	listed = resultText(call(t, a, "list_conversations", map[string]any{"include_archived": true}))
	assert.Contains(t, listed, "[archived]")

	res = call(t, a, "delete_conversation", map[string]any{"id": first.ID})
	require.False(t, res.IsError, resultText(res))
	_, err = os.Stat(filepath.Join(a.cfg.DataDir, store.MessagesFile(first.UUID)))
	assert.True(t, os.IsNotExist(err))

	res = call(t, a, "show_conversation", map[string]any{"id": first.ID})
	assert.True(t, res.IsError)
}

func TestListConversationsEmpty(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, NoConversationsMsg, resultText(call(t, a, "list_conversations", nil)))
}

func TestAnalyzeImageUsesQACache(t *testing.T) {
	a := newTestApp(t)
	fa := &fakeAnalyzer{answer: "A cat on a sofa."}
	a.analyzer = fa

	call(t, a, "send_message", map[string]any{"text": "look at this"})
	id := a.cache.Conversations(false)[0].ID

	res := call(t, a, "attach_image", map[string]any{"id": id, "image_base64": base64.StdEncoding.EncodeToString(pngHeader)})
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "image/png")

	fields := strings.Fields(resultText(res))
	require.GreaterOrEqual(t, len(fields), 2)
	filename := fields[1]
	assert.True(t, strings.HasSuffix(filename, ".png"), filename)

	args := map[string]any{"id": id, "image": filename, "question": "What is in the picture?"}
	res = call(t, a, "analyze_image", args)
	require.False(t, res.IsError, resultText(res))
	assert.Equal(t, "A cat on a sofa.", resultText(res))

	args["question"] = "  what is in the PICTURE?"
	res = call(t, a, "analyze_image", args)
	require.False(t, res.IsError, resultText(res))
	assert.Equal(t, "A cat on a sofa.\n(cached)", resultText(res))
	assert.Equal(t, 1, fa.calls)

	res = call(t, a, "analyze_image", map[string]any{"id": id, "image": "missing.png", "question": "?"})
	assert.True(t, res.IsError)
}

func TestAttachImageFromPath(t *testing.T) {
	a := newTestApp(t)
	call(t, a, "send_message", map[string]any{"text": "pic"})
	id := a.cache.Conversations(false)[0].ID

	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	res := call(t, a, "attach_image", map[string]any{"id": id, "path": path})
	assert.False(t, res.IsError, resultText(res))

	res = call(t, a, "attach_image", map[string]any{"id": id, "path": filepath.Join(t.TempDir(), "missing.png")})
	assert.True(t, res.IsError)

	res = call(t, a, "attach_image", map[string]any{"id": id, "image_base64": "%%%"})
	assert.True(t, res.IsError)
}

func TestAgentTools(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, NoAgentsMsg, resultText(call(t, a, "list_agents", nil)))

	res := call(t, a, "save_agent", map[string]any{
		"id": "coder", "name": "Coder", "icon": "🛠", "model": "pro", "shown_in_sidebar": true,
		"system_prompt": "You write Go.",
	})
	require.False(t, res.IsError, resultText(res))
	call(t, a, "save_agent", map[string]any{"name": "Hidden"})

	listed := resultText(call(t, a, "list_agents", nil))
	assert.Contains(t, listed, "2 agents")
	assert.Contains(t, listed, "model: pro")
	listed = resultText(call(t, a, "list_agents", map[string]any{"sidebar_only": true}))
	assert.Contains(t, listed, "1 agents")

	// Agent model applies to a new conversation when none is given.
	call(t, a, "send_message", map[string]any{"text": "hello", "agent_id": "coder"})
	assert.Equal(t, "pro", a.cache.Conversations(false)[0].ModelUsed)

	agentID := "coder"
	a.cache.SelectAgent(&agentID)
	res = call(t, a, "delete_agent", map[string]any{"id": "coder"})
	require.False(t, res.IsError, resultText(res))
	assert.Nil(t, a.cache.SelectedAgent())

	res = call(t, a, "delete_agent", map[string]any{"id": "coder"})
	assert.True(t, res.IsError)
}

func TestSyncTools(t *testing.T) {
	a := newTestApp(t)
	call(t, a, "send_message", map[string]any{"text": "sync me"})

	res := call(t, a, "sync_now", nil)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Sync complete")

	res = call(t, a, "sync_status", map[string]any{"include_diff": true})
	require.False(t, res.IsError, resultText(res))

	var report SyncReport
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &report))
	assert.False(t, report.Status.Running)
	assert.False(t, report.Loading)
	require.NotNil(t, report.Diff)
	assert.Empty(t, report.Diff.LocalOnly)
}

func TestSyncToolsDisabled(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Close())
	a.remote, a.sync = nil, nil

	assert.True(t, call(t, a, "sync_now", nil).IsError)
	assert.True(t, call(t, a, "sync_status", nil).IsError)
}
