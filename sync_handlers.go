package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DatanoiseTV/chatstore/internal/cloudsync"
)

// SyncReport is the sync_status result.
type SyncReport struct {
	Status   cloudsync.Status  `json:"status"`
	Loading  bool              `json:"loading"`
	Progress float64           `json:"progress"`
	Diff     *cloudsync.Report `json:"diff,omitempty"`
}

// syncNowHandler handles sync_now.
func (a *App) syncNowHandler(ctx context.Context, args NoArgs) (*mcp.CallToolResult, error) {
	if a.sync == nil {
		return mcp.NewToolResultError(SyncDisabledMsg), nil
	}
	if err := a.sync.PerformFullSync(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sync finished with errors: %v", err)), nil
	}

	result := a.sync.Status().LastResult
	return mcp.NewToolResultText(fmt.Sprintf("Sync complete: %d added, %d removed, %d updated, %d kept local.",
		result.Added, result.Removed, result.Updated, result.LocalWins)), nil
}

// syncStatusHandler handles sync_status.
func (a *App) syncStatusHandler(ctx context.Context, args SyncStatusArgs) (*mcp.CallToolResult, error) {
	if a.sync == nil {
		return mcp.NewToolResultError(SyncDisabledMsg), nil
	}

	report := SyncReport{Status: a.sync.Status()}
	report.Loading, report.Progress = a.cache.Progress()
	if args.IncludeDiff {
		diff, err := a.sync.Diff(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Diff failed: %v", err)), nil
		}
		report.Diff = &diff
	}
	return mcp.NewToolResultJSON(report)
}
