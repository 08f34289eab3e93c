package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/DatanoiseTV/chatstore/internal/remote"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

// Report classifies the synced files by where they exist.
type Report struct {
	RemoteOnly []string `json:"remoteOnly"`
	LocalOnly  []string `json:"localOnly"`
	Divergent  []string `json:"divergent"`
	InSync     int      `json:"inSync"`
}

// Clean reports whether local and remote hold the same files.
func (r Report) Clean() bool {
	return len(r.RemoteOnly) == 0 && len(r.LocalOnly) == 0 && len(r.Divergent) == 0
}

type localFile struct {
	checksum uint64
	modTime  time.Time
}

// Diff compares the local synced files against the remote record set.
func (m *Manager) Diff(ctx context.Context) (Report, error) {
	report, _, _, err := m.diff(ctx)
	return report, err
}

func (m *Manager) diff(ctx context.Context) (Report, map[string]localFile, map[string]remote.RecordInfo, error) {
	infos, err := m.remote.List(ctx)
	if err != nil {
		return Report{}, nil, nil, err
	}
	remoteFiles := make(map[string]remote.RecordInfo, len(infos))
	for _, info := range infos {
		remoteFiles[info.Path] = info
	}

	localFiles, err := m.scanLocal()
	if err != nil {
		return Report{}, nil, nil, err
	}

	report := Report{RemoteOnly: []string{}, LocalOnly: []string{}, Divergent: []string{}}
	for p, lf := range localFiles {
		info, ok := remoteFiles[p]
		switch {
		case !ok:
			report.LocalOnly = append(report.LocalOnly, p)
		case info.Checksum != lf.checksum:
			report.Divergent = append(report.Divergent, p)
		default:
			report.InSync++
		}
	}
	for p := range remoteFiles {
		if _, ok := localFiles[p]; !ok {
			report.RemoteOnly = append(report.RemoteOnly, p)
		}
	}
	sort.Strings(report.RemoteOnly)
	sort.Strings(report.LocalOnly)
	sort.Strings(report.Divergent)
	return report, localFiles, remoteFiles, nil
}

// scanLocal hashes the index, the agents file and every message file.
// Attachments are device-local and never synced.
func (m *Manager) scanLocal() (map[string]localFile, error) {
	files := make(map[string]localFile)

	add := func(rel string) error {
		full := filepath.Join(m.baseDir, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", rel, err)
		}
		files[rel] = localFile{checksum: remote.Checksum(data), modTime: info.ModTime()}
		return nil
	}

	for _, rel := range []string{store.IndexFile, store.AgentsFile} {
		if err := add(rel); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(filepath.Join(m.baseDir, store.ConversationsDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := add(path.Join(store.ConversationsDir, e.Name())); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// PushLocal uploads local-only files and divergent files whose local copy
// was modified after the remote one. It returns the uploaded paths.
func (m *Manager) PushLocal(ctx context.Context) ([]string, error) {
	report, localFiles, remoteFiles, err := m.diff(ctx)
	if err != nil {
		return nil, err
	}

	candidates := append([]string{}, report.LocalOnly...)
	for _, p := range report.Divergent {
		if localFiles[p].modTime.After(remoteFiles[p].ModTime) {
			candidates = append(candidates, p)
		}
	}

	pushed := []string{}
	var errs []error
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return pushed, err
		}
		if err := m.remote.Upload(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		pushed = append(pushed, p)
	}
	m.logger.Info().Int("pushed", len(pushed)).Int("failed", len(errs)).Msg("pushed local files")
	return pushed, errors.Join(errs...)
}
