// Package remote defines the remote record layer the sync manager talks to
// and a badger-backed implementation of it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrRemoteUnavailable means the remote authority cannot be reached.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrInvalidPath is returned for record paths outside the synced tree.
	ErrInvalidPath = errors.New("invalid record path")
)

// DownloadStatus is the per-file download state reported by the remote layer.
type DownloadStatus int

const (
	StatusNotDownloaded DownloadStatus = iota
	StatusDownloading
	StatusCurrent
)

func (s DownloadStatus) String() string {
	switch s {
	case StatusNotDownloaded:
		return "not-downloaded"
	case StatusDownloading:
		return "downloading"
	case StatusCurrent:
		return "current"
	}
	return fmt.Sprintf("DownloadStatus(%d)", int(s))
}

// Record is one synced file. Path is relative to the local base directory
// and uses forward slashes.
type Record struct {
	Path     string    `json:"path"`
	Data     []byte    `json:"data"`
	ModTime  time.Time `json:"modTime"`
	Checksum uint64    `json:"checksum"`
}

// RecordInfo describes a record without its payload.
type RecordInfo struct {
	Path     string    `json:"path"`
	ModTime  time.Time `json:"modTime"`
	Size     int       `json:"size"`
	Checksum uint64    `json:"checksum"`
}

// Store is the remote record layer.
type Store interface {
	// StartDownload asks for the latest remote version of path to be
	// materialized locally. It returns before the download completes.
	StartDownload(ctx context.Context, path string) error

	// DownloadStatus reports how far the local copy of path is from current.
	DownloadStatus(ctx context.Context, path string) (DownloadStatus, error)

	// Upload publishes the local file at path as the remote record.
	Upload(ctx context.Context, path string) error

	// Remove deletes the remote record. Missing records are not an error.
	Remove(ctx context.Context, path string) error

	// List describes every remote record.
	List(ctx context.Context) ([]RecordInfo, error)

	// Pull returns the full remote record set.
	Pull(ctx context.Context) ([]Record, error)

	// Push writes records to the remote, replacing existing ones.
	Push(ctx context.Context, records []Record) error
}

// Checksum is the content hash used to compare local and remote copies.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// CleanPath validates a record path and returns it in canonical form.
func CleanPath(p string) (string, error) {
	if p == "" || strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}
