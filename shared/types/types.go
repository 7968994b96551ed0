// Package shared holds the request and response bodies of the HTTP API.
package shared

import (
	"geotig/internal/object"
)

type StatusResponse struct {
	Head     string `json:"head"`
	Tree     string `json:"tree"`
	Unstaged int    `json:"unstaged"`
	Staged   int    `json:"staged"`
}

// StageRequest promotes unstaged records under Prefix. An empty prefix
// stages everything.
type StageRequest struct {
	Prefix []string `json:"prefix,omitempty"`
}

type StageResponse struct {
	Staged int `json:"staged"`
}

// WriteTreeRequest applies the staged changes on top of Target, a ref name
// or a hex id. Empty means HEAD.
type WriteTreeRequest struct {
	Target string `json:"target,omitempty"`
}

type WriteTreeResponse struct {
	Tree   string              `json:"tree"`
	Bounds *object.BoundingBox `json:"bounds,omitempty"`
}

type CommitRequest struct {
	Author  string `json:"author"`
	Message string `json:"message"`
}

type CommitResponse struct {
	ID     string              `json:"id"`
	Tree   string              `json:"tree"`
	Parent string              `json:"parent,omitempty"`
	Bounds *object.BoundingBox `json:"bounds,omitempty"`
}

type LogEntry struct {
	ID        string `json:"id"`
	Tree      string `json:"tree"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Change is one differing path in a diff listing
type Change struct {
	Path      []string            `json:"path"`
	Type      string              `json:"type"`
	Kind      string              `json:"kind"`
	OldTarget string              `json:"old_target,omitempty"`
	NewTarget string              `json:"new_target,omitempty"`
	Bounds    *object.BoundingBox `json:"bounds,omitempty"`
	Diff      string              `json:"diff,omitempty"`
	DiffHunks []DiffHunk          `json:"diff_hunks,omitempty"`
}

// DiffHunk represents a section of changes
type DiffHunk struct {
	OldStart int      `json:"old_start"`
	OldLines int      `json:"old_lines"`
	NewStart int      `json:"new_start"`
	NewLines int      `json:"new_lines"`
	Lines    []string `json:"lines"`
}

type Summary struct {
	Added    int                 `json:"added"`
	Modified int                 `json:"modified"`
	Deleted  int                 `json:"deleted"`
	Bounds   *object.BoundingBox `json:"bounds,omitempty"`
}

type DiffResponse struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Changes []Change `json:"changes"`
	Summary Summary  `json:"summary"`
}

type TreeEntry struct {
	Path   []string            `json:"path"`
	Kind   string              `json:"kind"`
	Target string              `json:"target"`
	Bounds *object.BoundingBox `json:"bounds,omitempty"`
}

type TreeResponse struct {
	Tree    string      `json:"tree"`
	Entries []TreeEntry `json:"entries"`
}
