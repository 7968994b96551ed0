package repository

import (
	"time"

	"geotig/internal/object"
)

const (
	DirName    = ".geotig"
	ConfigName = "config.toml"
	HeadRef    = "HEAD"

	metadataID = "repository"
	version    = "1"
)

// Metadata describes a repository. It is stored once, when the database is
// first opened.
type Metadata struct {
	Version    string    `json:"version"`
	Created    time.Time `json:"created"`
	Root       string    `json:"root"`
	LastCommit time.Time `json:"last_commit,omitempty"`
}

func (m *Metadata) GetID() string { return metadataID }

// CommitResult is what Commit produced.
type CommitResult struct {
	ID     object.ContentId    `json:"id"`
	Tree   object.ContentId    `json:"tree"`
	Parent object.ContentId    `json:"parent"`
	Bounds *object.BoundingBox `json:"bounds,omitempty"`
}

// LogEntry is one commit in a history listing.
type LogEntry struct {
	ID     object.ContentId `json:"id"`
	Commit *object.Commit   `json:"commit"`
}

// Status summarizes the staging area against HEAD.
type Status struct {
	Head     object.ContentId `json:"head"`
	Tree     object.ContentId `json:"tree"`
	Unstaged int              `json:"unstaged"`
	Staged   int              `json:"staged"`
}
