package domain

import (
	"sort"
	"strings"
)

// InboundEvent is a push notification as received on the webhook endpoint.
// It is built once per request and never mutated.
type InboundEvent struct {
	Body       []byte     `json:"-"`
	Signature  string     `json:"-"`
	DeliveryID string     `json:"-"`
	EventType  string     `json:"-"`
	Ref        string     `json:"ref"`
	Before     string     `json:"before,omitempty"`
	After      string     `json:"after,omitempty"`
	Commits    []Commit   `json:"commits"`
	HeadCommit *Commit    `json:"head_commit,omitempty"`
	Repository Repository `json:"repository"`
	Pusher     Pusher     `json:"pusher"`
}

// Commit lists the file changes of a single commit.
type Commit struct {
	ID       string   `json:"id,omitempty"`
	Message  string   `json:"message,omitempty"`
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// Repository identifies the pushed repository.
type Repository struct {
	Name     string `json:"name,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// Pusher identifies who pushed.
type Pusher struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ChangeSet is the de-duplicated set of paths touched by a push.
type ChangeSet map[string]struct{}

// NewChangeSet builds a ChangeSet from paths, normalising each one.
func NewChangeSet(paths ...string) ChangeSet {
	set := make(ChangeSet, len(paths))
	for _, p := range paths {
		set.Add(p)
	}
	return set
}

// Add inserts a path. Blank paths are ignored.
func (c ChangeSet) Add(path string) {
	path = NormalizePath(path)
	if path == "" {
		return
	}
	c[path] = struct{}{}
}

// Contains reports membership.
func (c ChangeSet) Contains(path string) bool {
	_, ok := c[NormalizePath(path)]
	return ok
}

// Len returns the number of distinct paths.
func (c ChangeSet) Len() int { return len(c) }

// Paths returns the members in lexical order.
func (c ChangeSet) Paths() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// NormalizePath trims whitespace and a leading "./" or "/".
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "./")
	return strings.TrimLeft(path, "/")
}
