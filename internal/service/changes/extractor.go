package changes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

const (
	headsPrefix = "refs/heads/"
	refsPrefix  = "refs/"
)

// Extractor turns inbound events into a branch and a ChangeSet, filtering
// branches against an allow-list.
type Extractor struct {
	allowed      map[string]struct{}
	environments map[string]string
}

// New constructs an Extractor. environments maps branch names to deployment
// environments; allowed branches without an entry deploy to an environment
// named after the branch.
func New(allowed []string, environments map[string]string) Extractor {
	set := make(map[string]struct{}, len(allowed))
	for _, b := range allowed {
		b = strings.TrimSpace(b)
		if b != "" {
			set[b] = struct{}{}
		}
	}
	envs := make(map[string]string, len(environments))
	for k, v := range environments {
		envs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return Extractor{allowed: set, environments: envs}
}

// Parse decodes a raw webhook body.
func Parse(body []byte) (domain.InboundEvent, error) {
	var event domain.InboundEvent
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return event, fmt.Errorf("%w: body is not a JSON object", domain.ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	event.Body = body
	return event, nil
}

// BranchFromRef strips the heads prefix. Refs outside refs/heads (tags,
// notes) report ok=false.
func BranchFromRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", false
	case strings.HasPrefix(ref, headsPrefix):
		branch := strings.TrimPrefix(ref, headsPrefix)
		return branch, branch != ""
	case strings.HasPrefix(ref, refsPrefix):
		return ref, false
	default:
		return ref, true
	}
}

// Allowed reports whether branch is deployable.
func (e Extractor) Allowed(branch string) bool {
	_, ok := e.allowed[branch]
	return ok
}

// Environment resolves the deployment environment for an allowed branch.
func (e Extractor) Environment(branch string) string {
	if env, ok := e.environments[branch]; ok && env != "" {
		return env
	}
	return branch
}

// Extract returns the short branch name and the flattened change set. A
// branch outside the allow-list yields domain.ErrBranchIgnored together with
// the branch name so callers can report it.
func (e Extractor) Extract(event domain.InboundEvent) (string, domain.ChangeSet, error) {
	branch, isBranch := BranchFromRef(event.Ref)
	if !isBranch || !e.Allowed(branch) {
		return branch, nil, fmt.Errorf("%w: %q", domain.ErrBranchIgnored, branch)
	}
	return branch, Flatten(event), nil
}

// Flatten merges the added, modified and removed lists of every commit.
// When the event carries no commits the head commit is used, if present.
func Flatten(event domain.InboundEvent) domain.ChangeSet {
	set := domain.NewChangeSet()
	commits := event.Commits
	if len(commits) == 0 && event.HeadCommit != nil {
		commits = []domain.Commit{*event.HeadCommit}
	}
	for _, c := range commits {
		for _, p := range c.Added {
			set.Add(p)
		}
		for _, p := range c.Modified {
			set.Add(p)
		}
		for _, p := range c.Removed {
			set.Add(p)
		}
	}
	return set
}
