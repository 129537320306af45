package schemas

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const branchRefPrefix = "refs/heads/"

// PushEvent is the normalized form of a GitHub push webhook payload. It is
// constructed once per inbound request and never mutated afterwards.
type PushEvent struct {
	Repository    string // "owner/name"
	Ref           string // e.g. "refs/heads/master"
	CommitSHA     string // head commit of the push
	CommitMessage string
}

// pushPayload mirrors the subset of the GitHub push event body we care about.
type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"head_commit"`
}

// ParseRepositoryIdentity extracts only the "owner/name" identity from a raw
// webhook body. It deliberately tolerates otherwise incomplete payloads: the
// identity is needed up-front to resolve the per-repository secret before the
// body can be trusted for anything else.
func ParseRepositoryIdentity(body []byte) (string, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.Wrap(err, "decoding webhook payload")
	}

	if payload.Repository.FullName == "" {
		return "", errors.New("payload does not name a repository")
	}

	return payload.Repository.FullName, nil
}

// NewPushEvent decodes and validates an authenticated push payload.
func NewPushEvent(body []byte) (e PushEvent, err error) {
	var payload pushPayload
	if err = json.Unmarshal(body, &payload); err != nil {
		return e, errors.Wrap(err, "decoding push payload")
	}

	switch {
	case payload.Repository.FullName == "":
		return e, errors.New("push payload does not name a repository")
	case payload.Ref == "":
		return e, errors.New("push payload does not carry a ref")
	case payload.After == "":
		return e, errors.New("push payload does not carry a head commit")
	}

	e = PushEvent{
		Repository: payload.Repository.FullName,
		Ref:        payload.Ref,
		CommitSHA:  payload.After,
	}

	if payload.HeadCommit != nil {
		e.CommitMessage = strings.TrimSpace(payload.HeadCommit.Message)
	}

	return e, nil
}

// Branch returns the branch name of the pushed ref, or false when the ref is
// not a branch (tags, notes, ..).
func (e PushEvent) Branch() (string, bool) {
	return strings.CutPrefix(e.Ref, branchRefPrefix)
}

// TargetsBranch returns whether the event is a push to the given branch.
func (e PushEvent) TargetsBranch(branch string) bool {
	name, ok := e.Branch()

	return ok && name == branch
}
