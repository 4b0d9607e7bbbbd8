// Package plan implements the session-scoped plan review editor. It holds a
// local editable copy of a generated plan's user stories, split into feature
// and implementation groups, and rebuilds the wire form on approval. Nothing
// here persists; the buffer lives only until approval is submitted.
package plan

import (
	"fmt"
	"strings"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	berrors "github.com/liquidcrypto/liquidos-builder/internal/errors"
)

// InternalPrefix tags implementation stories on the wire. Matching is
// case-sensitive and exact-prefix.
const InternalPrefix = "[internal]"

// Group selects one of the two editable story lists.
type Group int

const (
	GroupFeature Group = iota
	GroupImplementation
)

// Story is an editable copy of one user story, prefix stripped for display.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

// Review is the editable plan buffer for one awaiting-review session.
type Review struct {
	Feature        []Story
	Implementation []Story
}

// IsInternal reports whether s carries the implementation tag.
func IsInternal(s string) bool {
	return strings.HasPrefix(s, InternalPrefix)
}

// StripTag removes the implementation tag and one following space, if present.
func StripTag(s string) string {
	if !IsInternal(s) {
		return s
	}
	s = s[len(InternalPrefix):]
	return strings.TrimPrefix(s, " ")
}

// Tag adds the implementation tag unless it is already present. Re-tagging
// an already tagged string never double-prefixes.
func Tag(s string) string {
	if IsInternal(s) {
		return s
	}
	return InternalPrefix + " " + s
}

// NewReview partitions a plan's user stories into the two editable groups.
// Returns an empty review when the plan or its PRD is absent.
func NewReview(p *builder.Plan) *Review {
	r := &Review{}
	if p == nil {
		return r
	}
	for _, us := range p.PRD.UserStories {
		s := Story{
			ID:                 us.ID,
			Title:              StripTag(us.Title),
			Description:        StripTag(us.Description),
			AcceptanceCriteria: append([]string(nil), us.AcceptanceCriteria...),
		}
		if IsInternal(us.Title) {
			r.Implementation = append(r.Implementation, s)
		} else {
			r.Feature = append(r.Feature, s)
		}
	}
	return r
}

// NextID returns the next story id, zero-padded sequential over both groups
// combined. IDs are only unique within one review session.
func (r *Review) NextID() string {
	return fmt.Sprintf("US-%03d", len(r.Feature)+len(r.Implementation)+1)
}

// AddStory appends a blank story to the chosen group and returns it.
func (r *Review) AddStory(g Group) *Story {
	s := Story{ID: r.NextID()}
	if g == GroupImplementation {
		r.Implementation = append(r.Implementation, s)
		return &r.Implementation[len(r.Implementation)-1]
	}
	r.Feature = append(r.Feature, s)
	return &r.Feature[len(r.Feature)-1]
}

// RemoveStory deletes the story with the given id from either group.
func (r *Review) RemoveStory(id string) error {
	for i, s := range r.Feature {
		if s.ID == id {
			r.Feature = append(r.Feature[:i], r.Feature[i+1:]...)
			return nil
		}
	}
	for i, s := range r.Implementation {
		if s.ID == id {
			r.Implementation = append(r.Implementation[:i], r.Implementation[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("story %s: %w", id, berrors.ErrNotFound)
}

// Find returns the story with the given id, or nil.
func (r *Review) Find(id string) *Story {
	for i := range r.Feature {
		if r.Feature[i].ID == id {
			return &r.Feature[i]
		}
	}
	for i := range r.Implementation {
		if r.Implementation[i].ID == id {
			return &r.Implementation[i]
		}
	}
	return nil
}

// UpdateStory replaces the title and description of the story with the
// given id.
func (r *Review) UpdateStory(id, title, description string) error {
	s := r.Find(id)
	if s == nil {
		return fmt.Errorf("story %s: %w", id, berrors.ErrNotFound)
	}
	s.Title = title
	s.Description = description
	return nil
}

// AddCriterion appends an acceptance-criteria line to a story.
func (r *Review) AddCriterion(id, text string) error {
	s := r.Find(id)
	if s == nil {
		return fmt.Errorf("story %s: %w", id, berrors.ErrNotFound)
	}
	s.AcceptanceCriteria = append(s.AcceptanceCriteria, text)
	return nil
}

// RemoveCriterion deletes acceptance-criteria line i from a story.
func (r *Review) RemoveCriterion(id string, i int) error {
	s := r.Find(id)
	if s == nil {
		return fmt.Errorf("story %s: %w", id, berrors.ErrNotFound)
	}
	if i < 0 || i >= len(s.AcceptanceCriteria) {
		return fmt.Errorf("criterion %d out of range: %w", i, berrors.ErrInvalidInput)
	}
	s.AcceptanceCriteria = append(s.AcceptanceCriteria[:i], s.AcceptanceCriteria[i+1:]...)
	return nil
}

// UpdateCriterion replaces acceptance-criteria line i of a story.
func (r *Review) UpdateCriterion(id string, i int, text string) error {
	s := r.Find(id)
	if s == nil {
		return fmt.Errorf("story %s: %w", id, berrors.ErrNotFound)
	}
	if i < 0 || i >= len(s.AcceptanceCriteria) {
		return fmt.Errorf("criterion %d out of range: %w", i, berrors.ErrInvalidInput)
	}
	s.AcceptanceCriteria[i] = text
	return nil
}

// Submission rebuilds the wire-form story list: implementation stories are
// re-tagged on title and description, feature stories pass through unchanged.
func (r *Review) Submission() []builder.UserStory {
	out := make([]builder.UserStory, 0, len(r.Feature)+len(r.Implementation))
	for _, s := range r.Feature {
		out = append(out, builder.UserStory{
			ID:                 s.ID,
			Title:              s.Title,
			Description:        s.Description,
			AcceptanceCriteria: append([]string(nil), s.AcceptanceCriteria...),
		})
	}
	for _, s := range r.Implementation {
		desc := s.Description
		if desc != "" {
			desc = Tag(desc)
		}
		out = append(out, builder.UserStory{
			ID:                 s.ID,
			Title:              Tag(s.Title),
			Description:        desc,
			AcceptanceCriteria: append([]string(nil), s.AcceptanceCriteria...),
		})
	}
	return out
}
