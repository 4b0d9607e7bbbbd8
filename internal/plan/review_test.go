package plan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
)

func samplePlan() *builder.Plan {
	return &builder.Plan{
		PRD: builder.PRD{
			UserStories: []builder.UserStory{
				{ID: "US-001", Title: "Search flights", Description: "As a user...", AcceptanceCriteria: []string{"results in < 2s"}},
				{ID: "US-002", Title: "[internal] Setup DB", Description: "[internal] Provision schema"},
				{ID: "US-003", Title: "Book a trip"},
			},
		},
	}
}

func TestNewReview_Partition(t *testing.T) {
	r := NewReview(samplePlan())

	require.Len(t, r.Feature, 2)
	require.Len(t, r.Implementation, 1)
	assert.Equal(t, "Search flights", r.Feature[0].Title)
	assert.Equal(t, "Setup DB", r.Implementation[0].Title)
	assert.Equal(t, "Provision schema", r.Implementation[0].Description)
}

func TestNewReview_NilPlan(t *testing.T) {
	r := NewReview(nil)
	assert.Empty(t, r.Feature)
	assert.Empty(t, r.Implementation)
	assert.Equal(t, "US-001", r.NextID())
}

func TestTagging(t *testing.T) {
	assert.Equal(t, "[internal] Setup DB", Tag("Setup DB"))
	// Tagging twice never double-prefixes.
	assert.Equal(t, "[internal] Setup DB", Tag(Tag("Setup DB")))
	assert.Equal(t, "Setup DB", StripTag("[internal] Setup DB"))
	assert.Equal(t, "Setup DB", StripTag("Setup DB"))
	// Prefix match is case-sensitive and exact.
	assert.Equal(t, "[Internal] Setup DB", StripTag("[Internal] Setup DB"))
	assert.False(t, IsInternal("[Internal] Setup DB"))
}

func TestAddStory_SequentialIDs(t *testing.T) {
	r := NewReview(&builder.Plan{
		PRD: builder.PRD{UserStories: []builder.UserStory{
			{ID: "US-001", Title: "A"},
			{ID: "US-002", Title: "[internal] B"},
		}},
	})

	s := r.AddStory(GroupFeature)
	assert.Equal(t, "US-003", s.ID)

	// Pad the review to 11 stories total; the 12th id is zero-padded.
	for i := 0; i < 8; i++ {
		r.AddStory(GroupImplementation)
	}
	s = r.AddStory(GroupFeature)
	assert.Equal(t, "US-012", s.ID)
}

func TestRemoveStory(t *testing.T) {
	r := NewReview(samplePlan())
	require.NoError(t, r.RemoveStory("US-002"))
	assert.Empty(t, r.Implementation)
	assert.Error(t, r.RemoveStory("US-099"))
}

func TestCriteriaEditing(t *testing.T) {
	r := NewReview(samplePlan())

	require.NoError(t, r.AddCriterion("US-001", "handles empty query"))
	assert.Equal(t, []string{"results in < 2s", "handles empty query"}, r.Find("US-001").AcceptanceCriteria)

	require.NoError(t, r.UpdateCriterion("US-001", 0, "results in < 1s"))
	assert.Equal(t, "results in < 1s", r.Find("US-001").AcceptanceCriteria[0])

	require.NoError(t, r.RemoveCriterion("US-001", 1))
	assert.Equal(t, []string{"results in < 1s"}, r.Find("US-001").AcceptanceCriteria)

	assert.Error(t, r.RemoveCriterion("US-001", 5))
	assert.Error(t, r.AddCriterion("US-099", "x"))
}

func TestSubmission_RoundTrip(t *testing.T) {
	r := NewReview(samplePlan())
	stories := r.Submission()

	require.Len(t, stories, 3)
	byID := map[string]builder.UserStory{}
	for _, s := range stories {
		byID[s.ID] = s
	}

	// Feature stories unmodified.
	assert.Equal(t, "Search flights", byID["US-001"].Title)
	// Implementation stories re-tagged on title and description.
	assert.Equal(t, "[internal] Setup DB", byID["US-002"].Title)
	assert.Equal(t, "[internal] Provision schema", byID["US-002"].Description)

	// A second round through the editor is idempotent.
	again := NewReview(&builder.Plan{PRD: builder.PRD{UserStories: stories}}).Submission()
	assert.Equal(t, stories, again)
}

func TestSubmission_EditorSurvivesFailure(t *testing.T) {
	// Submission is a pure read: a failed network call leaves the buffer
	// untouched and a later retry produces the same payload.
	r := NewReview(samplePlan())
	require.NoError(t, r.UpdateStory("US-003", "Book a full trip", "with hotels"))

	first := r.Submission()
	second := r.Submission()
	assert.Equal(t, first, second)
	assert.Equal(t, "Book a full trip", r.Find("US-003").Title)
}

func TestNextID_PureCountBased(t *testing.T) {
	r := &Review{}
	for i := 1; i <= 11; i++ {
		s := r.AddStory(GroupFeature)
		assert.Equal(t, fmt.Sprintf("US-%03d", i), s.ID)
	}
	assert.Equal(t, "US-012", r.NextID())
}
