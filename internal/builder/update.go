package builder

import "time"

// BuildUpdate is a partial BuildRecord as returned by status, approve,
// resume, and edit responses. Nil fields were not present in the payload and
// must preserve the prior local value on merge. The field-set contract is
// last-write-wins per present field, never a deep merge.
type BuildUpdate struct {
	ID          string     `json:"id,omitempty"`
	AppID       *string    `json:"appId,omitempty"`
	Phase       *Phase     `json:"phase,omitempty"`
	Progress    *Progress  `json:"progress,omitempty"`
	Description *string    `json:"description,omitempty"`
	Plan        *Plan      `json:"plan,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Empty reports whether the update carries no fields at all.
func (u BuildUpdate) Empty() bool {
	return u.AppID == nil && u.Phase == nil && u.Progress == nil &&
		u.Description == nil && u.Plan == nil && u.CreatedAt == nil &&
		u.UpdatedAt == nil && u.Error == nil
}

// Apply merges u into rec, overwriting only present fields. Progress is
// clamped after merge. UpdatedAt advances to the payload's value, or to now
// when the payload changed anything without carrying a timestamp.
func (u BuildUpdate) Apply(rec *BuildRecord) {
	changed := false
	if u.AppID != nil {
		rec.AppID = *u.AppID
		changed = true
	}
	if u.Phase != nil {
		rec.Phase = *u.Phase
		changed = true
	}
	if u.Progress != nil {
		rec.Progress = *u.Progress
		rec.Progress.Clamp()
		changed = true
	}
	if u.Description != nil {
		rec.Description = *u.Description
		changed = true
	}
	if u.Plan != nil {
		rec.Plan = u.Plan
		changed = true
	}
	if u.CreatedAt != nil {
		rec.CreatedAt = *u.CreatedAt
	}
	if u.Error != nil {
		rec.Error = *u.Error
		changed = true
	}
	switch {
	case u.UpdatedAt != nil:
		rec.UpdatedAt = *u.UpdatedAt
	case changed:
		rec.UpdatedAt = time.Now().UTC()
	}
}

// UpdateFrom converts a full record into an update carrying every field.
// Used when reconciling server history rows into existing local records.
func UpdateFrom(rec BuildRecord) BuildUpdate {
	r := rec
	return BuildUpdate{
		ID:          r.ID,
		AppID:       &r.AppID,
		Phase:       &r.Phase,
		Progress:    &r.Progress,
		Description: &r.Description,
		Plan:        r.Plan,
		CreatedAt:   &r.CreatedAt,
		UpdatedAt:   &r.UpdatedAt,
		Error:       &r.Error,
	}
}
