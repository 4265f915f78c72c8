package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagekit/content"
	"stagekit/errors"
)

var (
	t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func entityAt(title string, modified time.Time) *content.Entity {
	return &content.Entity{
		Ref:        content.Ref("post", 1),
		Title:      title,
		Content:    "body",
		Status:     content.StatusPublish,
		Modified:   modified,
		ModifiedBy: 7,
	}
}

func TestDetect_TruePositive(t *testing.T) {
	d := NewDetector()
	rec := d.Detect("post[post][1]", t0, entityAt("A", t1), content.Fields{content.FieldTitle: "B"})
	require.NotNil(t, rec)
	assert.Equal(t, "A", rec.TheirFields[content.FieldTitle])
	assert.Equal(t, []string{content.FieldTitle}, rec.ConflictingFields)
	assert.Equal(t, int64(7), rec.ModifiedBy)
	assert.Equal(t, t1, rec.Modified)

	err := rec.Err()
	assert.True(t, errors.IsConflict(err))
	their, ok := errors.DetailOf(err, errors.DetailTheirFields)
	require.True(t, ok)
	assert.Equal(t, "A", their.(content.Fields)[content.FieldTitle])
}

func TestDetect_StaleButUnchanged(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.Detect("s", t0, entityAt("A", t1), content.Fields{content.FieldTitle: "A"}))
}

func TestDetect_FreshBaseline(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.Detect("s", t1, entityAt("A", t1), content.Fields{content.FieldTitle: "B"}))
	assert.Nil(t, d.Detect("s", t1.Add(time.Second), entityAt("A", t1), content.Fields{content.FieldTitle: "B"}))
}

func TestDetect_NoBaseline(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.Detect("s", time.Time{}, entityAt("A", t1), content.Fields{content.FieldTitle: "B"}))
}

func TestDiff_IgnoresModifiedAndUnknown(t *testing.T) {
	d := NewDetector()
	current := entityAt("A", t1).Fields()
	diff := d.Diff(current, content.Fields{
		content.FieldModified: t0,
		content.FieldType:     "page",
		"unknown":             1,
		content.FieldAuthor:   int64(0),
		content.FieldStatus:   "publish",
	})
	assert.Empty(t, diff)
}

func TestDiff_Sorted(t *testing.T) {
	d := NewDetector(WithIgnoredFields(content.FieldPassword))
	diff := d.Diff(entityAt("A", t1).Fields(), content.Fields{
		content.FieldTitle:    "B",
		content.FieldContent:  "other",
		content.FieldPassword: "secret",
	})
	assert.Equal(t, []string{content.FieldContent, content.FieldTitle}, diff)
}
