package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagekit/errors"
)

type sample struct {
	Name  string `validate:"required,key"`
	Limit int    `validate:"gte=0"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(sample{Name: "post_tag", Limit: 3}))

	err := Struct(sample{Name: "bad name", Limit: 1})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, "Name", errors.FieldOf(err))

	err = Struct(sample{Name: "ok", Limit: -1})
	require.Error(t, err)
	assert.Equal(t, "Limit", errors.FieldOf(err))

	assert.NoError(t, StructValidator{}.Validate(sample{Name: "x"}))
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("category", "taxonomy", "required,key"))
	err := Var("", "taxonomy", "required,key")
	require.Error(t, err)
	assert.Equal(t, "taxonomy", errors.FieldOf(err))
}

func TestValidateHelpers(t *testing.T) {
	assert.NoError(t, ValidateRequired("x", "名称"))
	assert.True(t, errors.IsValidation(ValidateRequired("  ", "名称")))

	assert.NoError(t, ValidateEnum("publish", "status", []string{"publish", "draft"}))
	err := ValidateEnum("bogus", "status", []string{"publish", "draft"})
	assert.Equal(t, "status", errors.FieldOf(err))

	assert.NoError(t, ValidateID(1, "id"))
	assert.Error(t, ValidateID(0, "id"))
}
