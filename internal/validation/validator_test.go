package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	AccountName string `json:"account_name" validate:"required,min=3,max=64,account_name"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	Email       string `json:"email" validate:"omitempty,email"`
}

func TestValidate_OK(t *testing.T) {
	v := New()
	assert.NoError(t, v.Validate(sample{AccountName: "alice.b_1", Password: "secret123"}))
}

func TestValidate_FieldErrors(t *testing.T) {
	v := New()
	err := v.Validate(sample{AccountName: "a b", Password: "123", Email: "nope"})
	require.Error(t, err)

	var fe Errors
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Only letters, digits, underscore and dot are allowed", fe["account_name"])
	assert.Equal(t, "Must be at least 6 characters", fe["password"])
	assert.Equal(t, "Invalid email address", fe["email"])
	assert.Contains(t, err.Error(), "validation failed")
}

func TestValidate_Required(t *testing.T) {
	v := New()
	var fe Errors
	require.ErrorAs(t, v.Validate(sample{}), &fe)
	assert.Equal(t, "This field is required", fe["account_name"])
	assert.Equal(t, "This field is required", fe["password"])
}
