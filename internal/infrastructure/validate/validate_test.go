package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestField_PrefixesName(t *testing.T) {
	v := Field("username", Required())

	err := v("  ")
	assert.EqualError(t, err, "username: this field is required")
}

func TestMaxLength_CountsRunes(t *testing.T) {
	v := MaxLength(3)

	assert.NoError(t, v("日本語"))
	assert.Error(t, v("日本語!"))
}

func TestCompose_FirstErrorWins(t *testing.T) {
	v := Compose(Required(), MaxLength(2))

	assert.EqualError(t, v(""), "this field is required")
	assert.EqualError(t, v("abc"), "must be no more than 2 characters")
	assert.NoError(t, v("ab"))
}

func TestMatches(t *testing.T) {
	v := Matches(`^[a-z]+$`, "lowercase only")

	assert.NoError(t, v("lobby"))
	assert.EqualError(t, v("Lobby"), "lowercase only")
}

func TestEmail(t *testing.T) {
	assert.NoError(t, Email()("stockbot@chatapp.system"))
	assert.Error(t, Email()("not-an-email"))
	assert.NoError(t, Email()(""))
}

func TestOneOf(t *testing.T) {
	v := OneOf("memory", "mongo")

	assert.NoError(t, v("mongo"))
	err := v("sqlite")
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), "memory, mongo"))
	}
}
