package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilStatusIsOk(t *testing.T) {
	var st *Status
	assert.True(t, st.Ok())
	assert.Equal(t, "", st.Error())
}

func TestNewStatusNotOk(t *testing.T) {
	st := New(MalformedInput, "bad input: %d", 7)
	assert.False(t, st.Ok())
	assert.Equal(t, "malformed-input: bad input: 7", st.Error())
}

func TestWrapIncludesUnderlyingError(t *testing.T) {
	st := Wrap(KeyUnavailable, errors.New("dial tcp: refused"), "kms unwrap")
	assert.False(t, st.Ok())
	assert.Contains(t, st.Error(), "kms unwrap")
	assert.Contains(t, st.Error(), "dial tcp: refused")
}

func TestErrorfIsClientMisuse(t *testing.T) {
	st := Errorf("missing field %q", "namespace")
	assert.Equal(t, ClientMisuse, st.Category)
}

func TestCategoryString(t *testing.T) {
	cases := map[Category]string{
		None:              "none",
		ClientMisuse:      "client-misuse",
		MalformedInput:    "malformed-input",
		Policy:            "policy",
		KeyUnavailable:    "key-unavailable",
		CollaboratorError: "collaborator-error",
		Category(99):      "unknown",
	}
	for cat, want := range cases {
		assert.Equal(t, want, cat.String())
	}
}
