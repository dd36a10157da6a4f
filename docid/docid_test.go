package docid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentIdURLRoundTrip(t *testing.T) {
	id := NewDocumentId()
	url := id.URL()

	got, legacy, err := ParseURL(url)
	require.NoError(t, err)
	assert.False(t, legacy)
	assert.Equal(t, id, got)
}

func TestParseURLLegacyUUID(t *testing.T) {
	u := uuid.New()
	got, legacy, err := ParseURL(u.String())
	require.NoError(t, err)
	assert.True(t, legacy)
	assert.Equal(t, u[:], got[:])
}

func TestParseURLInvalid(t *testing.T) {
	_, _, err := ParseURL("not-a-valid-url")
	require.Error(t, err)
	var invalid *ErrInvalidUrl
	require.ErrorAs(t, err, &invalid)
}

func TestParseURLChecksumCatchesTypo(t *testing.T) {
	id := NewDocumentId()
	url := id.URL()
	// Flip one character in the base58 body to simulate a paste typo.
	mutated := []byte(url)
	lastIdx := len(mutated) - 1
	if mutated[lastIdx] == 'a' {
		mutated[lastIdx] = 'b'
	} else {
		mutated[lastIdx] = 'a'
	}

	_, _, err := ParseURL(string(mutated))
	assert.Error(t, err)
}

func TestDocumentIdEquality(t *testing.T) {
	a := NewDocumentId()
	b := a
	assert.Equal(t, a, b)
	assert.True(t, a == b)

	c := NewDocumentId()
	assert.NotEqual(t, a, c)
}
