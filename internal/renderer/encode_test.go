package renderer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTextAlphabet(t *testing.T) {
	encoded, err := EncodeText("@startuml\nBob -> Alice : hello\n@enduml\n")
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	for _, c := range encoded {
		assert.True(t, strings.ContainsRune(plantumlAlphabet, c),
			"encoded text contains character outside the PlantUML alphabet: %q", c)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []string{
		"@startuml\nBob -> Alice : hello\n@enduml\n",
		"",
		"a single line without newline",
		strings.Repeat("participant VeryLongName\n", 200),
		"unicode: größer, 日本語, émoji ✓\n",
	}

	for _, text := range testCases {
		encoded, err := EncodeText(text)
		require.NoError(t, err)

		decoded, err := DecodeText(encoded)
		require.NoError(t, err)
		assert.Equal(t, text, decoded)
	}
}

func TestEncodeTextCompresses(t *testing.T) {
	text := strings.Repeat("participant RepeatedName\n", 100)

	encoded, err := EncodeText(text)
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(text))
}

func TestDecodeTextRejectsGarbage(t *testing.T) {
	_, err := DecodeText("not valid ===")
	assert.Error(t, err)
}
