package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	d, err := Parse([]byte(`{"ops":[{"retain":3},{"insert":"x","attributes":{"bold":true}},{"delete":1},{"insert":{"image":"a.png"}}]}`))
	require.NoError(t, err)
	require.Len(t, d.Ops, 4)
	require.Equal(t, 3, d.Ops[0].Retain)
	require.Equal(t, "x", d.Ops[1].Insert)
	require.Equal(t, 1, d.Ops[2].Delete)
	require.Equal(t, "a.png", d.Ops[3].Embed["image"])
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"ops":`,
		"missing ops":       `{}`,
		"ops not array":     `{"ops":{}}`,
		"empty op":          `{"ops":[{}]}`,
		"two kinds":         `{"ops":[{"insert":"a","delete":1}]}`,
		"zero retain":       `{"ops":[{"retain":0}]}`,
		"negative delete":   `{"ops":[{"delete":-2}]}`,
		"empty insert":      `{"ops":[{"insert":""}]}`,
		"numeric insert":    `{"ops":[{"insert":5}]}`,
		"string attributes": `{"ops":[{"insert":"a","attributes":"bold"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestParseDocument(t *testing.T) {
	d, err := ParseDocument(nil)
	require.NoError(t, err)
	require.True(t, d.Equal(Blank()))

	content := `{"ops":[{"insert":"hi\n"}]}`
	d, err = ParseDocument(&content)
	require.NoError(t, err)
	require.Equal(t, "hi\n", d.Text())

	change := `{"ops":[{"retain":1}]}`
	_, err = ParseDocument(&change)
	require.ErrorIs(t, err, ErrNotDocumentContent)
}

func TestMarshalMatchesEditorShape(t *testing.T) {
	s, err := Marshal(New().Insert("hello\n", nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"ops":[{"insert":"hello\n"}]}`, s)
	require.NoError(t, ValidateContent(s))
}
