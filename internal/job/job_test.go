package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	body := []byte(`{"id":"job-1","kind":"flush_logs","payload":{"source":"api","lines":["a"]},"enqueued_at":"2026-08-01T10:00:00Z"}`)

	j, err := Decode(body, 3)
	require.NoError(t, err)
	assert.Equal(t, "job-1", j.ID)
	assert.Equal(t, "flush_logs", j.Kind)
	assert.Equal(t, 3, j.Attempt)
	assert.NotEmpty(t, j.Payload)
}

func TestDecode_AttemptDefaultsToOne(t *testing.T) {
	j, err := Decode([]byte(`{"id":"job-1","kind":"flush_logs"}`), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempt)
}

func TestDecode_MalformedBody(t *testing.T) {
	_, err := Decode([]byte(`{not json`), 1)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func TestDecode_MissingEnvelopeFields(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing id", `{"kind":"flush_logs"}`},
		{"missing kind", `{"id":"job-1"}`},
		{"empty object", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.body), 1)
			require.Error(t, err)
			assert.True(t, IsDecodeError(err))
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	j := &Job{ID: "job-9", Kind: "flush_logs", Payload: []byte(`{"source":"api","lines":["x"]}`)}

	body, err := j.Encode()
	require.NoError(t, err)

	out, err := Decode(body, 1)
	require.NoError(t, err)
	assert.Equal(t, j.ID, out.ID)
	assert.Equal(t, j.Kind, out.Kind)
}
