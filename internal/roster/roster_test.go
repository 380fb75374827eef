package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyhall/internal/attendance"
)

const sample = `
students:
  - id: s01
    name: Wang
    seat: 1
    credential: "0004213377"
  - id: s02
    name: Chen
    seat: 2
    credential: " 0004213378 "
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	students, err := Load(path, 42)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, attendance.Student{ID: "s01", Name: "Wang", Seat: 1, Credential: "0004213377"}, students[0])
	assert.Equal(t, "0004213378", students[1].Credential, "credentials are trimmed")
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate seat": `
students:
  - {id: a, name: A, seat: 1, credential: "1"}
  - {id: b, name: B, seat: 1, credential: "2"}`,
		"shared credential": `
students:
  - {id: a, name: A, seat: 1, credential: "1"}
  - {id: b, name: B, seat: 2, credential: "1"}`,
		"duplicate id": `
students:
  - {id: a, name: A, seat: 1, credential: "1"}
  - {id: a, name: B, seat: 2, credential: "2"}`,
		"missing credential": `
students:
  - {id: a, name: A, seat: 1}`,
		"seat out of range": `
students:
  - {id: a, name: A, seat: 43, credential: "1"}`,
		"unknown field": `
students:
  - {id: a, name: A, seat: 1, credential: "1", locker: 7}`,
		"empty": ``,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc), 42)
			assert.ErrorIs(t, err, attendance.ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
