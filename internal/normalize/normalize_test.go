// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package normalize

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FillsMissingEvidenceSubject(t *testing.T) {
	in := `{"subject_type":"user","subject_id":"u1","risk_score":90,"explain":{"evidence":[{"rule_id":"R1"}]}}` + "\n"

	res, err := Normalize([]byte(in))
	require.NoError(t, err)

	want := `{"explain":{"evidence":[{"rule_id":"R1","subject_id":"u1","subject_type":"user"}]},"risk_score":90,"subject_id":"u1","subject_type":"user"}` + "\n"
	assert.Equal(t, want, string(res.Output))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Written)
	assert.Zero(t, res.SubjectConflicts)
}

func TestNormalize_StringifiesSubjectID(t *testing.T) {
	in := `{"subject_type":"user","subject_id":42,"evidence":[{"subject_id":42}]}`

	res, err := Normalize([]byte(in))
	require.NoError(t, err)
	assert.Equal(t,
		`{"evidence":[{"subject_id":"42","subject_type":"user"}],"subject_id":"42","subject_type":"user"}`+"\n",
		string(res.Output))
}

func TestNormalize_KeepsConflictingSubjects(t *testing.T) {
	in := `{"subject_type":"user","subject_id":"u1","evidence_rows":[{"subject_type":"ip","subject_id":"1.2.3.4"},{"rule_id":"R"}]}`

	res, err := Normalize([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, 1, res.SubjectConflicts)
	assert.Contains(t, string(res.Output), `{"subject_id":"1.2.3.4","subject_type":"ip"}`)
	assert.Contains(t, string(res.Output), `{"rule_id":"R","subject_id":"u1","subject_type":"user"}`)
}

func TestNormalize_UnknownSubject(t *testing.T) {
	in := `{"risk_score":10,"explain":{"evidence":[{"rule_id":"R"}]}}`

	res, err := Normalize([]byte(in))
	require.NoError(t, err)
	assert.Contains(t, string(res.Output), `{"rule_id":"R","subject_id":"unknown","subject_type":"unknown"}`)
}

func TestNormalize_DropsBlankAndMalformed(t *testing.T) {
	in := "{\"subject_type\":\"user\",\"subject_id\":\"a\"}\n\n{not json\n[1,2]\n{\"subject_type\":\"user\",\"subject_id\":\"b\"}\n"

	res, err := Normalize([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Blank)
	assert.Equal(t, 2, res.Malformed)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, strings.Count(string(res.Output), "\n"))
}

func TestNormalize_EmptyInput(t *testing.T) {
	res, err := Normalize(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Output)
	assert.Zero(t, res.Written)
}

func TestNormalize_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize(normalize(x)) == normalize(x)", prop.ForAll(
		func(ids []string, withSubject []bool, scores []int) bool {
			var b strings.Builder
			for i, id := range ids {
				score := 0
				if i < len(scores) {
					score = scores[i]
				}
				row := `{"rule_id":"R"}`
				if i < len(withSubject) && withSubject[i] {
					row = fmt.Sprintf(`{"rule_id":"R","subject_type":"ip","subject_id":%q}`, id)
				}
				fmt.Fprintf(&b, `{"subject_id":%q,"subject_type":"user","risk_score":%d,"explain":{"evidence":[%s]}}`+"\n", id, score, row)
				if i%3 == 0 {
					b.WriteString("garbage\n\n")
				}
			}

			first, err := Normalize([]byte(b.String()))
			if err != nil {
				return false
			}
			second, err := Normalize(first.Output)
			if err != nil {
				return false
			}
			return string(first.Output) == string(second.Output) && second.Malformed == 0
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Bool()),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
