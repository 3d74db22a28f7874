package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestValidateAcceptsWellFormedPlans(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
	}{
		{
			name: "single step zero based",
			steps: []Step{
				{Index: 0, Backend: BackendMySQL, Purpose: "find device"},
			},
		},
		{
			name: "two steps with dependency",
			steps: []Step{
				{Index: 0, Backend: BackendMySQL, Purpose: "find device"},
				{Index: 1, Backend: BackendInfluxDB, Purpose: "fetch metrics", DependsOn: intPtr(0)},
			},
		},
		{
			name: "one based numbering",
			steps: []Step{
				{Index: 1, Backend: BackendMySQL, Purpose: "find client"},
				{Index: 2, Backend: BackendMySQL, Purpose: "list devices", DependsOn: intPtr(1)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&Plan{Steps: tt.steps, Confidence: 0.9})
			assert.Empty(t, errs)
		})
	}
}

func TestValidateEmptyPlan(t *testing.T) {
	errs := Validate(&Plan{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "no steps")
}

func TestValidateSelfDependency(t *testing.T) {
	errs := Validate(&Plan{Steps: []Step{
		{Index: 0, Backend: BackendMySQL, Purpose: "a"},
		{Index: 1, Backend: BackendInfluxDB, Purpose: "b", DependsOn: intPtr(1)},
	}})

	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].StepIndex)
	assert.Contains(t, errs[0].Message, "step 1")
}

func TestValidateForwardDependency(t *testing.T) {
	errs := Validate(&Plan{Steps: []Step{
		{Index: 0, Backend: BackendMySQL, Purpose: "a", DependsOn: intPtr(1)},
		{Index: 1, Backend: BackendMySQL, Purpose: "b"},
	}})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "not earlier")
}

func TestValidateAccumulatesAllViolations(t *testing.T) {
	// Non-contiguous indices, unknown backend, and a bad dependency must
	// all be reported in one pass.
	errs := Validate(&Plan{Steps: []Step{
		{Index: 0, Backend: BackendMySQL, Purpose: "a"},
		{Index: 2, Backend: Backend("oracle"), Purpose: "b", DependsOn: intPtr(5)},
	}})

	require.Len(t, errs, 3)
	assert.Contains(t, JoinErrors(errs), "contiguous")
	assert.Contains(t, JoinErrors(errs), "oracle")
}

func TestValidateMixedNumberingRejected(t *testing.T) {
	errs := Validate(&Plan{Steps: []Step{
		{Index: 0, Backend: BackendMySQL, Purpose: "a"},
		{Index: 2, Backend: BackendMySQL, Purpose: "b"},
		{Index: 3, Backend: BackendMySQL, Purpose: "c"},
	}})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "contiguous")
}
