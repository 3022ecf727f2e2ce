package saga

import (
	"testing"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

func TestValidate_NilDAG(t *testing.T) {
	assertErrorCode(t, Validate(nil), schema.ErrCodeValidation)
}

func TestValidate_EmptyDAG(t *testing.T) {
	assertErrorCode(t, Validate(NewDAG()), schema.ErrCodeValidation)
}

func TestValidate_Cycle(t *testing.T) {
	d := buildDAG(t, []string{"a", "b"}, [2]string{"a", "b"}, [2]string{"b", "a"})
	assertErrorCode(t, Validate(d), schema.ErrCodeCycleDetected)
}

func TestValidate_UnknownEdgeEndpoint(t *testing.T) {
	// Bypass AddEdge to simulate a DAG assembled by other means.
	d := buildDAG(t, []string{"a"})
	d.edges = append(d.edges, Edge{Source: "a", Target: "ghost"})
	assertErrorCode(t, Validate(d), schema.ErrCodeValidation)
}

func TestCompile_ReturnsSameDAG(t *testing.T) {
	d := buildDAG(t, []string{"a", "b"}, [2]string{"a", "b"})

	compiled, err := Compile(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if compiled != d {
		t.Error("compile must return the same DAG, not a copy")
	}
}

func TestValidate_Idempotent(t *testing.T) {
	d := buildDAG(t, []string{"a", "b", "c"}, [2]string{"a", "b"}, [2]string{"b", "c"})

	for i := 0; i < 5; i++ {
		if err := Validate(d); err != nil {
			t.Fatalf("validation pass %d failed: %v", i, err)
		}
	}
}
