package workflow_test

import (
	"testing"

	"github.com/xraph/escrow/workflow"
)

func TestRegistry_Versions(t *testing.T) {
	reg := workflow.NewRegistry()
	for _, v := range []int{0, 3, 2} {
		workflow.RegisterDefinition(reg, &workflow.Definition[struct{}, int]{
			Name:    "wf",
			Version: v,
			Handler: func(*workflow.Workflow, struct{}) (int, error) { return 0, nil },
		})
	}

	if got := reg.LatestVersion("wf"); got != 3 {
		t.Errorf("LatestVersion = %d, want 3", got)
	}
	if _, ok := reg.GetVersion("wf", 1); !ok {
		t.Error("version 1 (registered as 0) should exist")
	}
	if _, ok := reg.GetVersion("wf", 4); ok {
		t.Error("version 4 should not exist")
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("unregistered workflow should not resolve")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "wf" {
		t.Errorf("Names = %v, want [wf]", names)
	}
}
