package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/workflow"
)

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	valid := activityStep("a", "svc", "op", workflow.Abort)

	tests := []struct {
		name string
		def  *workflow.Definition
	}{
		{"no name", &workflow.Definition{Steps: []workflow.Step{valid}}},
		{"no steps", &workflow.Definition{Name: "x"}},
		{"missing failure policy", &workflow.Definition{Name: "x", Steps: []workflow.Step{
			{Name: "a", Kind: workflow.KindActivity, Service: "svc", Operation: "op"},
		}}},
		{"duplicate step", &workflow.Definition{Name: "x", Steps: []workflow.Step{valid, valid}}},
		{"activity without target", &workflow.Definition{Name: "x", Steps: []workflow.Step{
			{Name: "a", Kind: workflow.KindActivity, OnFailure: workflow.Abort},
		}}},
		{"decision without func", &workflow.Definition{Name: "x", Steps: []workflow.Step{
			{Name: "a", Kind: workflow.KindDecision, OnFailure: workflow.Abort},
		}}},
		{"compensated decision", &workflow.Definition{Name: "x", Steps: []workflow.Step{{
			Name: "a", Kind: workflow.KindDecision, OnFailure: workflow.Abort,
			Decide:       func(context.Context, *workflow.State) (any, error) { return nil, nil },
			Compensation: &workflow.Compensation{Service: "svc", Operation: "undo"},
		}}}},
		{"invalid kind", &workflow.Definition{Name: "x", Steps: []workflow.Step{
			{Name: "a", OnFailure: workflow.Abort, Service: "svc", Operation: "op"},
		}}},
		{"compensation without target", &workflow.Definition{Name: "x", Steps: []workflow.Step{{
			Name: "a", Kind: workflow.KindActivity, OnFailure: workflow.Abort, Service: "svc", Operation: "op",
			Compensation: &workflow.Compensation{},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := workflow.NewRegistry().Register(tt.def)
			if !errors.Is(err, saga.ErrValidation) {
				t.Errorf("Register = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRegisterChecksContracts(t *testing.T) {
	contracts := activity.NewRegistry()
	activity.Register[map[string]string, map[string]string](contracts, "users", "create")

	reg := workflow.NewRegistry(workflow.WithContracts(contracts))
	ok := &workflow.Definition{Name: "ok", Steps: []workflow.Step{activityStep("a", "users", "create", workflow.Abort)}}
	if err := reg.Register(ok); err != nil {
		t.Fatalf("Register(ok): %v", err)
	}

	bad := &workflow.Definition{Name: "bad", Steps: []workflow.Step{activityStep("a", "users", "delete", workflow.Abort)}}
	if err := reg.Register(bad); !errors.Is(err, saga.ErrUnknownOperation) {
		t.Errorf("Register(bad) = %v, want ErrUnknownOperation", err)
	}

	comp := activityStep("a", "users", "create", workflow.Abort)
	comp.Compensation = &workflow.Compensation{Service: "users", Operation: "delete"}
	if err := reg.Register(&workflow.Definition{Name: "comp", Steps: []workflow.Step{comp}}); !errors.Is(err, saga.ErrUnknownOperation) {
		t.Errorf("Register(comp) = %v, want ErrUnknownOperation", err)
	}
}

func TestRegistryVersions(t *testing.T) {
	reg := workflow.NewRegistry()
	v1 := &workflow.Definition{Name: "onboard", Steps: []workflow.Step{activityStep("a", "svc", "op", workflow.Abort)}}
	v2 := &workflow.Definition{Name: "onboard", Version: 2, Steps: []workflow.Step{
		activityStep("a", "svc", "op", workflow.Abort),
		activityStep("b", "svc", "op2", workflow.Abort),
	}}
	reg.MustRegister(v1)
	reg.MustRegister(v2)
	reg.MustRegister(&workflow.Definition{Name: "audit", Steps: []workflow.Step{activityStep("a", "svc", "op", workflow.Abort)}})

	if v1.Version != 1 {
		t.Errorf("v1.Version = %d, want 1", v1.Version)
	}
	latest, ok := reg.Get("onboard")
	if !ok || latest.Version != 2 {
		t.Fatalf("Get = %v, %v; want version 2", latest, ok)
	}
	old, ok := reg.GetVersion("onboard", 1)
	if !ok || len(old.Steps) != 1 {
		t.Errorf("GetVersion(1) = %v, %v", old, ok)
	}
	if _, ok := reg.GetVersion("onboard", 3); ok {
		t.Error("GetVersion(3) found a definition")
	}
	if got := reg.LatestVersion("onboard"); got != 2 {
		t.Errorf("LatestVersion = %d, want 2", got)
	}
	if got := fmt.Sprint(reg.Names()); got != "[audit onboard]" {
		t.Errorf("Names = %s", got)
	}

	types := reg.Types()
	if len(types) != 2 || types[1].Name != "onboard" {
		t.Fatalf("Types = %+v", types)
	}
	if fmt.Sprint(types[1].Versions) != "[1 2]" || fmt.Sprint(types[1].Steps) != "[a b]" {
		t.Errorf("onboard info = %+v", types[1])
	}
}

func TestMustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRegister did not panic")
		}
	}()
	workflow.NewRegistry().MustRegister(&workflow.Definition{})
}
