package process

import (
	"errors"
	"testing"
)

func TestValidateRegistry(t *testing.T) {
	if err := ValidateRegistry(); err != nil {
		t.Fatal(err)
	}
}

func TestEveryAutomaticStepCanRecover(t *testing.T) {
	for st, info := range registry {
		if info.Mode != Automatic {
			continue
		}
		// database-only steps have nothing external to fail on
		if st == StepDeleteIdentityProvider {
			continue
		}
		if _, ok := RetriggerOf(st); !ok {
			t.Errorf("automatic step %s has no retrigger step", st)
		}
	}
}

func TestAwaitingStepsAreManual(t *testing.T) {
	for st, info := range registry {
		if info.AwaitsResponse && info.Mode != Manual {
			t.Errorf("awaiting step %s must be completed by a response", st)
		}
	}
}

func TestValidateStepType(t *testing.T) {
	for _, test := range []struct {
		name string
		p    Type
		st   StepType
		err  error
	}{
		{"ok", TypeApplicationChecklist, StepVerifyRegistration, nil},
		{"wrong process", TypePartnerRegistration, StepVerifyRegistration, ErrUnexpected},
		{"unknown", TypeApplicationChecklist, StepType("MAKE_COFFEE"), ErrUnexpected},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := ValidateStepType(test.p, test.st)
			if want, have := test.err, err; !errors.Is(have, want) {
				t.Errorf("want: %v; have: %v", want, have)
			}
		})
	}
}

func TestStepTypes(t *testing.T) {
	types := StepTypes(TypeUserProvisioning)
	if want, have := 2, len(types); want != have {
		t.Fatalf("want: %d; have: %d", want, have)
	}
	if want, have := StepDeleteCentralUser, types[0]; want != have {
		t.Errorf("want: %s; have: %s", want, have)
	}
}
