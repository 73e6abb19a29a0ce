package portal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRequiredAgreements(t *testing.T) {
	agreements := []*Agreement{
		{ID: "b", Status: AgreementStatusActive, CompanyRoles: []CompanyRole{RoleAppProvider}},
		{ID: "a", Status: AgreementStatusActive, CompanyRoles: []CompanyRole{RoleAppProvider, RoleServiceProvider}},
		{ID: "c", Status: AgreementStatusActive, CompanyRoles: []CompanyRole{RoleActiveParticipant}},
		{ID: "d", Status: AgreementStatusInactive, CompanyRoles: []CompanyRole{RoleAppProvider}},
	}

	have := RequiredAgreements(agreements, []CompanyRole{RoleAppProvider})
	if diff := cmp.Diff([]string{"a", "b"}, have); diff != "" {
		t.Errorf("required agreements mismatch (-want +have):\n%s", diff)
	}

	if have := RequiredAgreements(agreements, nil); len(have) != 0 {
		t.Errorf("want: no agreements; have: %v", have)
	}
}

func TestApplicationStatusIn(t *testing.T) {
	a := &CompanyApplication{Status: ApplicationStatusVerify}
	if !a.StatusIn(ApplicationEditableStatuses...) {
		t.Error("VERIFY should be editable")
	}
	a.Status = ApplicationStatusSubmitted
	if a.StatusIn(ApplicationEditableStatuses...) {
		t.Error("SUBMITTED should not be editable")
	}
}
