package model

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/platform/apperr"
)

func strPtr(s string) *string { return &s }

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"doctor", RoleDoctor, false},
		{"  Nurse ", RoleNurse, false},
		{"MEDICAL_SHOP", RoleMedicalShop, false},
		{"super_admin", RoleSuperAdmin, false},
		{"surgeon", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("ParseRole(%q): expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseRole(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseStatuses(t *testing.T) {
	if s, err := ParseLineItemStatus("given"); err != nil || s != LineGiven {
		t.Errorf("ParseLineItemStatus(given) = %q, %v", s, err)
	}
	if _, err := ParseLineItemStatus("lost"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if s, err := ParseAppointmentStatus("in-consultation"); err != nil || s != AppointmentInConsultation {
		t.Errorf("ParseAppointmentStatus = %q, %v", s, err)
	}
	if s, err := ParsePrescriptionStatus("Fully Dispensed"); err != nil || s != PrescriptionFullyDispensed {
		t.Errorf("ParsePrescriptionStatus = %q, %v", s, err)
	}
}

func TestNextAppointmentStatus(t *testing.T) {
	all := []AppointmentStatus{
		AppointmentScheduled, AppointmentInConsultation, AppointmentCompleted,
		AppointmentNoShow, AppointmentCancelled,
	}
	allowed := map[AppointmentStatus]map[Transition]AppointmentStatus{
		AppointmentScheduled: {
			TransitionStart:  AppointmentInConsultation,
			TransitionCancel: AppointmentCancelled,
			TransitionNoShow: AppointmentNoShow,
		},
		AppointmentInConsultation: {
			TransitionComplete: AppointmentCompleted,
			TransitionCancel:   AppointmentCancelled,
		},
		AppointmentCompleted: {
			TransitionComplete: AppointmentCompleted,
		},
	}
	transitions := []Transition{TransitionStart, TransitionComplete, TransitionCancel, TransitionNoShow}

	for _, from := range all {
		for _, tr := range transitions {
			got, err := NextAppointmentStatus(from, tr)
			want, ok := allowed[from][tr]
			if ok {
				if err != nil || got != want {
					t.Errorf("%s --%s--> got %q, %v; want %q", from, tr, got, err, want)
				}
				continue
			}
			if apperr.KindOf(err) != apperr.KindConflict {
				t.Errorf("%s --%s--> expected conflict, got %q, %v", from, tr, got, err)
			}
			if got != "" {
				t.Errorf("%s --%s--> produced status %q on failure", from, tr, got)
			}
		}
	}
}

func TestNextAppointmentStatus_UnknownTransition(t *testing.T) {
	if _, err := NextAppointmentStatus(AppointmentScheduled, "reopen"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestMergeLineItems_KeepsDispensedDropsUndispensed(t *testing.T) {
	a := LineItem{ID: uuid.New(), MedicineName: "A", Status: LineGiven, Position: 0}
	b := LineItem{ID: uuid.New(), MedicineName: "B", Status: LineNotGiven, Position: 1}

	got := MergeLineItems([]LineItem{a, b}, []LineItemInput{{MedicineName: "C"}})

	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].ID != a.ID || got[0].Status != LineGiven {
		t.Errorf("expected A preserved first, got %+v", got[0])
	}
	if got[1].MedicineName != "C" || got[1].Status != LineNotGiven || got[1].ID != uuid.Nil {
		t.Errorf("expected new item C at Not Given, got %+v", got[1])
	}
	for i, it := range got {
		if it.Position != i {
			t.Errorf("item %d has position %d", i, it.Position)
		}
	}
}

func TestMergeLineItems_OrderIndependentOfExistingOrder(t *testing.T) {
	a := LineItem{ID: uuid.New(), MedicineName: "A", Status: LineGiven}
	b := LineItem{ID: uuid.New(), MedicineName: "B", Status: LineNotGiven}

	first := MergeLineItems([]LineItem{a, b}, []LineItemInput{{MedicineName: "C"}})
	second := MergeLineItems([]LineItem{b, a}, []LineItemInput{{MedicineName: "C"}})

	names := func(items []LineItem) map[string]bool {
		m := map[string]bool{}
		for _, it := range items {
			m[it.MedicineName] = true
		}
		return m
	}
	n1, n2 := names(first), names(second)
	if len(n1) != 2 || !n1["A"] || !n1["C"] || n1["B"] {
		t.Errorf("unexpected set %v", n1)
	}
	if len(n2) != 2 || !n2["A"] || !n2["C"] {
		t.Errorf("unexpected set %v", n2)
	}
}

func TestMergeLineItems_EmptySubmissionKeepsDispensed(t *testing.T) {
	existing := []LineItem{
		{ID: uuid.New(), MedicineName: "A", Status: LineSubstituted, SubstitutionInfo: strPtr("generic")},
		{ID: uuid.New(), MedicineName: "B", Status: LineNotGiven},
		{ID: uuid.New(), MedicineName: "C", Status: LinePartiallyGiven},
	}
	got := MergeLineItems(existing, nil)
	if len(got) != 2 || got[0].MedicineName != "A" || got[1].MedicineName != "C" {
		t.Fatalf("expected [A C], got %+v", got)
	}
	if got[0].SubstitutionInfo == nil || *got[0].SubstitutionInfo != "generic" {
		t.Error("substitution info must survive the merge")
	}
}

func TestMergeLineItems_Idempotent(t *testing.T) {
	submission := []LineItemInput{{MedicineName: "X", Dose: strPtr("5mg")}, {MedicineName: "Y"}}

	once := MergeLineItems(nil, submission)
	twice := MergeLineItems(once, submission)

	if len(once) != len(twice) {
		t.Fatalf("lengths differ: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].MedicineName != twice[i].MedicineName || once[i].Status != twice[i].Status || once[i].Position != twice[i].Position {
			t.Errorf("item %d differs: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		current  PrescriptionStatus
		statuses []LineItemStatus
		want     PrescriptionStatus
	}{
		{"given and substituted", PrescriptionCreated, []LineItemStatus{LineGiven, LineSubstituted}, PrescriptionFullyDispensed},
		{"given and not given", PrescriptionCreated, []LineItemStatus{LineGiven, LineNotGiven}, PrescriptionPartiallyDispensed},
		{"all not given", PrescriptionCreated, []LineItemStatus{LineNotGiven, LineNotGiven}, PrescriptionCreated},
		{"partially given only", PrescriptionCreated, []LineItemStatus{LinePartiallyGiven}, PrescriptionPartiallyDispensed},
		{"not available kept", PrescriptionNotAvailable, []LineItemStatus{LineNotGiven}, PrescriptionNotAvailable},
		{"no items", PrescriptionCreated, nil, PrescriptionCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateStatus(tt.current, tt.statuses); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAggregateStatus_OrderIndependent(t *testing.T) {
	pool := []LineItemStatus{LineNotGiven, LineGiven, LinePartiallyGiven, LineSubstituted}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := 1 + r.Intn(6)
		statuses := make([]LineItemStatus, n)
		for j := range statuses {
			statuses[j] = pool[r.Intn(len(pool))]
		}
		want := AggregateStatus(PrescriptionCreated, statuses)

		shuffled := append([]LineItemStatus(nil), statuses...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := AggregateStatus(PrescriptionCreated, shuffled); got != want {
			t.Fatalf("order changed aggregate: %v -> %q, %v -> %q", statuses, want, shuffled, got)
		}
	}
}

func TestPrescriptionAwaitsPharmacy(t *testing.T) {
	item := []LineItem{{MedicineName: "A"}}
	tests := []struct {
		status PrescriptionStatus
		items  []LineItem
		want   bool
	}{
		{PrescriptionCreated, item, true},
		{PrescriptionPartiallyDispensed, item, true},
		{PrescriptionNotAvailable, item, false},
		{PrescriptionFullyDispensed, item, false},
		{PrescriptionCreated, nil, false},
	}
	for _, tt := range tests {
		p := &Prescription{Status: tt.status, LineItems: tt.items}
		if got := p.AwaitsPharmacy(); got != tt.want {
			t.Errorf("%s with %d items: AwaitsPharmacy = %v, want %v", tt.status, len(tt.items), got, tt.want)
		}
	}
}

func TestVisitEditsApply(t *testing.T) {
	v := &Visit{Subjective: strPtr("cough")}
	edits := VisitEdits{Assessment: strPtr("bronchitis")}

	if !edits.Apply(v) {
		t.Error("expected change")
	}
	if v.Subjective == nil || *v.Subjective != "cough" {
		t.Error("absent field must be left untouched")
	}
	if v.Assessment == nil || *v.Assessment != "bronchitis" {
		t.Error("present field must be applied")
	}
	if edits.Apply(v) {
		t.Error("re-applying the same edits should report no change")
	}
}

func TestCanReadNote(t *testing.T) {
	author := uuid.New()
	note := ClinicalNote{AuthorDoctorID: author}

	if !CanReadNote(note, author, RoleDoctor) {
		t.Error("author should read own note")
	}
	if CanReadNote(note, uuid.New(), RoleDoctor) {
		t.Error("other doctors should not read the note")
	}
	if !CanReadNote(note, uuid.New(), RoleNurse) {
		t.Error("nurses may read private notes")
	}
	if CanReadNote(note, author, RoleMedicalShop) {
		t.Error("pharmacy staff must never read private notes")
	}
	if CanReadNote(note, uuid.New(), RoleAdmin) {
		t.Error("admins are not permitted to read private notes")
	}
}

func TestValidateLineItems(t *testing.T) {
	neg := -1
	if err := ValidateLineItems([]LineItemInput{{MedicineName: ""}}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if err := ValidateLineItems([]LineItemInput{{MedicineName: "A", DurationDays: &neg}}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for negative duration, got %v", err)
	}
	if err := ValidateLineItems([]LineItemInput{{MedicineName: "A"}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
