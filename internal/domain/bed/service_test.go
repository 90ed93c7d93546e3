package bed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

type fixture struct {
	svc      *Service
	dir      *catalog.MemoryDirectory
	hospital auth.Actor
}

func newFixture() *fixture {
	dir := catalog.NewMemoryDirectory()
	h := dir.AddHospital(catalog.Hospital{Name: "City Care"})
	svc := NewService(NewMemoryRepository(), dir, &db.LockingTransactor{}, zerolog.Nop())
	return &fixture{svc: svc, dir: dir, hospital: auth.Actor{ID: h.ID, Kind: auth.KindHospital}}
}

func (f *fixture) createBed(t *testing.T, room, number string, price float64) *Bed {
	t.Helper()
	b := &Bed{RoomNumber: room, BedNumber: number, Type: TypeICU, PricePerDay: price}
	if err := f.svc.Create(context.Background(), f.hospital, b); err != nil {
		t.Fatalf("create bed: %v", err)
	}
	return b
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestCreate_Defaults(t *testing.T) {
	f := newFixture()
	b := f.createBed(t, "101", "A", 1000)

	if b.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if b.HospitalID != f.hospital.ID {
		t.Errorf("expected bed owned by actor hospital")
	}
	if !b.IsAvailable || b.Status != StatusAvailable {
		t.Errorf("expected a new bed to be available, got %s", b.Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		bed  Bed
	}{
		{"missing room", Bed{BedNumber: "A"}},
		{"missing bed number", Bed{RoomNumber: "101"}},
		{"unknown type", Bed{RoomNumber: "101", BedNumber: "A", Type: "Suite"}},
		{"negative price", Bed{RoomNumber: "101", BedNumber: "A", PricePerDay: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.bed
			expectKind(t, f.svc.Create(ctx, f.hospital, &b), apperr.KindValidation)
		})
	}
}

func TestCreate_Duplicate(t *testing.T) {
	f := newFixture()
	f.createBed(t, "101", "A", 1000)

	dup := &Bed{RoomNumber: "101", BedNumber: "A"}
	expectKind(t, f.svc.Create(context.Background(), f.hospital, dup), apperr.KindConflict)
}

func TestCreate_SameNumberOtherHospital(t *testing.T) {
	f := newFixture()
	f.createBed(t, "101", "A", 1000)

	other := f.dir.AddHospital(catalog.Hospital{Name: "Lakeside"})
	b := &Bed{RoomNumber: "101", BedNumber: "A"}
	if err := f.svc.Create(context.Background(), auth.Actor{ID: other.ID, Kind: auth.KindHospital}, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreate_Department(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	missing := uuid.New()
	expectKind(t, f.svc.Create(ctx, f.hospital, &Bed{RoomNumber: "1", BedNumber: "1", DepartmentID: &missing}), apperr.KindNotFound)

	other := f.dir.AddHospital(catalog.Hospital{Name: "Lakeside"})
	foreign := f.dir.AddDepartment(catalog.Department{HospitalID: other.ID, Name: "Cardiology"})
	expectKind(t, f.svc.Create(ctx, f.hospital, &Bed{RoomNumber: "1", BedNumber: "1", DepartmentID: &foreign.ID}), apperr.KindNotFound)

	own := f.dir.AddDepartment(catalog.Department{HospitalID: f.hospital.ID, Name: "ICU"})
	if err := f.svc.Create(ctx, f.hospital, &Bed{RoomNumber: "1", BedNumber: "1", DepartmentID: &own.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreate_ForbiddenForDoctor(t *testing.T) {
	f := newFixture()
	doctor := auth.Actor{ID: uuid.New(), Kind: auth.KindDoctor}
	expectKind(t, f.svc.Create(context.Background(), doctor, &Bed{RoomNumber: "1", BedNumber: "1"}), apperr.KindForbidden)
}

func TestAssignAndRelease(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.createBed(t, "101", "A", 1000)
	patient := uuid.New()

	got, err := f.svc.Assign(ctx, b.ID, Occupant{PatientID: patient})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.IsAvailable || got.Status != StatusOccupied {
		t.Errorf("expected occupied bed, got %s", got.Status)
	}
	if got.Occupant == nil || got.Occupant.PatientID != patient {
		t.Fatal("expected occupant snapshot")
	}
	if got.Occupant.AdmissionDate.IsZero() {
		t.Error("expected admission date to default to now")
	}

	_, err = f.svc.Assign(ctx, b.ID, Occupant{PatientID: uuid.New()})
	expectKind(t, err, apperr.KindConflict)

	freed, err := f.svc.Release(ctx, b.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !freed.IsAvailable || freed.Status != StatusAvailable || freed.Occupant != nil {
		t.Errorf("expected freed bed, got %+v", freed)
	}

	// Release is a force-free and may be repeated
	if _, err := f.svc.Release(ctx, b.ID); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestAssign_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Assign(context.Background(), uuid.New(), Occupant{PatientID: uuid.New()})
	expectKind(t, err, apperr.KindNotFound)
}

func TestAssign_Concurrent(t *testing.T) {
	f := newFixture()
	b := f.createBed(t, "101", "A", 1000)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Assign(context.Background(), b.ID, Occupant{PatientID: uuid.New()})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if !errors.Is(err, apperr.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if success != 1 {
		t.Errorf("expected exactly one assignment, got %d", success)
	}
}

func TestAssignAs_OtherHospital(t *testing.T) {
	f := newFixture()
	b := f.createBed(t, "101", "A", 1000)
	other := auth.Actor{ID: uuid.New(), Kind: auth.KindHospital}

	_, err := f.svc.AssignAs(context.Background(), other, b.ID, Occupant{PatientID: uuid.New()})
	expectKind(t, err, apperr.KindForbidden)
	_, err = f.svc.ReleaseAs(context.Background(), other, b.ID)
	expectKind(t, err, apperr.KindForbidden)
}

func TestUpdate_Attributes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.createBed(t, "101", "A", 1000)

	price := 1500.0
	luxury := TypeLuxury
	got, err := f.svc.Update(ctx, f.hospital, b.ID, Patch{PricePerDay: &price, Type: &luxury, Amenities: []string{"TV"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.PricePerDay != 1500 || got.Type != TypeLuxury || len(got.Amenities) != 1 {
		t.Errorf("unexpected bed %+v", got)
	}
}

func TestUpdate_RenameConflict(t *testing.T) {
	f := newFixture()
	f.createBed(t, "101", "A", 1000)
	b := f.createBed(t, "101", "B", 1000)

	room, number := "101", "A"
	_, err := f.svc.Update(context.Background(), f.hospital, b.ID, Patch{RoomNumber: &room, BedNumber: &number})
	expectKind(t, err, apperr.KindConflict)
}

func TestUpdate_Status(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.createBed(t, "101", "A", 1000)

	maint := StatusUnderMaintenance
	got, err := f.svc.Update(ctx, f.hospital, b.ID, Patch{Status: &maint})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.IsAvailable || got.Status != StatusUnderMaintenance {
		t.Errorf("expected unavailable bed under maintenance, got %+v", got)
	}

	// A bed under maintenance cannot be assigned
	_, err = f.svc.Assign(ctx, b.ID, Occupant{PatientID: uuid.New()})
	expectKind(t, err, apperr.KindConflict)

	avail := StatusAvailable
	got, err = f.svc.Update(ctx, f.hospital, b.ID, Patch{Status: &avail})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.IsAvailable {
		t.Error("expected bed to be available again")
	}

	occupied := StatusOccupied
	_, err = f.svc.Update(ctx, f.hospital, b.ID, Patch{Status: &occupied})
	expectKind(t, err, apperr.KindConflict)
}

func TestUpdate_RejectedStatusWritesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.createBed(t, "101", "A", 1000)

	price := 2500.0
	room := "202"
	occupied := StatusOccupied
	_, err := f.svc.Update(ctx, f.hospital, b.ID, Patch{PricePerDay: &price, RoomNumber: &room, Status: &occupied})
	expectKind(t, err, apperr.KindConflict)

	bogus := Status("Broken")
	_, err = f.svc.Update(ctx, f.hospital, b.ID, Patch{PricePerDay: &price, Status: &bogus})
	expectKind(t, err, apperr.KindValidation)

	got, err := f.svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PricePerDay != 1000 || got.RoomNumber != "101" || !got.IsAvailable {
		t.Errorf("expected bed unchanged, got %+v", got)
	}
}

func TestUpdate_StatusOfOccupiedBed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.createBed(t, "101", "A", 1000)
	if _, err := f.svc.Assign(ctx, b.ID, Occupant{PatientID: uuid.New()}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	reserved := StatusReserved
	_, err := f.svc.Update(ctx, f.hospital, b.ID, Patch{Status: &reserved})
	expectKind(t, err, apperr.KindConflict)

	// Attribute edits leave occupancy alone
	price := 2000.0
	got, err := f.svc.Update(ctx, f.hospital, b.ID, Patch{PricePerDay: &price})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != StatusOccupied || got.Occupant == nil {
		t.Errorf("expected occupancy untouched, got %+v", got)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.createBed(t, "101", "A", 1000)
	if _, err := f.svc.Assign(ctx, b.ID, Occupant{PatientID: uuid.New()}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	expectKind(t, f.svc.Delete(ctx, f.hospital, b.ID), apperr.KindConflict)

	if _, err := f.svc.Release(ctx, b.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.svc.Delete(ctx, f.hospital, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := f.svc.Get(ctx, b.ID)
	expectKind(t, err, apperr.KindNotFound)
}

func TestListAndSummary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.createBed(t, "101", "A", 1000)
	f.createBed(t, "101", "B", 1000)
	f.createBed(t, "102", "A", 500)
	if _, err := f.svc.Assign(ctx, a.ID, Occupant{PatientID: uuid.New()}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	items, total, err := f.svc.List(ctx, Filter{HospitalID: f.hospital.ID, Status: StatusAvailable}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 available beds, got %d", total)
	}

	_, _, err = f.svc.List(ctx, Filter{}, 10, 0)
	expectKind(t, err, apperr.KindValidation)

	s, err := f.svc.Summary(ctx, f.hospital.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Total != 3 || s.Available != 2 || s.ByStatus[StatusOccupied] != 1 || s.ByType[TypeICU] != 3 {
		t.Errorf("unexpected summary %+v", s)
	}
}
