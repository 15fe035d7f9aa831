package alerts

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/railops/railportal/internal/portal/events"
)

func newTestStore(t *testing.T, bus *events.Bus) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "alerts.db"), bus)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func int64p(v int64) *int64 { return &v }

func TestCreateDefaults(t *testing.T) {
	store := newTestStore(t, nil)

	alert, err := store.Create(CreateInput{
		Type:   "crowd_surge",
		Module: "crowdflow",
		Title:  "Platform 3 overcrowded",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if alert.ID == 0 {
		t.Error("no ID assigned")
	}
	if alert.Severity != SeverityMedium {
		t.Errorf("severity = %q, want medium", alert.Severity)
	}
	if alert.Status != StatusActive {
		t.Errorf("status = %q, want active", alert.Status)
	}
	if alert.ResolvedAt != nil {
		t.Error("resolvedAt set on new alert")
	}
	if alert.CreatedAt.IsZero() || !alert.CreatedAt.Equal(alert.UpdatedAt) {
		t.Error("createdAt/updatedAt not stamped together")
	}
}

func TestCreateValidation(t *testing.T) {
	store := newTestStore(t, nil)

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing type", CreateInput{Module: "m", Title: "t"}},
		{"missing module", CreateInput{Type: "x", Title: "t"}},
		{"missing title", CreateInput{Type: "x", Module: "m"}},
		{"bad severity", CreateInput{Type: "x", Module: "m", Title: "t", Severity: "urgent"}},
		{"bad status", CreateInput{Type: "x", Module: "m", Title: "t", Status: "pending"}},
	}
	for _, tc := range cases {
		if _, err := store.Create(tc.in); !IsValidation(err) {
			t.Errorf("%s: err = %v, want validation error", tc.name, err)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t, nil)

	if _, err := store.Get(42); !IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t, nil)

	a1, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "station 1 active", StationID: int64p(1)})
	store.Create(CreateInput{Type: "x", Module: "m", Title: "station 2 active", StationID: int64p(2)})
	a3, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "station 1 resolved", StationID: int64p(1)})
	store.UpdateStatus(a3.ID, StatusResolved, "")

	all, err := store.List(nil, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	station1, _ := store.List(int64p(1), "")
	if len(station1) != 2 {
		t.Errorf("station 1 alerts = %d, want 2", len(station1))
	}

	active, _ := store.List(nil, StatusActive)
	if len(active) != 2 {
		t.Errorf("active alerts = %d, want 2", len(active))
	}

	both, _ := store.List(int64p(1), StatusActive)
	if len(both) != 1 || both[0].ID != a1.ID {
		t.Errorf("station 1 active = %v, want only alert %d", both, a1.ID)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t, nil)

	first, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "first"})
	second, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "second"})

	list, err := store.List(nil, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("order = [%d %d], want [%d %d]", list[0].ID, list[1].ID, second.ID, first.ID)
	}
}

func TestUpdateStatusResolveStampsTimestamp(t *testing.T) {
	store := newTestStore(t, nil)

	alert, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "t"})

	updated, err := store.UpdateStatus(alert.ID, StatusResolved, "staff-7")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != StatusResolved {
		t.Errorf("status = %q, want resolved", updated.Status)
	}
	if updated.ResolvedAt == nil {
		t.Fatal("resolvedAt not stamped")
	}
	if updated.AssignedTo != "staff-7" {
		t.Errorf("assignedTo = %q, want staff-7", updated.AssignedTo)
	}
}

func TestUpdateStatusKeepsResolvedAt(t *testing.T) {
	store := newTestStore(t, nil)

	alert, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "t"})
	resolved, _ := store.UpdateStatus(alert.ID, StatusResolved, "")
	stamp := *resolved.ResolvedAt

	reopened, err := store.UpdateStatus(alert.ID, StatusActive, "")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if reopened.ResolvedAt == nil || !reopened.ResolvedAt.Equal(stamp) {
		t.Errorf("resolvedAt = %v, want preserved %v", reopened.ResolvedAt, stamp)
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	store := newTestStore(t, nil)

	alert, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "t"})

	if _, err := store.UpdateStatus(alert.ID, "archived", ""); !IsValidation(err) {
		t.Errorf("bad status err = %v, want validation error", err)
	}
	if _, err := store.UpdateStatus(9999, StatusResolved, ""); !IsNotFound(err) {
		t.Errorf("missing alert err = %v, want not found", err)
	}
}

func TestActiveForAssignee(t *testing.T) {
	store := newTestStore(t, nil)

	mine, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "mine", AssignedTo: "staff-7"})
	store.Create(CreateInput{Type: "x", Module: "m", Title: "theirs", AssignedTo: "staff-9"})
	done, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "done", AssignedTo: "staff-7"})
	store.UpdateStatus(done.ID, StatusResolved, "")

	list, err := store.ActiveForAssignee("staff-7")
	if err != nil {
		t.Fatalf("ActiveForAssignee: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Errorf("list = %v, want only alert %d", list, mine.ID)
	}
}

func TestLocationAndMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t, nil)

	created, err := store.Create(CreateInput{
		Type:     "medical",
		Module:   "medical",
		Title:    "passenger collapsed",
		Location: &Location{Latitude: 28.6419, Longitude: 77.2194, Address: "New Delhi, Platform 1"},
		Metadata: map[string]any{"coach": "B4"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Location == nil || got.Location.Address != "New Delhi, Platform 1" {
		t.Errorf("location = %+v", got.Location)
	}
	if got.Metadata["coach"] != "B4" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestCountsForDashboard(t *testing.T) {
	store := newTestStore(t, nil)

	store.Create(CreateInput{Type: "x", Module: "m", Title: "a", StationID: int64p(1)})
	store.Create(CreateInput{Type: "x", Module: "m", Title: "b", StationID: int64p(2)})
	resolved, _ := store.Create(CreateInput{Type: "x", Module: "m", Title: "c", StationID: int64p(1)})
	store.UpdateStatus(resolved.ID, StatusResolved, "")

	active, err := store.CountActive(nil)
	if err != nil || active != 2 {
		t.Errorf("CountActive = %d, %v; want 2", active, err)
	}
	activeStation1, _ := store.CountActive(int64p(1))
	if activeStation1 != 1 {
		t.Errorf("CountActive(station 1) = %d, want 1", activeStation1)
	}

	since, err := store.CountResolvedSince(time.Now().Add(-time.Hour), nil)
	if err != nil || since != 1 {
		t.Errorf("CountResolvedSince = %d, %v; want 1", since, err)
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	bus := events.NewBus(16)
	store := newTestStore(t, bus)

	ch := bus.Subscribe("test")
	defer bus.Unsubscribe("test")

	alert, err := store.Create(CreateInput{Type: "x", Module: "m", Title: "t", StationID: int64p(5)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != events.AlertCreated {
			t.Errorf("event type = %q, want %q", evt.Type, events.AlertCreated)
		}
		if evt.StationID != 5 {
			t.Errorf("event stationId = %d, want 5", evt.StationID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after Create")
	}

	if _, err := store.UpdateStatus(alert.ID, StatusResolved, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != events.AlertUpdated {
			t.Errorf("event type = %q, want %q", evt.Type, events.AlertUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after UpdateStatus")
	}
}
