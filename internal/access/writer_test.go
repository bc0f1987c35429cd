package access

import (
	"context"
	"testing"
	"time"
)

func TestWriterDeniedAlwaysRecorded(t *testing.T) {
	store := NewInMemory()
	w := NewWriter(store, 0) // sample rate zero: allows dropped entirely

	for i := 0; i < 20; i++ {
		w.Record(&Entry{UserID: "u1", Resource: "campaign", Action: "write", Allowed: false, Reason: "no rule matched"})
	}
	w.Record(&Entry{UserID: "u1", Resource: "campaign", Action: "read", Allowed: true, Reason: "role default"})
	w.Close()

	got, err := store.List(context.Background(), ListQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Fatalf("recorded %d entries, want 20 denials and no allows", len(got))
	}
	for _, e := range got {
		if e.Allowed {
			t.Fatalf("allowed entry recorded despite zero sample rate")
		}
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Fatalf("entry missing id or timestamp: %+v", e)
		}
	}
}

func TestWriterAllowsAtFullRate(t *testing.T) {
	store := NewInMemory()
	w := NewWriter(store, 1)

	w.Record(&Entry{UserID: "u1", Resource: "analytics", Action: "read", Allowed: true, Reason: "role default"})
	w.Close()

	got, err := store.List(context.Background(), ListQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(got))
	}
}

func TestWriterCloseFlushes(t *testing.T) {
	store := NewInMemory()
	w := NewWriter(store, 1)
	for i := 0; i < 100; i++ {
		w.Record(&Entry{UserID: "u1", Resource: "crm", Action: "write", Allowed: false, Reason: "no rule matched"})
	}
	w.Close()

	deadline := time.Now().Add(time.Second)
	for {
		got, err := store.List(context.Background(), ListQuery{Limit: 1000})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 100 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("flushed %d entries, want 100", len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInMemoryListFilters(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	entries := []*Entry{
		{ID: "1", UserID: "u1", OrganizationID: "org1", Allowed: false, CreatedAt: time.Now().Add(-2 * time.Minute)},
		{ID: "2", UserID: "u2", OrganizationID: "org1", Allowed: true, CreatedAt: time.Now().Add(-time.Minute)},
		{ID: "3", UserID: "u1", OrganizationID: "org2", Allowed: false, CreatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.List(ctx, ListQuery{OrganizationID: "org1", DeniedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("got %+v, want only entry 1", got)
	}

	got, err = store.List(ctx, ListQuery{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "3" {
		t.Fatalf("got %d entries, want 2 newest-first", len(got))
	}
}
