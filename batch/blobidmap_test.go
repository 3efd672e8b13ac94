package batch

import "testing"

func TestBlobIDMapInsertLookupRemove(t *testing.T) {
	m := NewBlobIDMap()
	client := BlobID{High: 1, Low: 2}
	engine := BlobID{High: 9, Low: 9}

	if err := m.Insert(client, engine); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok := m.Lookup(client)
	if !ok || got != engine {
		t.Fatalf("Lookup = %v, %v; want %v, true", got, ok, engine)
	}

	removed, err := m.Remove(client)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != engine {
		t.Fatalf("Remove returned %v, want %v", removed, engine)
	}

	if _, ok := m.Lookup(client); ok {
		t.Fatalf("expected client id to be gone after Remove")
	}
}

func TestBlobIDMapDuplicateInsertFails(t *testing.T) {
	m := NewBlobIDMap()
	client := BlobID{High: 1, Low: 2}
	if err := m.Insert(client, BlobID{Low: 1}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	err := m.Insert(client, BlobID{Low: 2})
	if err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}
	be, ok := err.(*BatchError)
	if !ok || be.Kind != KindDuplicateBlobID {
		t.Fatalf("expected KindDuplicateBlobID, got %v", err)
	}
}

func TestBlobIDMapRemoveUnknownFails(t *testing.T) {
	m := NewBlobIDMap()
	_, err := m.Remove(BlobID{Low: 42})
	if err == nil {
		t.Fatalf("expected removing an unknown id to fail")
	}
	be, ok := err.(*BatchError)
	if !ok || be.Kind != KindUnknownBlobID {
		t.Fatalf("expected KindUnknownBlobID, got %v", err)
	}
}

func TestBlobIDMapClear(t *testing.T) {
	m := NewBlobIDMap()
	_ = m.Insert(BlobID{Low: 1}, BlobID{Low: 2})
	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("expected empty map after Clear, got %d entries", m.Len())
	}
}
