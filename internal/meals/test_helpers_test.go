package meals

import "testing"

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustDateKey(t *testing.T, value string) DateKey {
	t.Helper()
	key, err := NewDateKey(value)
	if err != nil {
		t.Fatalf("unexpected date key error: %v", err)
	}
	return key
}

func mustSlotID(t *testing.T, value int64) SlotID {
	t.Helper()
	id, err := NewSlotID(value)
	if err != nil {
		t.Fatalf("unexpected slot id error: %v", err)
	}
	return id
}
