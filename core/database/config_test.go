package database

import "testing"

func TestSessionSlotsLeaveRoomInPool(t *testing.T) {
	cases := []struct {
		max, pool, slots int
	}{
		{0, 10, 5},
		{2, 2, 1},
		{1, 2, 1},
		{25, 25, 12},
	}
	for _, tc := range cases {
		c := Config{MaxConnections: tc.max}
		if got := c.PoolSize(); got != tc.pool {
			t.Fatalf("max=%d: pool = %d, want %d", tc.max, got, tc.pool)
		}
		if got := c.SessionSlots(); got != tc.slots {
			t.Fatalf("max=%d: slots = %d, want %d", tc.max, got, tc.slots)
		}
	}
}
