package domain

import "testing"

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"courier":    RoleCourier,
		" DRIVER ":   RoleDriver,
		"moderator":  RoleModerator,
		"guest":      RoleClient,
		"":           RoleClient,
		"superadmin": RoleClient,
	}
	for in, want := range cases {
		if got := NormalizeRole(in); got != want {
			t.Fatalf("NormalizeRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChangeRoleKeepsModerator(t *testing.T) {
	if got := ChangeRole(RoleModerator, RoleCourier); got != RoleModerator {
		t.Fatalf("moderator overwritten with %q", got)
	}
	if got := ChangeRole(RoleClient, RoleDriver); got != RoleDriver {
		t.Fatalf("client -> driver gave %q", got)
	}
	if got := ChangeRole(RoleCourier, Role("bogus")); got != RoleClient {
		t.Fatalf("unknown requested role gave %q", got)
	}
}

func TestExecutorRoleMapping(t *testing.T) {
	if e, ok := RoleDriver.ExecutorRole(); !ok || e != ExecutorDriver {
		t.Fatalf("driver mapping: %q %v", e, ok)
	}
	if _, ok := RoleModerator.ExecutorRole(); ok {
		t.Fatal("moderator is not an executor")
	}
	if ExecutorDriver.AccessChannel() != ChannelDrivers || ExecutorCourier.AccessChannel() != ChannelCouriers {
		t.Fatal("unexpected access channels")
	}
	if _, ok := ParseExecutorRole("client"); ok {
		t.Fatal("client parsed as executor")
	}
}
