package users

import (
	"database/sql"
	"testing"
)

func TestDisplayName(t *testing.T) {
	cases := []struct {
		u    User
		want string
	}{
		{User{Username: sql.NullString{String: "ivan", Valid: true}}, "@ivan"},
		{User{FirstName: sql.NullString{String: "Ivan", Valid: true}, LastName: sql.NullString{String: "Petrov", Valid: true}}, "Ivan Petrov"},
		{User{TelegramID: 77}, "id77"},
	}
	for _, tc := range cases {
		if got := tc.u.DisplayName(); got != tc.want {
			t.Fatalf("DisplayName() = %q, want %q", got, tc.want)
		}
	}
}
