// File: api/types_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "testing"

func TestConnTypeEncoding(t *testing.T) {
	cases := []struct {
		ct        ConnType
		transport ConnType
		role      ConnType
		valid     bool
	}{
		{TCP | Server, TCP, Server, true},
		{TCP | Client, TCP, Client, true},
		{UDP | Server, UDP, Server, true},
		{UDP | Client, UDP, Client, true},
		{TCP, TCP, 0, false},
		{Server, 0, Server, false},
		{TCP | UDP | Server, TCP | UDP, Server, false},
		{0xFF, 0xF0, 0x0F, false},
		{0, 0, 0, false},
	}
	for _, c := range cases {
		if got := c.ct.Transport(); got != c.transport {
			t.Errorf("%#x Transport = %#x, want %#x", uint8(c.ct), uint8(got), uint8(c.transport))
		}
		if got := c.ct.Role(); got != c.role {
			t.Errorf("%#x Role = %#x, want %#x", uint8(c.ct), uint8(got), uint8(c.role))
		}
		if got := c.ct.Valid(); got != c.valid {
			t.Errorf("%#x Valid = %v, want %v", uint8(c.ct), got, c.valid)
		}
	}
}

func TestConnTypeString(t *testing.T) {
	if s := (TCP | Server).String(); s == "" {
		t.Fatal("empty string for valid type")
	}
	if (TCP | Server).String() == (UDP | Client).String() {
		t.Fatal("distinct types share a string form")
	}
}

func TestInvalidIDSentinel(t *testing.T) {
	if InvalidID != ^uint64(0) {
		t.Fatalf("InvalidID = %#x", InvalidID)
	}
}
