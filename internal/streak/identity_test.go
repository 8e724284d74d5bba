package streak_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

func TestDeriveAddress_deterministic(t *testing.T) {
	a := streak.DeriveAddress(streak.DefaultNamespace, owner(1))
	b := streak.DeriveAddress(streak.DefaultNamespace, owner(1))
	if a != b {
		t.Fatal("same inputs produced different addresses")
	}
	if a == streak.DeriveAddress(streak.DefaultNamespace, owner(2)) {
		t.Error("different owners share an address")
	}
}

func TestDeriveAddress_namespacesDisjoint(t *testing.T) {
	seen := make(map[streak.Address]string)
	for _, ns := range []streak.Namespace{"streak_2025", "streak_2026", "s", "streak_202"} {
		for b := byte(0); b < 16; b++ {
			addr := streak.DeriveAddress(ns, owner(b))
			key := string(ns) + "/" + owner(b).String()
			if prev, dup := seen[addr]; dup {
				t.Fatalf("address collision between %s and %s", prev, key)
			}
			seen[addr] = key
		}
	}
}

func TestIdentity_textRoundTrip(t *testing.T) {
	id := owner(0x42)
	parsed, err := streak.ParseIdentity(id.String())
	if err != nil {
		t.Fatalf("ParseIdentity: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: %s vs %s", parsed, id)
	}

	rec := streak.Initialize(id, 1)
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"owner":"`+id.String()+`"`) {
		t.Errorf("owner not encoded as base58: %s", body)
	}
	var back streak.Record
	if err := json.Unmarshal(body, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != rec {
		t.Errorf("json round trip = %+v, want %+v", back, rec)
	}
}

func TestParseIdentity_rejects(t *testing.T) {
	for _, in := range []string{"", "0OIl", "3mJr7AoUXx2Wqd"} {
		if _, err := streak.ParseIdentity(in); err == nil {
			t.Errorf("ParseIdentity(%q) should fail", in)
		}
	}
}

func TestNamespace_Validate(t *testing.T) {
	if err := streak.DefaultNamespace.Validate(); err != nil {
		t.Errorf("default namespace invalid: %v", err)
	}
	if err := streak.Namespace("").Validate(); err == nil {
		t.Error("empty namespace should fail")
	}
	if err := streak.Namespace(strings.Repeat("x", streak.MaxNamespaceLen+1)).Validate(); err == nil {
		t.Error("oversized namespace should fail")
	}
}

func TestParseAddress(t *testing.T) {
	addr := streak.DeriveAddress(streak.DefaultNamespace, owner(3))
	back, err := streak.ParseAddress(addr.String())
	if err != nil {
		t.Fatal(err)
	}
	if back != addr {
		t.Error("address round trip mismatch")
	}
}
