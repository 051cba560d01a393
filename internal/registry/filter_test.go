package registry

import "testing"

func TestFilterMatch(t *testing.T) {
	f := Filter{Type: FilterMatch, Body: "MISSION START"}
	if !f.Matches("MISSION START") {
		t.Error("exact match should match")
	}
	if f.Matches("MISSION START EXTRA") {
		t.Error("MATCH should require full equality")
	}
}

func TestFilterAction(t *testing.T) {
	f := Filter{Type: FilterAction, Body: "MISSION"}
	if !f.Matches("MISSIONX") {
		t.Error("ACTION is a literal leading-substring match, no boundary required")
	}
	if !f.Matches("MISSION START") {
		t.Error("ACTION should match when body is a literal prefix")
	}
	if f.Matches("MISS") {
		t.Error("payload shorter than body cannot match")
	}
}

func TestFilterPrefix(t *testing.T) {
	f := Filter{Type: FilterPrefix, Body: "MISSION"}
	if !f.Matches("MISSION START") {
		t.Error("PREFIX should match when the next byte after body is a space")
	}
	if f.Matches("MISSIONX") {
		t.Error("PREFIX should not match when the next byte after body is not a space")
	}
	if f.Matches("MISSION") {
		t.Error("PREFIX should not match when body is the entire payload with nothing after it")
	}
}

func TestClientWithNoFiltersMatchesNothing(t *testing.T) {
	c := &Client{}
	if c.CheckFilters("anything") {
		t.Error("a client with zero filters should match nothing")
	}
}
