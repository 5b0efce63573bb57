package couch

import (
	"encoding/json"
	"testing"
)

func TestMembersNames(t *testing.T) {
	var m Members

	m.AddName("kirby")
	m.AddName("kirby")
	m.AddName("dedede")
	if len(m.Names) != 2 {
		t.Fatalf("expected deduplicated names, got %v", m.Names)
	}
	if !m.HasName("kirby") || m.HasName("meta") {
		t.Fatalf("unexpected membership %v", m.Names)
	}

	m.RemoveName("kirby")
	if m.HasName("kirby") || len(m.Names) != 1 {
		t.Fatalf("remove left %v", m.Names)
	}
	m.RemoveName("never-there")
	if len(m.Names) != 1 {
		t.Fatalf("removing a stranger changed %v", m.Names)
	}
}

func TestMembersAddRoles(t *testing.T) {
	var m Members

	m.AddRoles([]string{"user", "", "user", "admin"})
	if len(m.Roles) != 2 || m.Roles[0] != "user" || m.Roles[1] != "admin" {
		t.Fatalf("unexpected roles %v", m.Roles)
	}
}

func TestSecurityDocJSONShape(t *testing.T) {
	raw, err := json.Marshal(&SecurityDoc{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"admins":{},"members":{}}` {
		t.Fatalf("unexpected empty shape %s", raw)
	}

	var sec SecurityDoc
	sec.Members.AddName("kirby")
	raw, _ = json.Marshal(&sec)
	if string(raw) != `{"admins":{},"members":{"names":["kirby"]}}` {
		t.Fatalf("unexpected shape %s", raw)
	}
}
