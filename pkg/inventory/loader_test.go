package inventory

import (
	"strings"
	"testing"
)

const sampleInventory = `
hosts:
  - id: db1
    address: 10.0.0.5
    user: admin
    groups: [db]
  - id: app1
    address: 10.0.0.10
    user: admin
  - id: app2
    address: 10.0.0.11
    user: admin
groups:
  - name: app
    hosts: [app1, app2]
`

func TestParse_MergesInlineAndEnumeratedGroups(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	db := inv.Group("db")
	if db == nil {
		t.Fatal("expected db group from inline membership")
	}
	if len(db.Hosts) != 1 || db.Hosts[0] != "db1" {
		t.Errorf("expected db=[db1], got %v", db.Hosts)
	}

	app := inv.Group("app")
	if app == nil || len(app.Hosts) != 2 {
		t.Fatalf("expected app group with 2 hosts, got %v", app)
	}
	if app.Hosts[0] != "app1" || app.Hosts[1] != "app2" {
		t.Errorf("expected ordered membership [app1 app2], got %v", app.Hosts)
	}
}

func TestParse_DefaultPort(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Host("db1").Port != 22 {
		t.Errorf("expected default port 22, got %d", inv.Host("db1").Port)
	}
}

func TestParse_PrimaryHostIsFirstMember(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	primary := inv.PrimaryHost("app")
	if primary == nil || primary.ID != "app1" {
		t.Errorf("expected app1 as primary host, got %v", primary)
	}

	if inv.PrimaryHost("missing") != nil {
		t.Error("expected nil primary for unknown group")
	}
}

func TestParse_DuplicateHostID(t *testing.T) {
	content := `
hosts:
  - {id: db1, address: 10.0.0.5}
  - {id: db1, address: 10.0.0.6}
`
	_, err := Parse([]byte(content))
	if err == nil || !strings.Contains(err.Error(), "duplicate host id") {
		t.Errorf("expected duplicate host error, got %v", err)
	}
}

func TestParse_UnknownGroupMember(t *testing.T) {
	content := `
hosts:
  - {id: db1, address: 10.0.0.5}
groups:
  - name: db
    hosts: [db2]
`
	_, err := Parse([]byte(content))
	if err == nil || !strings.Contains(err.Error(), "unknown host") {
		t.Errorf("expected unknown host error, got %v", err)
	}
}

func TestParse_MissingAddress(t *testing.T) {
	content := `
hosts:
  - id: db1
`
	_, err := Parse([]byte(content))
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("expected validation error, got %v", err)
	}
}
