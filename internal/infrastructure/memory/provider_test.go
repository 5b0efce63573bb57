package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/baechuer/sofauth/internal/couch"
	"github.com/baechuer/sofauth/internal/domain"
)

func TestProvider_DatabaseLifecycle(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()

	exists, err := p.DBExists(ctx, "userdb_notes$u1")
	if err != nil || exists {
		t.Fatalf("fresh provider should not know the db: %v %v", exists, err)
	}

	if err := p.CreateDB(ctx, "userdb_notes$u1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := p.CreateDB(ctx, "userdb_notes$u1"); err == nil {
		t.Fatal("duplicate create should fail")
	}

	exists, err = p.DBExists(ctx, "userdb_notes$u1")
	if err != nil || !exists {
		t.Fatalf("db should exist: %v %v", exists, err)
	}

	if err := p.DestroyDB(ctx, "userdb_notes$u1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := p.DestroyDB(ctx, "userdb_notes$u1"); !domain.Is(err, "key_not_found") {
		t.Fatalf("expected key_not_found on second destroy, got %v", err)
	}
}

func TestProvider_SecurityRoundTrip(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()

	if _, err := p.Security(ctx, "nope"); !domain.Is(err, "key_not_found") {
		t.Fatalf("expected key_not_found for missing db, got %v", err)
	}

	if err := p.CreateDB(ctx, "shared"); err != nil {
		t.Fatalf("create: %v", err)
	}
	sec := &couch.SecurityDoc{}
	sec.Members.AddName("kirby")
	sec.Members.AddRoles([]string{"user"})
	if err := p.SetSecurity(ctx, "shared", sec); err != nil {
		t.Fatalf("set security: %v", err)
	}

	got, err := p.Security(ctx, "shared")
	if err != nil {
		t.Fatalf("security: %v", err)
	}
	if !got.Members.HasName("kirby") || len(got.Members.Roles) != 1 {
		t.Fatalf("unexpected security %+v", got)
	}

	// the returned doc is a copy; mutations must not reach the stored one
	got.Members.AddName("dedede")
	again, _ := p.Security(ctx, "shared")
	if again.Members.HasName("dedede") {
		t.Fatal("provider aliased its security document")
	}
}

func TestProvider_DesignDocs(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()

	dd := couch.AuthDesignDoc("")
	if err := p.PutDesign(ctx, "sl-users", dd); !domain.Is(err, "key_not_found") {
		t.Fatalf("expected key_not_found for missing db, got %v", err)
	}

	if err := p.CreateDB(ctx, "sl-users"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := p.PutDesign(ctx, "sl-users", dd); err != nil {
		t.Fatalf("put design: %v", err)
	}

	// the store keeps its own copy of the document
	dd.Views["username"] = couch.View{Map: "mutated"}

	stored, ok := p.Design("sl-users", "_design/auth")
	if !ok {
		t.Fatal("design doc not stored")
	}
	if stored.Views["username"].Map == "mutated" {
		t.Fatal("provider aliased the input design doc")
	}
	if !strings.Contains(stored.Views["email"].Map, "doc.email") {
		t.Fatalf("unexpected email view %q", stored.Views["email"].Map)
	}

	if _, ok := p.Design("sl-users", "_design/other"); ok {
		t.Fatal("unknown design id should not resolve")
	}
	if _, ok := p.Design("elsewhere", "_design/auth"); ok {
		t.Fatal("unknown db should not resolve")
	}
}
