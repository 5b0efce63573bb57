package couchdb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/sofauth/internal/couch"
	"github.com/baechuer/sofauth/internal/domain"
)

func TestProvider_SecurityRoundTrip(t *testing.T) {
	var putBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mydb/_security", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, `{"admins":{"roles":["admin_role"]},"members":{"names":["key1"],"roles":["member_role"]}}`)
	})
	mux.HandleFunc("PUT /mydb/_security", func(w http.ResponseWriter, r *http.Request) {
		putBody, _ = io.ReadAll(r.Body)
		jsonResponse(w, http.StatusOK, `{"ok":true}`)
	})
	client := fakeCouch(t, mux)
	p := NewProvider(client)
	ctx := context.Background()

	sec, err := p.Security(ctx, "mydb")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin_role"}, sec.Admins.Roles)
	assert.Equal(t, []string{"key1"}, sec.Members.Names)

	sec.Members.AddName("key2")
	require.NoError(t, p.SetSecurity(ctx, "mydb", sec))

	var wire couch.SecurityDoc
	require.NoError(t, json.Unmarshal(putBody, &wire))
	assert.ElementsMatch(t, []string{"key1", "key2"}, wire.Members.Names)
	assert.Equal(t, []string{"member_role"}, wire.Members.Roles)
}

func TestProvider_SecurityMissingDB(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gone/_security", func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})
	client := fakeCouch(t, mux)

	_, err := NewProvider(client).Security(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, domain.Is(err, "key_not_found"))
}

func TestProvider_CreateAndDestroy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("HEAD /mydb", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	mux.HandleFunc("PUT /mydb", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusCreated, `{"ok":true}`)
	})
	mux.HandleFunc("DELETE /mydb", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, `{"ok":true}`)
	})
	client := fakeCouch(t, mux)
	p := NewProvider(client)
	ctx := context.Background()

	exists, err := p.DBExists(ctx, "mydb")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, p.CreateDB(ctx, "mydb"))
	require.NoError(t, p.DestroyDB(ctx, "mydb"))
}

func TestProvider_PutDesignCarriesRev(t *testing.T) {
	var putBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mydb/_design/mydesign", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, `{"_id":"_design/mydesign","_rev":"5-x","views":{}}`)
	})
	mux.HandleFunc("PUT /mydb/_design/mydesign", func(w http.ResponseWriter, r *http.Request) {
		putBody, _ = io.ReadAll(r.Body)
		jsonResponse(w, http.StatusCreated, `{"ok":true,"id":"_design/mydesign","rev":"6-y"}`)
	})
	client := fakeCouch(t, mux)

	dd := &couch.DesignDoc{ID: "_design/mydesign", Views: map[string]couch.View{
		"all": {Map: "function(doc){emit(doc._id);}"},
	}}
	require.NoError(t, NewProvider(client).PutDesign(context.Background(), "mydb", dd))

	var wire struct {
		Rev string `json:"_rev"`
	}
	require.NoError(t, json.Unmarshal(putBody, &wire))
	assert.Equal(t, "5-x", wire.Rev)
}
