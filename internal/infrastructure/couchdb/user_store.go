package couchdb

import (
	"context"
	"encoding/json"
	"net/http"

	kivik "github.com/go-kivik/kivik/v4"

	"github.com/baechuer/sofauth/internal/couch"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// UserStore keeps user documents in one CouchDB database. Deployments can
// rename the doc-type discriminator field; the store remaps it at the wire
// boundary so the rest of the code always sees "type".
type UserStore struct {
	client    *kivik.Client
	db        *kivik.DB
	dbName    string
	typeField string
}

func NewUserStore(client *kivik.Client, dbName, typeField string) *UserStore {
	if typeField == "" {
		typeField = "type"
	}
	return &UserStore{
		client:    client,
		db:        client.DB(dbName),
		dbName:    dbName,
		typeField: typeField,
	}
}

func (s *UserStore) Get(ctx context.Context, id string) (*domain.UserDoc, error) {
	var raw json.RawMessage
	if err := s.db.Get(ctx, id).ScanDoc(&raw); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrUserNotFound()
		}
		return nil, domain.ErrDBUnavailable(err)
	}
	return s.decodeUser(raw)
}

// Put writes the document and advances its revision in place. A stale
// revision surfaces as a conflict for the caller's retry loop.
func (s *UserStore) Put(ctx context.Context, doc *domain.UserDoc) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", domain.ErrInternal(err)
	}
	raw, err = renameField(raw, "type", s.typeField)
	if err != nil {
		return "", domain.ErrInternal(err)
	}
	rev, err := s.db.Put(ctx, doc.ID, json.RawMessage(raw))
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return "", domain.ErrRevisionConflict(err)
		}
		return "", domain.ErrDBUnavailable(err)
	}
	doc.Rev = rev
	return rev, nil
}

func (s *UserStore) Delete(ctx context.Context, doc *domain.UserDoc) error {
	_, err := s.db.Delete(ctx, doc.ID, doc.Rev)
	if err != nil {
		switch kivik.HTTPStatus(err) {
		case http.StatusNotFound:
			return domain.ErrUserNotFound()
		case http.StatusConflict:
			return domain.ErrRevisionConflict(err)
		}
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

// EnsureViews creates the user database when missing and seeds or refreshes
// the auth design document, including one lookup view per federated provider.
func (s *UserStore) EnsureViews(ctx context.Context, providers []string) error {
	exists, err := s.client.DBExists(ctx, s.dbName)
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	if !exists {
		if err := s.client.CreateDB(ctx, s.dbName); err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
			return domain.ErrDBUnavailable(err)
		}
	}

	dd := couch.AuthDesignDoc(s.typeField)
	util.AddProvidersToDesignDoc(s.typeField, providers, dd)

	var current couch.DesignDoc
	err = s.db.Get(ctx, dd.ID).ScanDoc(&current)
	switch {
	case err == nil:
		if viewsEqual(current.Views, dd.Views) {
			return nil
		}
		dd.Rev = current.Rev
	case kivik.HTTPStatus(err) == http.StatusNotFound:
		// first boot, fresh design doc
	default:
		return domain.ErrDBUnavailable(err)
	}

	if _, err := s.db.Put(ctx, dd.ID, dd); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

// QueryView runs one view of the auth design document with an exact key.
func (s *UserStore) QueryView(ctx context.Context, view, key string, includeDocs bool) ([]domain.ViewRow, error) {
	rs := s.db.Query(ctx, "_design/auth", "_view/"+view, kivik.Params(map[string]interface{}{
		"key":          key,
		"include_docs": includeDocs,
	}))
	defer rs.Close()

	var rows []domain.ViewRow
	for rs.Next() {
		id, err := rs.ID()
		if err != nil {
			return nil, domain.ErrDBUnavailable(err)
		}
		row := domain.ViewRow{ID: id}
		if err := rs.ScanKey(&row.Key); err != nil {
			return nil, domain.ErrDBUnavailable(err)
		}
		if includeDocs {
			var raw json.RawMessage
			if err := rs.ScanDoc(&raw); err != nil {
				return nil, domain.ErrDBUnavailable(err)
			}
			doc, err := s.decodeUser(raw)
			if err != nil {
				return nil, err
			}
			row.Doc = doc
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, domain.ErrDBUnavailable(err)
	}
	return rows, nil
}

// AllDocsRange lists document ids in [startKey, endKey], both inclusive.
func (s *UserStore) AllDocsRange(ctx context.Context, startKey, endKey string) ([]string, error) {
	rs := s.db.AllDocs(ctx, kivik.Params(map[string]interface{}{
		"startkey": startKey,
		"endkey":   endKey,
	}))
	defer rs.Close()

	var ids []string
	for rs.Next() {
		id, err := rs.ID()
		if err != nil {
			return nil, domain.ErrDBUnavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rs.Err(); err != nil {
		return nil, domain.ErrDBUnavailable(err)
	}
	return ids, nil
}

func (s *UserStore) decodeUser(raw json.RawMessage) (*domain.UserDoc, error) {
	mapped, err := renameField(raw, s.typeField, "type")
	if err != nil {
		return nil, domain.ErrInternal(err)
	}
	var doc domain.UserDoc
	if err := json.Unmarshal(mapped, &doc); err != nil {
		return nil, domain.ErrInternal(err)
	}
	return &doc, nil
}

// renameField moves one top-level JSON key. No-op when both names match or
// the key is absent.
func renameField(raw json.RawMessage, from, to string) (json.RawMessage, error) {
	if from == to {
		return raw, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	v, ok := m[from]
	if !ok {
		return raw, nil
	}
	delete(m, from)
	m[to] = v
	return json.Marshal(m)
}

func viewsEqual(a, b map[string]couch.View) bool {
	if len(a) != len(b) {
		return false
	}
	for name, av := range a {
		bv, ok := b[name]
		if !ok || av != bv {
			return false
		}
	}
	return true
}
