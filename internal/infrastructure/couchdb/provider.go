package couchdb

import (
	"context"
	"encoding/json"
	"net/http"

	kivik "github.com/go-kivik/kivik/v4"

	"github.com/baechuer/sofauth/internal/couch"
	"github.com/baechuer/sofauth/internal/domain"
)

// Provider drives databases, security documents and design docs on the
// server.
type Provider struct {
	client *kivik.Client
}

func NewProvider(client *kivik.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) CreateDB(ctx context.Context, name string) error {
	if err := p.client.CreateDB(ctx, name); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

func (p *Provider) DBExists(ctx context.Context, name string) (bool, error) {
	exists, err := p.client.DBExists(ctx, name)
	if err != nil {
		return false, domain.ErrDBUnavailable(err)
	}
	return exists, nil
}

func (p *Provider) DestroyDB(ctx context.Context, name string) error {
	if err := p.client.DestroyDB(ctx, name); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrKeyNotFound()
		}
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

func (p *Provider) Security(ctx context.Context, name string) (*couch.SecurityDoc, error) {
	sec, err := p.client.DB(name).Security(ctx)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrKeyNotFound()
		}
		return nil, domain.ErrDBUnavailable(err)
	}
	return &couch.SecurityDoc{
		Admins: couch.Members{
			Names: append([]string(nil), sec.Admins.Names...),
			Roles: append([]string(nil), sec.Admins.Roles...),
		},
		Members: couch.Members{
			Names: append([]string(nil), sec.Members.Names...),
			Roles: append([]string(nil), sec.Members.Roles...),
		},
	}, nil
}

func (p *Provider) SetSecurity(ctx context.Context, name string, sec *couch.SecurityDoc) error {
	ksec := &kivik.Security{
		Admins:  kivik.Members{Names: sec.Admins.Names, Roles: sec.Admins.Roles},
		Members: kivik.Members{Names: sec.Members.Names, Roles: sec.Members.Roles},
	}
	if err := p.client.DB(name).SetSecurity(ctx, ksec); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrKeyNotFound()
		}
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

// PutDesign upserts one design document, carrying the current revision
// forward when the document already exists.
func (p *Provider) PutDesign(ctx context.Context, dbName string, dd *couch.DesignDoc) error {
	db := p.client.DB(dbName)

	var current struct {
		Rev string `json:"_rev"`
	}
	err := db.Get(ctx, dd.ID).ScanDoc(&current)
	switch {
	case err == nil:
		dd.Rev = current.Rev
	case kivik.HTTPStatus(err) == http.StatusNotFound:
		dd.Rev = ""
	default:
		return domain.ErrDBUnavailable(err)
	}

	raw, err := json.Marshal(dd)
	if err != nil {
		return domain.ErrInternal(err)
	}
	if _, err := db.Put(ctx, dd.ID, json.RawMessage(raw)); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}
