// Package couchdb implements the document store, database provider and
// credential store against CouchDB through kivik.
package couchdb

import (
	"context"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// Connect dials the database server and verifies it answers before handing
// the client out.
func Connect(ctx context.Context, cfg *config.DBServer) (*kivik.Client, error) {
	client, err := kivik.New("couch", util.GetDBURL(cfg))
	if err != nil {
		return nil, domain.ErrDBUnavailable(err)
	}
	verCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := client.Version(verCtx); err != nil {
		return nil, domain.ErrDBUnavailable(err)
	}
	return client, nil
}
