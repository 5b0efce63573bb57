package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/baechuer/sofauth/internal/couch"
	"github.com/baechuer/sofauth/internal/domain"
)

type dbState struct {
	security couch.SecurityDoc
	designs  map[string]*couch.DesignDoc
}

// Provider simulates the database server for dev mode and tests: databases,
// their _security documents and design docs.
type Provider struct {
	mu  sync.RWMutex
	dbs map[string]*dbState
}

func NewProvider() *Provider {
	return &Provider{dbs: make(map[string]*dbState)}
}

func (p *Provider) CreateDB(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dbs[name]; ok {
		return fmt.Errorf("memory: db %q already exists", name)
	}
	p.dbs[name] = &dbState{designs: make(map[string]*couch.DesignDoc)}
	return nil
}

func (p *Provider) DBExists(_ context.Context, name string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.dbs[name]
	return ok, nil
}

func (p *Provider) DestroyDB(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dbs[name]; !ok {
		return domain.ErrKeyNotFound()
	}
	delete(p.dbs, name)
	return nil
}

func (p *Provider) Security(_ context.Context, name string) (*couch.SecurityDoc, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	db, ok := p.dbs[name]
	if !ok {
		return nil, domain.ErrKeyNotFound()
	}
	sec := db.security
	sec.Admins.Names = append([]string(nil), db.security.Admins.Names...)
	sec.Admins.Roles = append([]string(nil), db.security.Admins.Roles...)
	sec.Members.Names = append([]string(nil), db.security.Members.Names...)
	sec.Members.Roles = append([]string(nil), db.security.Members.Roles...)
	return &sec, nil
}

func (p *Provider) SetSecurity(_ context.Context, name string, sec *couch.SecurityDoc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	db, ok := p.dbs[name]
	if !ok {
		return domain.ErrKeyNotFound()
	}
	db.security = *sec
	return nil
}

func (p *Provider) PutDesign(_ context.Context, dbName string, dd *couch.DesignDoc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	db, ok := p.dbs[dbName]
	if !ok {
		return domain.ErrKeyNotFound()
	}
	raw, err := json.Marshal(dd)
	if err != nil {
		return domain.ErrInternal(err)
	}
	var copied couch.DesignDoc
	if err := json.Unmarshal(raw, &copied); err != nil {
		return domain.ErrInternal(err)
	}
	db.designs[dd.ID] = &copied
	return nil
}

// Design returns a stored design doc, for tests.
func (p *Provider) Design(dbName, id string) (*couch.DesignDoc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	db, ok := p.dbs[dbName]
	if !ok {
		return nil, false
	}
	dd, ok := db.designs[id]
	return dd, ok
}
