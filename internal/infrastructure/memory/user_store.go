package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/baechuer/sofauth/internal/domain"
)

// UserStore is the in-process document store used in dev mode and tests. It
// mirrors the semantics the CouchDB store provides: revision-checked writes
// and the auth views, evaluated in Go instead of a design document.
type UserStore struct {
	mu        sync.RWMutex
	docs      map[string]*domain.UserDoc
	providers []string
}

func NewUserStore() *UserStore {
	return &UserStore{docs: make(map[string]*domain.UserDoc)}
}

func cloneDoc(doc *domain.UserDoc) (*domain.UserDoc, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out domain.UserDoc
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func nextRev(cur string) string {
	n := 0
	if i := strings.IndexByte(cur, '-'); i > 0 {
		n, _ = strconv.Atoi(cur[:i])
	}
	return fmt.Sprintf("%d-mem", n+1)
}

func (s *UserStore) Get(_ context.Context, id string) (*domain.UserDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrUserNotFound()
	}
	out, err := cloneDoc(doc)
	if err != nil {
		return nil, domain.ErrInternal(err)
	}
	return out, nil
}

// Put stores the document under optimistic concurrency: the incoming revision
// must match the stored one (or be empty for a fresh document). On success the
// document's Rev is advanced in place and returned.
func (s *UserStore) Put(_ context.Context, doc *domain.UserDoc) (string, error) {
	if doc.ID == "" {
		return "", domain.ErrInternal(fmt.Errorf("memory: put without _id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.docs[doc.ID]
	if exists && cur.Rev != doc.Rev {
		return "", domain.ErrRevisionConflict(nil)
	}
	if !exists && doc.Rev != "" {
		return "", domain.ErrRevisionConflict(nil)
	}
	doc.Rev = nextRev(doc.Rev)
	stored, err := cloneDoc(doc)
	if err != nil {
		return "", domain.ErrInternal(err)
	}
	s.docs[doc.ID] = stored
	return doc.Rev, nil
}

func (s *UserStore) Delete(_ context.Context, doc *domain.UserDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[doc.ID]
	if !ok {
		return domain.ErrUserNotFound()
	}
	if cur.Rev != doc.Rev {
		return domain.ErrRevisionConflict(nil)
	}
	delete(s.docs, doc.ID)
	return nil
}

// EnsureViews records the federated providers so their lookup views answer.
// The CouchDB store seeds _design/auth here; nothing to materialize in memory.
func (s *UserStore) EnsureViews(_ context.Context, providers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range providers {
		if p != domain.ProviderLocal && !slices.Contains(s.providers, p) {
			s.providers = append(s.providers, p)
		}
	}
	return nil
}

// QueryView evaluates an auth view. Rows keep stable (id, key) ordering.
func (s *UserStore) QueryView(_ context.Context, view, key string, includeDocs bool) ([]domain.ViewRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []domain.ViewRow
	emit := func(doc *domain.UserDoc, emitted string) {
		if emitted == "" || emitted != key {
			return
		}
		row := domain.ViewRow{ID: doc.ID, Key: emitted}
		if includeDocs {
			copied, err := cloneDoc(doc)
			if err == nil {
				row.Doc = copied
			}
		}
		rows = append(rows, row)
	}

	for _, id := range s.sortedIDs() {
		doc := s.docs[id]
		if doc.Type != "user" {
			continue
		}
		switch view {
		case "username":
			// Documents created under the username->_id rename carry no
			// username field; the id is the username.
			if doc.Username != "" {
				emit(doc, doc.Username)
			} else {
				emit(doc, doc.ID)
			}
		case "email":
			emit(doc, doc.Email)
		case "phone":
			emit(doc, doc.Phone)
		case "emailUsername":
			emit(doc, doc.Email)
			if doc.Username != doc.Email {
				emit(doc, doc.Username)
			}
		case "passwordReset":
			if doc.ForgotPassword != nil {
				emit(doc, doc.ForgotPassword.Token)
			}
		case "verifyEmail":
			if doc.UnverifiedEmail != nil {
				emit(doc, doc.UnverifiedEmail.Token)
			}
		case "session":
			for k := range doc.Session {
				emit(doc, k)
			}
		default:
			if !slices.Contains(s.providers, view) {
				return nil, domain.ErrInternal(fmt.Errorf("memory: unknown view %q", view))
			}
			if acct, ok := doc.Accounts[view]; ok && acct.Profile != nil {
				if id, ok := acct.Profile["id"]; ok {
					emit(doc, fmt.Sprint(id))
				}
			}
		}
	}
	return rows, nil
}

// AllDocsRange lists document ids in [startKey, endKey], both inclusive,
// lexicographically ordered.
func (s *UserStore) AllDocsRange(_ context.Context, startKey, endKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.sortedIDs() {
		if id >= startKey && id <= endKey {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *UserStore) sortedIDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
