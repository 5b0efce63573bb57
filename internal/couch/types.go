// Package couch holds the CouchDB wire shapes shared by the db-auth manager
// and the store implementations.
package couch

import "slices"

type DesignDoc struct {
	ID       string          `json:"_id,omitempty"`
	Rev      string          `json:"_rev,omitempty"`
	Language string          `json:"language,omitempty"`
	Views    map[string]View `json:"views,omitempty"`
}

type View struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// SecurityDoc is a database _security document. Empty slices marshal as
// omitted, which CouchDB treats the same as [].
type SecurityDoc struct {
	Admins  Members `json:"admins"`
	Members Members `json:"members"`
}

type Members struct {
	Names []string `json:"names,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

func (m *Members) AddName(name string) {
	if !slices.Contains(m.Names, name) {
		m.Names = append(m.Names, name)
	}
}

func (m *Members) RemoveName(name string) {
	m.Names = slices.DeleteFunc(m.Names, func(n string) bool { return n == name })
}

func (m *Members) AddRoles(roles []string) {
	for _, r := range roles {
		if r != "" && !slices.Contains(m.Roles, r) {
			m.Roles = append(m.Roles, r)
		}
	}
}

func (m *Members) HasName(name string) bool {
	return slices.Contains(m.Names, name)
}
