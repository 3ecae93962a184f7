// Package memory is an in-process implementation of store.Store for tests and local runs.
//
// Writes made inside a transaction are staged on the transaction and applied to the
// shared maps only when the callback returns nil. Member mutations of one organization
// are serialized by a per-organization mutex, which stands in for the row lock the
// PostgreSQL store takes.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/store"
)

type Store struct {
	mu sync.RWMutex

	orgs    map[string]*models.Organization
	members map[string]*models.Member
	audit   []*models.AuditEntry

	locksMu  sync.Mutex
	orgLocks map[string]*sync.Mutex

	// commitMu serializes commits so a transaction's staged writes land atomically
	commitMu sync.Mutex

	auditErr error
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		orgs:     make(map[string]*models.Organization),
		members:  make(map[string]*models.Member),
		orgLocks: make(map[string]*sync.Mutex),
	}
}

// FailAuditWrites makes every subsequent CreateAuditEntry return err; nil restores normal behaviour.
func (s *Store) FailAuditWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditErr = err
}

// AuditEntries returns a copy of every committed audit entry in insertion order
func (s *Store) AuditEntries() []*models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) orgLock(orgID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.orgLocks[orgID]
	if !ok {
		l = &sync.Mutex{}
		s.orgLocks[orgID] = l
	}
	return l
}

func (s *Store) WithinOrganization(ctx context.Context, orgID string, fn func(ctx context.Context, tx store.Tx) error) error {
	lock := s.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, ok := s.orgs[orgID]
	s.mu.RUnlock()
	if !ok {
		return store.ErrOrganizationNotFound
	}

	return s.run(ctx, fn)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:       s,
		orgs:    make(map[string]*models.Organization),
		members: make(map[string]*models.Member),
		links:   make(map[string]string),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return s.commit(t)
}

// commit applies staged writes, re-checking uniqueness against everything committed meanwhile.
func (s *Store) commit(t *tx) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range t.orgs {
		for id, existing := range s.orgs {
			if id != o.ID && existing.Slug == o.Slug {
				return store.ErrConflict
			}
		}
	}
	for _, m := range t.members {
		if m.IdentityID == nil {
			continue
		}
		for id, existing := range s.members {
			if id != m.ID && existing.OrganizationID == m.OrganizationID &&
				existing.IdentityID != nil && *existing.IdentityID == *m.IdentityID {
				return store.ErrConflict
			}
		}
	}

	// Links patch the committed row instead of replacing it, like the conditional
	// UPDATE of the PostgreSQL store.
	patched := make(map[string]*models.Member, len(t.links))
	for id, identity := range t.links {
		if _, staged := t.members[id]; staged {
			continue
		}
		cur, ok := s.members[id]
		if !ok || cur.IdentityID != nil || !cur.IsEnabled() {
			return store.ErrConflict
		}
		for otherID, existing := range s.members {
			if otherID != id && existing.OrganizationID == cur.OrganizationID &&
				existing.IdentityID != nil && *existing.IdentityID == identity {
				return store.ErrConflict
			}
		}
		c := cur.Clone()
		v := identity
		c.IdentityID = &v
		patched[id] = c
	}

	for id, o := range t.orgs {
		s.orgs[id] = o
	}
	for id, m := range t.members {
		s.members[id] = m
	}
	for id, m := range patched {
		s.members[id] = m
	}
	s.audit = append(s.audit, t.audit...)
	return nil
}

// tx stages writes until commit. It is used by a single goroutine.
type tx struct {
	s       *Store
	orgs    map[string]*models.Organization
	members map[string]*models.Member
	// links holds identity-only writes keyed by member id
	links map[string]string
	audit []*models.AuditEntry
}

func (t *tx) GetOrganization(_ context.Context, orgID string) (*models.Organization, error) {
	if o, ok := t.orgs[orgID]; ok {
		c := *o
		return &c, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	o, ok := t.s.orgs[orgID]
	if !ok {
		return nil, nil
	}
	c := *o
	return &c, nil
}

func (t *tx) CreateOrganization(_ context.Context, org *models.Organization) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if _, exists := t.s.orgs[org.ID]; exists {
		return store.ErrConflict
	}
	for _, existing := range t.s.orgs {
		if existing.Slug == org.Slug {
			return store.ErrConflict
		}
	}
	for _, staged := range t.orgs {
		if staged.Slug == org.Slug {
			return store.ErrConflict
		}
	}
	c := *org
	t.orgs[org.ID] = &c
	return nil
}

// memberView merges committed members with staged ones, staged winning
func (t *tx) memberView() map[string]*models.Member {
	t.s.mu.RLock()
	view := make(map[string]*models.Member, len(t.s.members)+len(t.members))
	for id, m := range t.s.members {
		view[id] = m
	}
	t.s.mu.RUnlock()
	for id, identity := range t.links {
		if m, ok := view[id]; ok {
			c := m.Clone()
			v := identity
			c.IdentityID = &v
			view[id] = c
		}
	}
	for id, m := range t.members {
		view[id] = m
	}
	return view
}

func (t *tx) GetMemberByIdentity(_ context.Context, orgID, identityID string) (*models.Member, error) {
	for _, m := range t.memberView() {
		if m.OrganizationID == orgID && m.IdentityID != nil && *m.IdentityID == identityID {
			return m.Clone(), nil
		}
	}
	return nil, nil
}

func (t *tx) GetMember(_ context.Context, orgID, memberID string) (*models.Member, error) {
	m, ok := t.memberView()[memberID]
	if !ok || m.OrganizationID != orgID {
		return nil, nil
	}
	return m.Clone(), nil
}

func (t *tx) ListMembers(_ context.Context, orgID string) ([]*models.Member, error) {
	var out []*models.Member
	for _, m := range t.memberView() {
		if m.OrganizationID == orgID {
			out = append(out, m.Clone())
		}
	}
	sortMembers(out)
	return out, nil
}

func (t *tx) CreateMember(_ context.Context, member *models.Member) error {
	view := t.memberView()
	if _, exists := view[member.ID]; exists {
		return store.ErrConflict
	}
	if member.IdentityID != nil {
		for _, m := range view {
			if m.OrganizationID == member.OrganizationID && m.IdentityID != nil && *m.IdentityID == *member.IdentityID {
				return store.ErrConflict
			}
		}
	}
	t.members[member.ID] = member.Clone()
	return nil
}

func (t *tx) UpdateMember(_ context.Context, member *models.Member) error {
	existing, ok := t.memberView()[member.ID]
	if !ok || existing.OrganizationID != member.OrganizationID {
		return store.ErrConflict
	}
	t.members[member.ID] = member.Clone()
	return nil
}

func (t *tx) LinkMemberIdentity(_ context.Context, orgID, memberID, identityID string) (bool, error) {
	view := t.memberView()
	m, ok := view[memberID]
	if !ok || m.OrganizationID != orgID || m.IdentityID != nil || !m.IsEnabled() {
		return false, nil
	}
	for _, other := range view {
		if other.OrganizationID == orgID && other.IdentityID != nil && *other.IdentityID == identityID {
			return false, store.ErrConflict
		}
	}
	if staged, ok := t.members[memberID]; ok {
		v := identityID
		staged.IdentityID = &v
		return true, nil
	}
	t.links[memberID] = identityID
	return true, nil
}

func (t *tx) ListUnlinkedMembersByEmail(_ context.Context, email string, orgID *string) ([]*models.Member, error) {
	var out []*models.Member
	for _, m := range t.memberView() {
		if m.IdentityID != nil || m.Email == nil || !strings.EqualFold(*m.Email, email) {
			continue
		}
		if orgID != nil && m.OrganizationID != *orgID {
			continue
		}
		out = append(out, m.Clone())
	}
	sortMembers(out)
	return out, nil
}

func (t *tx) CreateAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	t.s.mu.RLock()
	err := t.s.auditErr
	t.s.mu.RUnlock()
	if err != nil {
		return err
	}
	c := *entry
	t.audit = append(t.audit, &c)
	return nil
}

func (t *tx) ListAuditEntries(_ context.Context, f store.AuditFilters, limit, offset int) ([]*models.AuditEntry, int, error) {
	t.s.mu.RLock()
	all := make([]*models.AuditEntry, 0, len(t.s.audit)+len(t.audit))
	all = append(all, t.s.audit...)
	t.s.mu.RUnlock()
	all = append(all, t.audit...)

	var matched []*models.AuditEntry
	for _, e := range all {
		if matchesFilters(e, f) {
			matched = append(matched, e)
		}
	}
	// newest first; ULIDs sort by creation time
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []*models.AuditEntry{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]*models.AuditEntry, 0, end-offset)
	for _, e := range matched[offset:end] {
		c := *e
		out = append(out, &c)
	}
	return out, total, nil
}

func (t *tx) GetAuditEntry(_ context.Context, orgID, id string) (*models.AuditEntry, error) {
	t.s.mu.RLock()
	all := make([]*models.AuditEntry, 0, len(t.s.audit)+len(t.audit))
	all = append(all, t.s.audit...)
	t.s.mu.RUnlock()
	all = append(all, t.audit...)

	for _, e := range all {
		if e.OrganizationID == orgID && e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, nil
}

func matchesFilters(e *models.AuditEntry, f store.AuditFilters) bool {
	switch {
	case e.OrganizationID != f.OrganizationID:
		return false
	case f.ActorID != nil && e.ActorID != *f.ActorID:
		return false
	case f.EntityType != nil && e.EntityType != *f.EntityType:
		return false
	case f.EntityID != nil && e.EntityID != *f.EntityID:
		return false
	case f.Action != nil && e.Action != *f.Action:
		return false
	case f.Severity != nil && e.Severity != *f.Severity:
		return false
	case f.StartDate != nil && e.CreatedAt.Before(*f.StartDate):
		return false
	case f.EndDate != nil && e.CreatedAt.After(*f.EndDate):
		return false
	}
	return true
}

func sortMembers(ms []*models.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
