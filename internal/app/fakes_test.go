package app_test

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"reputation_hub/internal/domain"
)

// ---- repository ----

type fakeRepo struct {
	mu sync.Mutex

	locations   map[string]domain.Location
	members     map[string]bool // loc|user
	connections map[string]domain.Connection
	reviews     []domain.Review
	convs       []domain.Conversation
	messages    []domain.Message
	comments    []domain.Comment
	drafts      []domain.ReplyDraft
	sent        []string // target|id marked sent
	states      map[string]domain.SyncState
	tokens      map[string]domain.OAuthToken

	listReviewsCalls int
	failStore        error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		locations:   map[string]domain.Location{},
		members:     map[string]bool{},
		connections: map[string]domain.Connection{},
		states:      map[string]domain.SyncState{},
		tokens:      map[string]domain.OAuthToken{},
	}
}

func (f *fakeRepo) addLocation(id, name, user string) {
	f.locations[id] = domain.Location{ID: id, Name: name, CreatedAt: time.Now()}
	f.members[id+"|"+user] = true
}

func (f *fakeRepo) addConnection(c domain.Connection) {
	if c.ID == "" {
		c.ID = string(c.Platform) + "-" + c.LocationID
	}
	if c.Status == "" {
		c.Status = domain.ConnectionActive
	}
	f.connections[c.LocationID+"|"+string(c.Platform)] = c
}

func (f *fakeRepo) ListLocationsForUser(ctx context.Context, userID string) ([]domain.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Location
	for id, l := range f.locations {
		if f.members[id+"|"+userID] {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRepo) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locations[id]
	if !ok {
		return domain.Location{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeRepo) IsMember(ctx context.Context, loc, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[loc+"|"+user], nil
}

func (f *fakeRepo) UpsertConnection(ctx context.Context, c domain.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addConnection(c)
	return nil
}

func (f *fakeRepo) UpdateConnectionToken(ctx context.Context, id string, tok domain.OAuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[id] = tok
	return nil
}

func (f *fakeRepo) SetConnectionStatus(ctx context.Context, id string, st domain.ConnectionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, c := range f.connections {
		if c.ID == id {
			c.Status = st
			f.connections[k] = c
		}
	}
	return nil
}

func (f *fakeRepo) DeleteConnection(ctx context.Context, loc string, p domain.Platform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := loc + "|" + string(p)
	if _, ok := f.connections[k]; !ok {
		return domain.ErrNotFound
	}
	delete(f.connections, k)
	return nil
}

func (f *fakeRepo) GetConnection(ctx context.Context, loc string, p domain.Platform) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[loc+"|"+string(p)]
	if !ok {
		return domain.Connection{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) FindConnectionByAccount(ctx context.Context, p domain.Platform, account string) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connections {
		if c.Platform == p && c.ExternalAccountID == account && c.Status != domain.ConnectionDisconnected {
			return c, nil
		}
	}
	return domain.Connection{}, domain.ErrNotFound
}

func (f *fakeRepo) ListConnections(ctx context.Context, loc string) ([]domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Connection
	for _, c := range f.connections {
		if c.LocationID == loc {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (f *fakeRepo) ListActiveConnections(ctx context.Context) ([]domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Connection
	for _, c := range f.connections {
		if c.Status == domain.ConnectionActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertReviews(ctx context.Context, rs []domain.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStore != nil {
		return f.failStore
	}
next:
	for _, r := range rs {
		for i, have := range f.reviews {
			if have.LocationID == r.LocationID && have.ExternalReviewID == r.ExternalReviewID {
				r.ID = have.ID
				f.reviews[i] = r
				continue next
			}
		}
		r.ID = int64(len(f.reviews) + 1)
		f.reviews = append(f.reviews, r)
	}
	return nil
}

func (f *fakeRepo) SetReviewReply(ctx context.Context, loc string, id int64, text *string, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.reviews {
		if r.LocationID == loc && r.ID == id {
			f.reviews[i].ReplyText, f.reviews[i].ReplyUpdatedAt = text, at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeRepo) GetReview(ctx context.Context, loc string, id int64) (domain.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.LocationID == loc && r.ID == id {
			return r, nil
		}
	}
	return domain.Review{}, domain.ErrNotFound
}

func (f *fakeRepo) ListReviews(ctx context.Context, loc string, q domain.ReviewsQuery) (domain.ReviewsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listReviewsCalls++
	var out domain.ReviewsPage
	for _, r := range f.reviews {
		if r.LocationID == loc {
			out.Items = append(out.Items, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) StoreMessage(ctx context.Context, c domain.Conversation, m domain.Message) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStore != nil {
		return domain.Message{}, f.failStore
	}
	for _, have := range f.messages {
		if have.Platform == m.Platform && have.MessageMID == m.MessageMID {
			return domain.Message{}, domain.ErrDuplicate
		}
	}
	idx := -1
	for i, have := range f.convs {
		if have.LocationID == c.LocationID && have.Platform == c.Platform && have.ParticipantID == c.ParticipantID {
			idx = i
		}
	}
	if idx < 0 {
		c.ID = int64(len(f.convs) + 1)
		f.convs = append(f.convs, c)
		idx = len(f.convs) - 1
	}
	conv := &f.convs[idx]
	if c.ParticipantUsername != nil {
		conv.ParticipantUsername = c.ParticipantUsername
	}
	conv.LastMessageAt, conv.LastMessageText = m.SentAt, m.Text
	if m.Direction == domain.Inbound {
		conv.UnreadCount++
	} else {
		conv.UnreadCount = 0
	}
	m.ID = int64(len(f.messages) + 1)
	m.ConversationID = conv.ID
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeRepo) GetConversation(ctx context.Context, loc string, id int64) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.LocationID == loc && c.ID == id {
			return c, nil
		}
	}
	return domain.Conversation{}, domain.ErrNotFound
}

func (f *fakeRepo) ListConversations(ctx context.Context, loc string, pg domain.PageQuery) (domain.ConversationsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out domain.ConversationsPage
	for _, c := range f.convs {
		if c.LocationID == loc {
			out.Items = append(out.Items, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListMessages(ctx context.Context, loc string, conv int64, pg domain.PageQuery) (domain.MessagesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out domain.MessagesPage
	for _, m := range f.messages {
		if m.LocationID == loc && m.ConversationID == conv {
			out.Items = append(out.Items, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) LastInbound(ctx context.Context, loc string, conv int64, n int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.LocationID == loc && m.ConversationID == conv && m.Direction == domain.Inbound {
			out = append(out, m)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (f *fakeRepo) InsertComment(ctx context.Context, c domain.Comment) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStore != nil {
		return 0, f.failStore
	}
	for _, have := range f.comments {
		if have.Platform == c.Platform && have.ExternalCommentID == c.ExternalCommentID {
			return 0, domain.ErrDuplicate
		}
	}
	c.ID = int64(len(f.comments) + 1)
	f.comments = append(f.comments, c)
	return c.ID, nil
}

func (f *fakeRepo) SetCommentReply(ctx context.Context, loc string, id int64, text, ext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.comments {
		if c.LocationID == loc && c.ID == id {
			f.comments[i].ReplyText, f.comments[i].ReplyExternalID = &text, &ext
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeRepo) GetComment(ctx context.Context, loc string, id int64) (domain.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.comments {
		if c.LocationID == loc && c.ID == id {
			return c, nil
		}
	}
	return domain.Comment{}, domain.ErrNotFound
}

func (f *fakeRepo) ListComments(ctx context.Context, loc string, pg domain.PageQuery) (domain.CommentsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out domain.CommentsPage
	for _, c := range f.comments {
		if c.LocationID == loc {
			out.Items = append(out.Items, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertDraft(ctx context.Context, d domain.ReplyDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, d)
	return nil
}

func (f *fakeRepo) MarkDraftsSent(ctx context.Context, loc string, t domain.DraftTarget, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(t)+"|"+itoa(id))
	return nil
}

func (f *fakeRepo) SaveSyncState(ctx context.Context, s domain.SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[s.LocationID+"|"+s.Source] = s
	return nil
}

func (f *fakeRepo) ListSyncStates(ctx context.Context, loc string) ([]domain.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SyncState
	for _, s := range f.states {
		if s.LocationID == loc {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) Analytics(ctx context.Context, loc string, since time.Time) (domain.Analytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var a domain.Analytics
	for _, r := range f.reviews {
		if r.LocationID == loc && !r.CreatedAt.Before(since) {
			a.ReviewCount++
		}
	}
	return a, nil
}

// ---- cache, dedupe, events ----

// fakeCache round-trips through JSON like the redis cache does.
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string][]byte{}} }

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

func (c *fakeCache) DelPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.store {
		if strings.HasPrefix(k, prefix) {
			delete(c.store, k)
		}
	}
	return nil
}

type fakeDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedupe() *fakeDedupe { return &fakeDedupe{seen: map[string]bool{}} }

func (d *fakeDedupe) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *fakeDedupe) Mark(ctx context.Context, key string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
	return nil
}

type fakeEvents struct {
	mu  sync.Mutex
	evs []domain.RealtimeEvent
}

func (e *fakeEvents) Publish(ctx context.Context, ev domain.RealtimeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evs = append(e.evs, ev)
	return nil
}

func (e *fakeEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.evs {
		out = append(out, ev.Type)
	}
	return out
}

// ---- platforms ----

type fakeMeta struct {
	sent      []string // recipient|text
	replies   []string // comment|text
	media     []map[string]any
	comments  map[string][]map[string]any
	usernames map[string]string
	err       error
	nextMID   string
}

func (m *fakeMeta) SendMessage(ctx context.Context, conn domain.Connection, recipient, text string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, recipient+"|"+text)
	if m.nextMID == "" {
		return "m_sent", nil
	}
	return m.nextMID, nil
}

func (m *fakeMeta) ReplyToComment(ctx context.Context, conn domain.Connection, commentID, text string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.replies = append(m.replies, commentID+"|"+text)
	return "reply_" + commentID, nil
}

func (m *fakeMeta) ListMedia(ctx context.Context, conn domain.Connection, limit int) ([]map[string]any, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.media, nil
}

func (m *fakeMeta) ListComments(ctx context.Context, conn domain.Connection, mediaID string) ([]map[string]any, error) {
	if m.err != nil {
		return nil, m.err
	}
	cs, ok := m.comments[mediaID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cs, nil
}

func (m *fakeMeta) GetUsername(ctx context.Context, conn domain.Connection, userID string) (string, error) {
	if n, ok := m.usernames[userID]; ok {
		return n, nil
	}
	return "", domain.ErrNotFound
}

type fakeGoogle struct {
	pages   map[string]domain.GoogleReviewsPage // page token -> page
	calls   []string
	updated map[string]string
	deleted []string
	err     error
}

func (g *fakeGoogle) ListReviews(ctx context.Context, conn domain.Connection, pageToken string) (domain.GoogleReviewsPage, error) {
	g.calls = append(g.calls, pageToken)
	if g.err != nil {
		return domain.GoogleReviewsPage{}, g.err
	}
	return g.pages[pageToken], nil
}

func (g *fakeGoogle) UpdateReply(ctx context.Context, conn domain.Connection, name, text string) error {
	if g.err != nil {
		return g.err
	}
	if g.updated == nil {
		g.updated = map[string]string{}
	}
	g.updated[name] = text
	return nil
}

func (g *fakeGoogle) DeleteReply(ctx context.Context, conn domain.Connection, name string) error {
	if g.err != nil {
		return g.err
	}
	g.deleted = append(g.deleted, name)
	return nil
}

type fakeGenerator struct {
	last domain.DraftRequest
	err  error
}

func (g *fakeGenerator) Generate(ctx context.Context, req domain.DraftRequest) (string, string, error) {
	g.last = req
	if g.err != nil {
		return "", "", g.err
	}
	return "Thanks " + req.AuthorName + "!", "test-model", nil
}

// ---- helpers ----

func ptr[T any](v T) *T { return &v }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }
