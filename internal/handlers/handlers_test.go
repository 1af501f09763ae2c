package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OfficialDeepSwap/A2A/internal/api/middleware"
	"github.com/OfficialDeepSwap/A2A/internal/ledger"
	"github.com/OfficialDeepSwap/A2A/internal/models"
	"github.com/OfficialDeepSwap/A2A/internal/store"
)

const testCallerHeader = "X-Test-Caller"

type testServer struct {
	t      *testing.T
	ledger *ledger.Ledger
	clock  *ledger.ManualClock
	mux    *chi.Mux
}

// newTestServer routes the handlers without signature checks; the caller is
// taken from testCallerHeader.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithRedis(t, nil)
}

// newTestServerWithRedis also publishes ledger events to rs when it is set.
func newTestServerWithRedis(t *testing.T, rs *store.RedisStore) *testServer {
	t.Helper()
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	opts := []ledger.Option{ledger.WithClock(clock)}
	if rs != nil {
		opts = append(opts, ledger.WithNotifier(rs))
	}
	l := ledger.New(opts...)
	h := NewHandler(l, nil, rs, zerolog.Nop(), 16)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s := r.Header.Get(testCallerHeader); s != "" {
				r = r.WithContext(middleware.WithCaller(r.Context(), models.MustParseAddress(s)))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/agents", h.ListAgents)
	r.Get("/agents/search", h.Search)
	r.Get("/agents/by-name/{name}", h.AgentByName)
	r.Get("/agents/{id}", h.GetAgent)
	r.Get("/messages/recent", h.RecentMessages)
	r.Get("/messages/{id}", h.GetMessage)
	r.Get("/threads/{a}/{b}", h.GetThread)
	r.Post("/register", h.Register)
	r.Put("/agents/me", h.UpdateMe)
	r.Post("/agents/me/deactivate", h.Deactivate)
	r.Post("/agents/me/reactivate", h.Reactivate)
	r.Post("/agents/{id}/reputation", h.AdjustReputation)
	r.Post("/agents/{id}/message-count", h.IncrementMessageCount)
	r.Post("/messages", h.SendMessage)
	r.Get("/messages/sent", h.SentMessages)
	r.Get("/messages/received", h.ReceivedMessages)
	r.Get("/messages/unread", h.UnreadMessages)
	r.Post("/messages/{id}/read", h.MarkAsRead)
	r.Post("/messages/cleanup", h.CleanupExpired)
	r.Get("/notifications", h.Notifications)

	return &testServer{t: t, ledger: l, clock: clock, mux: r}
}

func (s *testServer) do(method, path string, caller *models.Address, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(testCallerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func addr(b byte) models.Address {
	var a models.Address
	a[19] = b
	return a
}

func ptr(a models.Address) *models.Address { return &a }

func (s *testServer) register(caller models.Address, name string, caps ...string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/register", &caller, RegisterRequest{Name: name, PublicKey: "pk-" + name, Capabilities: caps})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) send(from, to models.Address, req SendMessageRequest) models.Hash {
	s.t.Helper()
	req.Recipient = to
	rec := s.do(http.MethodPost, "/messages", &from, req)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp SendMessageResponse
	decode(s.t, rec, &resp)
	return resp.ID
}

func TestRegisterAndLookup(t *testing.T) {
	s := newTestServer(t)
	alice := addr(1)

	rec := s.do(http.MethodPost, "/register", &alice, RegisterRequest{Name: "  Alice\x07 ", PublicKey: "pk", Capabilities: []string{"translate"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg RegisterResponse
	decode(t, rec, &reg)
	assert.Equal(t, alice.Hex(), reg.ID)
	assert.Equal(t, "/agents/"+alice.Hex(), reg.ProfileURL)

	rec = s.do(http.MethodGet, "/agents/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agent models.Agent
	decode(t, rec, &agent)
	assert.Equal(t, "Alice", agent.Name)
	assert.Equal(t, models.InitialReputation, agent.Reputation)
	assert.True(t, agent.IsActive)

	rec = s.do(http.MethodGet, "/agents/by-name/Alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byName map[string]models.Address
	decode(t, rec, &byName)
	assert.Equal(t, alice, byName["id"])

	rec = s.do(http.MethodGet, "/agents/search?capability=translate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var search SearchResponse
	decode(t, rec, &search)
	assert.Equal(t, []models.Address{alice}, search.Agents)
}

func TestRegisterNameLength(t *testing.T) {
	s := newTestServer(t)

	// 100 two-byte characters fit; byte length does not count.
	long := strings.Repeat("é", maxNameLength)
	s.register(addr(1), long)
	rec := s.do(http.MethodGet, "/agents/"+addr(1).Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agent models.Agent
	decode(t, rec, &agent)
	assert.Equal(t, long, agent.Name)

	// Names sharing their first 100 bytes stay distinct.
	prefix := strings.Repeat("é", 50)
	s.register(addr(2), prefix+"-one")
	s.register(addr(3), prefix+"-two")
	id, ok := s.ledger.AgentByName(prefix + "-two")
	require.True(t, ok)
	assert.Equal(t, addr(3), id)

	rec = s.do(http.MethodPost, "/register", ptr(addr(4)), RegisterRequest{Name: long + "x", PublicKey: "pk"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "validation", body.Kind)
	assert.Contains(t, body.Error, "100")
	assert.Equal(t, 3, s.ledger.AgentCount())
}

func TestLookupByNameIsSanitized(t *testing.T) {
	s := newTestServer(t)
	s.register(addr(1), "  Bob\t ")

	for _, path := range []string{"/agents/by-name/Bob", "/agents/by-name/%20Bob%20", "/agents/by-name/Bob%09"} {
		rec := s.do(http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var byName map[string]models.Address
		decode(t, rec, &byName)
		assert.Equal(t, addr(1), byName["id"], path)
	}
}

func TestLedgerErrorMapping(t *testing.T) {
	s := newTestServer(t)
	alice, bob := addr(1), addr(2)
	s.register(alice, "alice")

	cases := []struct {
		name   string
		rec    *httptest.ResponseRecorder
		status int
		kind   string
	}{
		{
			name:   "validation",
			rec:    s.do(http.MethodPost, "/register", &alice, RegisterRequest{Name: "again", PublicKey: "pk"}),
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name:   "state",
			rec:    s.do(http.MethodPost, "/messages", &bob, SendMessageRequest{Recipient: alice, EncryptedContent: []byte("x")}),
			status: http.StatusConflict,
			kind:   "state",
		},
		{
			name:   "not found",
			rec:    s.do(http.MethodGet, "/agents/"+bob.Hex(), nil, nil),
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:   "unknown name",
			rec:    s.do(http.MethodGet, "/agents/by-name/nobody", nil, nil),
			status: http.StatusNotFound,
			kind:   "not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, tc.rec.Code)
			var body ErrorResponse
			decode(t, tc.rec, &body)
			assert.Equal(t, tc.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestBadInput(t *testing.T) {
	s := newTestServer(t)
	alice := addr(1)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/agents/not-an-address", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/messages/0x1234", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/agents/search", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/register", nil, RegisterRequest{Name: "x", PublicKey: "y"}).Code)

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"type":"telegram"}`))
	req.Header.Set(testCallerHeader, alice.Hex())
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageFlow(t *testing.T) {
	s := newTestServer(t)
	alice, bob := addr(1), addr(2)
	s.register(alice, "alice")
	s.register(bob, "bob")

	id := s.send(alice, bob, SendMessageRequest{
		EncryptedContent: []byte("sealed"),
		ContentHash:      models.Hash{0x01},
		Type:             models.TypeRequest,
	})

	rec := s.do(http.MethodGet, "/messages/unread?full=true", &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unread MessageListResponse
	decode(t, rec, &unread)
	assert.Equal(t, []models.Hash{id}, unread.Messages)
	require.Len(t, unread.Records, 1)
	assert.Equal(t, []byte("sealed"), unread.Records[0].EncryptedContent)
	assert.Equal(t, models.TypeRequest, unread.Records[0].Type)

	rec = s.do(http.MethodGet, "/messages/sent", &alice, nil)
	var sent MessageListResponse
	decode(t, rec, &sent)
	assert.Equal(t, []models.Hash{id}, sent.Messages)
	assert.Nil(t, sent.Records)

	// Only the recipient may mark it read.
	rec = s.do(http.MethodPost, "/messages/"+id.Hex()+"/read", &alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/messages/"+id.Hex()+"/read", &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msg models.Message
	decode(t, rec, &msg)
	assert.Equal(t, models.StatusRead, msg.Status)

	agent, err := s.ledger.Agent(alice)
	require.NoError(t, err)
	assert.Equal(t, models.InitialReputation+1, agent.Reputation)

	rec = s.do(http.MethodGet, "/threads/"+bob.Hex()+"/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var thread ThreadResponse
	decode(t, rec, &thread)
	assert.Equal(t, alice, thread.Thread.ParticipantA)
	assert.Equal(t, bob, thread.Thread.ParticipantB)
	assert.Equal(t, []models.Hash{id}, thread.Messages)
	assert.Equal(t, msg.ThreadID, thread.Thread.ID)

	rec = s.do(http.MethodGet, "/messages/recent?n=5", nil, nil)
	var recent MessageListResponse
	decode(t, rec, &recent)
	assert.Equal(t, []models.Hash{id}, recent.Messages)
}

func TestContentLimit(t *testing.T) {
	s := newTestServer(t)
	alice, bob := addr(1), addr(2)
	s.register(alice, "alice")
	s.register(bob, "bob")

	rec := s.do(http.MethodPost, "/messages", &alice, SendMessageRequest{Recipient: bob, EncryptedContent: make([]byte, 17)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uint64(0), s.ledger.TotalMessageCount())
}

func TestCleanupExpired(t *testing.T) {
	s := newTestServer(t)
	alice, bob := addr(1), addr(2)
	s.register(alice, "alice")
	s.register(bob, "bob")

	short := s.send(alice, bob, SendMessageRequest{EncryptedContent: []byte("a"), TTLSeconds: 10})
	forever := s.send(alice, bob, SendMessageRequest{EncryptedContent: []byte("b")})
	s.clock.Advance(11 * time.Second)

	rec := s.do(http.MethodPost, "/messages/cleanup", &bob, CleanupRequest{IDs: []models.Hash{short, forever, {0xff}}})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CleanupResponse
	decode(t, rec, &resp)
	assert.Equal(t, []models.Hash{short}, resp.Expired)

	rec = s.do(http.MethodPost, "/messages/"+short.Hex()+"/read", &bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/messages/cleanup", &bob, CleanupRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice, bob := addr(1), addr(2)
	s.register(alice, "alice", "a")
	s.register(bob, "bob")

	rec := s.do(http.MethodPut, "/agents/me", &alice, UpdateAgentRequest{Capabilities: []string{"b"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var agent models.Agent
	decode(t, rec, &agent)
	assert.Equal(t, []string{"b"}, agent.Capabilities)
	assert.Equal(t, "pk-alice", agent.PublicKey)

	rec = s.do(http.MethodPost, "/agents/me/deactivate", &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/agents", nil, nil)
	var list AgentListResponse
	decode(t, rec, &list)
	assert.Equal(t, []models.Address{alice}, list.Agents)

	rec = s.do(http.MethodPost, "/messages", &alice, SendMessageRequest{Recipient: bob, EncryptedContent: []byte("x")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/agents/me/reactivate", &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/agents/"+bob.Hex()+"/reputation", &alice, ReputationRequest{Delta: -150})
	require.Equal(t, http.StatusOK, rec.Code)
	var rep map[string]uint64
	decode(t, rec, &rep)
	assert.Equal(t, uint64(0), rep["reputation"])

	rec = s.do(http.MethodPost, "/agents/"+bob.Hex()+"/message-count", &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &agent)
	assert.Equal(t, uint64(1), agent.TotalMessages)
}

func TestStatsAndHealth(t *testing.T) {
	s := newTestServer(t)
	alice, bob := addr(1), addr(2)
	s.register(alice, "alice")
	s.register(bob, "bob")
	s.send(alice, bob, SendMessageRequest{EncryptedContent: []byte("x")})

	rec := s.do(http.MethodGet, "/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.Agents)
	assert.Equal(t, uint64(1), stats.Messages)
	assert.Equal(t, 1, stats.Threads)
	assert.Equal(t, 1, stats.Unread)
	require.Len(t, stats.RecentMessages, 1)
	assert.Equal(t, "alice", stats.RecentMessages[0].SenderName)

	rec = s.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "skip", health.Checks["database"].Status)

	rec = s.do(http.MethodGet, "/notifications", &alice, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotificationsFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rs.Close() })
	s := newTestServerWithRedis(t, rs)
	alice, bob := addr(1), addr(2)
	s.register(alice, "alice")
	s.register(bob, "bob")
	id := s.send(alice, bob, SendMessageRequest{EncryptedContent: []byte("x")})

	rec := s.do(http.MethodGet, "/notifications", &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp NotificationsResponse
	decode(t, rec, &resp)
	require.Equal(t, 3, resp.Total)
	types := make(map[models.EventType]models.Event)
	for _, ev := range resp.Events {
		types[ev.Type] = ev
	}
	assert.Contains(t, types, models.EventAgentRegistered)
	assert.Contains(t, types, models.EventThreadCreated)
	require.Contains(t, types, models.EventMessageDelivered)
	assert.Equal(t, id, types[models.EventMessageDelivered].MessageID)
	assert.Equal(t, alice, types[models.EventMessageDelivered].Counterparty)

	// The sender sees the thread and the delivery too.
	rec = s.do(http.MethodGet, "/notifications", &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var forAlice NotificationsResponse
	decode(t, rec, &forAlice)
	assert.Equal(t, 3, forAlice.Total)

	cursor := types[models.EventMessageDelivered].ID
	rec = s.do(http.MethodGet, "/notifications?after="+cursor, &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var newer NotificationsResponse
	decode(t, rec, &newer)
	assert.Empty(t, newer.Events)

	require.NoError(t, s.ledger.MarkAsRead(context.Background(), bob, id))
	rec = s.do(http.MethodGet, "/notifications?after="+cursor, &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &newer)
	require.Len(t, newer.Events, 1)
	assert.Equal(t, models.EventMessageRead, newer.Events[0].Type)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/notifications?after=nope", &bob, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/notifications", nil, nil).Code)
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatTimeAgo(now))
	assert.Equal(t, "1 minute ago", formatTimeAgo(now.Add(-90*time.Second)))
	assert.Equal(t, "5 hours ago", formatTimeAgo(now.Add(-5*time.Hour-time.Minute)))
	assert.Equal(t, "2 days ago", formatTimeAgo(now.Add(-49*time.Hour)))
}
