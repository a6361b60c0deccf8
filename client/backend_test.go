package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/team-chat/query"
)

type testUser struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	Email     string `json:"email,omitempty"`
}

type testMessage struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	DateCreated time.Time `json:"date_created"`
	UserCreated testUser  `json:"user_created"`
}

type fakeAccount struct {
	user     testUser
	password string
}

type fakeSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	uid     string
	filter  query.Filter
}

func (s *fakeSocket) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// fakeBackend speaks the team chat REST and realtime protocols over an
// httptest server.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]fakeAccount
	access   map[string]string
	refresh  map[string]string
	expired  map[string]bool
	messages []testMessage
	sockets  map[*fakeSocket]bool
	seq      int
	clock    time.Time
	ttl      time.Duration

	realtimeDown  bool
	failNextReads int

	logins        int
	refreshes     int
	creates       int
	dials         int
	unsubscribes  int
	subscriptions []query.Query
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:        t,
		accounts: map[string]fakeAccount{},
		access:   map[string]string{},
		refresh:  map[string]string{},
		expired:  map[string]bool{},
		sockets:  map[*fakeSocket]bool{},
		clock:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		ttl:      15 * time.Minute,
	}
	b.addUser("u-ada", "ada@example.com", "correct-horse", "Ada")
	b.addUser("u-bob", "bob@example.com", "battery-staple", "Bob")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.handleLogin)
	mux.HandleFunc("POST /auth/refresh", b.handleRefresh)
	mux.HandleFunc("POST /auth/logout", b.handleLogout)
	mux.HandleFunc("GET /users/me", b.handleMe)
	mux.HandleFunc("GET /items/messages", b.handleList)
	mux.HandleFunc("POST /items/messages", b.handleCreate)
	mux.HandleFunc("DELETE /items/messages/{id}", b.handleDelete)
	mux.HandleFunc("GET /websocket", b.handleSocket)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		b.dropSockets()
		b.srv.Close()
	})
	return b
}

func (b *fakeBackend) URL() string {
	return b.srv.URL
}

func (b *fakeBackend) addUser(id, email, password, firstName string) {
	b.accounts[email] = fakeAccount{
		user:     testUser{ID: id, FirstName: firstName, Email: email},
		password: password,
	}
}

func (b *fakeBackend) userByID(id string) testUser {
	for _, a := range b.accounts {
		if a.user.ID == id {
			return a.user
		}
	}
	return testUser{ID: id}
}

// issue mints a token pair for userID. Callers hold b.mu.
func (b *fakeBackend) issue(userID string) map[string]any {
	b.seq++
	access := fmt.Sprintf("access-%d", b.seq)
	refresh := fmt.Sprintf("refresh-%d", b.seq)
	b.access[access] = userID
	b.refresh[refresh] = userID
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires":       b.ttl.Milliseconds(),
	}
}

// expireAccessTokens makes every issued access token fail with TOKEN_EXPIRED.
func (b *fakeBackend) expireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for token := range b.access {
		b.expired[token] = true
	}
}

func (b *fakeBackend) setRealtimeDown(down bool) {
	b.mu.Lock()
	b.realtimeDown = down
	b.mu.Unlock()
}

// dropSockets closes every realtime connection without a close handshake.
func (b *fakeBackend) dropSockets() {
	b.mu.Lock()
	sockets := make([]*fakeSocket, 0, len(b.sockets))
	for s := range b.sockets {
		sockets = append(sockets, s)
	}
	b.sockets = map[*fakeSocket]bool{}
	b.mu.Unlock()

	for _, s := range sockets {
		s.conn.NetConn().Close()
	}
}

func (b *fakeBackend) socketCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sockets)
}

func (b *fakeBackend) stats() (logins, refreshes, creates, dials, unsubscribes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logins, b.refreshes, b.creates, b.dials, b.unsubscribes
}

func (b *fakeBackend) lastSubscription() query.Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subscriptions) == 0 {
		return query.Query{}
	}
	return b.subscriptions[len(b.subscriptions)-1]
}

func (b *fakeBackend) storedMessages() []testMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]testMessage(nil), b.messages...)
}

// insert stores a message as if another client created it.
func (b *fakeBackend) insert(authorID, text string) testMessage {
	b.mu.Lock()
	msg := b.newMessage(authorID, text)
	b.mu.Unlock()
	b.publish("create", msg)
	return msg
}

func (b *fakeBackend) newMessage(authorID, text string) testMessage {
	b.seq++
	b.clock = b.clock.Add(time.Millisecond)
	msg := testMessage{
		ID:          fmt.Sprintf("m-%03d", b.seq),
		Text:        text,
		DateCreated: b.clock,
		UserCreated: b.userByID(authorID),
	}
	b.messages = append(b.messages, msg)
	return msg
}

func (b *fakeBackend) publish(event string, msg testMessage) {
	b.mu.Lock()
	var targets []*fakeSocket
	for s := range b.sockets {
		if event == "delete" || s.filter.Match(recordOf(msg)) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		var data []any
		if event == "delete" {
			data = []any{msg.ID}
		} else {
			data = []any{msg}
		}
		_ = s.send(map[string]any{"type": "subscription", "event": event, "uid": s.uid, "data": data})
	}
}

func recordOf(msg testMessage) map[string]any {
	raw, _ := json.Marshal(msg)
	var record map[string]any
	_ = json.Unmarshal(raw, &record)
	return record
}

func writeData(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []any{map[string]any{"message": message, "extensions": map[string]any{"code": code}}},
	})
}

// authenticate returns the caller's user id, or writes a 401.
func (b *fakeBackend) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	userID, ok := b.access[token]
	expired := b.expired[token]
	b.mu.Unlock()
	switch {
	case expired:
		writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired.")
		return "", false
	case !ok:
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token.")
		return "", false
	}
	return userID, true
}

func (b *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "bad body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.logins++
	account, ok := b.accounts[req.Email]
	if !ok || account.password != req.Password {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid user credentials.")
		return
	}
	writeData(w, b.issue(account.user.ID))
}

func (b *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes++
	userID, ok := b.refresh[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token.")
		return
	}
	delete(b.refresh, req.RefreshToken)
	writeData(w, b.issue(userID))
}

func (b *fakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	delete(b.refresh, req.RefreshToken)
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := b.authenticate(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	user := b.userByID(userID)
	b.mu.Unlock()
	writeData(w, user)
}

func (b *fakeBackend) handleList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.failNextReads > 0 {
		b.failNextReads--
		b.mu.Unlock()
		hj, ok := w.(http.Hijacker)
		if !ok {
			b.t.Error("response writer cannot hijack")
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}
	b.mu.Unlock()

	if _, ok := b.authenticate(w, r); !ok {
		return
	}
	q, err := query.Parse(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	b.mu.Lock()
	rows := b.matching(q)
	b.mu.Unlock()
	writeData(w, rows)
}

// matching applies filter, sort and limit. Callers hold b.mu.
func (b *fakeBackend) matching(q query.Query) []testMessage {
	rows := make([]testMessage, 0, len(b.messages))
	for _, msg := range b.messages {
		if q.Filter.Match(recordOf(msg)) {
			rows = append(rows, msg)
		}
	}
	desc := len(q.Sort) > 0 && q.Sort[0] == "-date_created"
	sort.SliceStable(rows, func(i, j int) bool {
		if desc {
			return rows[i].DateCreated.After(rows[j].DateCreated)
		}
		return rows[i].DateCreated.Before(rows[j].DateCreated)
	})
	if q.Offset < len(rows) {
		rows = rows[q.Offset:]
	} else {
		rows = rows[:0]
	}
	if limit := q.EffectiveLimit(); len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (b *fakeBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := b.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == nil || strings.TrimSpace(*req.Text) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "text is required")
		return
	}

	b.mu.Lock()
	b.creates++
	msg := b.newMessage(userID, *req.Text)
	b.mu.Unlock()

	b.publish("create", msg)
	writeData(w, msg)
}

func (b *fakeBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := b.authenticate(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	b.mu.Lock()
	var deleted *testMessage
	for i, msg := range b.messages {
		if msg.ID != id {
			continue
		}
		if msg.UserCreated.ID != userID {
			b.mu.Unlock()
			writeError(w, http.StatusForbidden, "FORBIDDEN", "not the author")
			return
		}
		deleted = &msg
		b.messages = append(b.messages[:i], b.messages[i+1:]...)
		break
	}
	b.mu.Unlock()

	if deleted == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "message not found")
		return
	}
	b.publish("delete", *deleted)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (b *fakeBackend) handleSocket(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.dials++
	down := b.realtimeDown
	b.mu.Unlock()
	if down {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sock := &fakeSocket{conn: conn}
	defer func() {
		b.mu.Lock()
		delete(b.sockets, sock)
		b.mu.Unlock()
		conn.Close()
	}()

	var frame struct {
		Type        string       `json:"type"`
		AccessToken string       `json:"access_token"`
		Collection  string       `json:"collection"`
		Query       *query.Query `json:"query"`
		UID         string       `json:"uid"`
	}

	if err := conn.ReadJSON(&frame); err != nil || frame.Type != "auth" {
		return
	}
	b.mu.Lock()
	_, valid := b.access[frame.AccessToken]
	expired := b.expired[frame.AccessToken]
	b.mu.Unlock()
	if !valid || expired {
		_ = sock.send(map[string]any{
			"type": "auth", "status": "error",
			"error": map[string]any{"code": "TOKEN_EXPIRED", "message": "Token expired."},
		})
		return
	}
	if err := sock.send(map[string]any{"type": "auth", "status": "ok"}); err != nil {
		return
	}

	for {
		frame.Type, frame.UID, frame.Query = "", "", nil
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "subscribe":
			var q query.Query
			if frame.Query != nil {
				q = *frame.Query
			}
			if len(q.Sort) == 0 {
				q.Sort = []string{"date_created"}
			}
			b.mu.Lock()
			b.subscriptions = append(b.subscriptions, q)
			sock.uid, sock.filter = frame.UID, q.Filter
			rows := b.matching(q)
			b.sockets[sock] = true
			err := sock.send(map[string]any{"type": "subscription", "event": "init", "uid": frame.UID, "data": rows})
			b.mu.Unlock()
			if err != nil {
				return
			}
		case "unsubscribe":
			b.mu.Lock()
			b.unsubscribes++
			delete(b.sockets, sock)
			b.mu.Unlock()
		case "ping":
			_ = sock.send(map[string]any{"type": "pong"})
		}
	}
}
