package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-rooms/internal/auth"
	"github.com/Vasu1712/scenyx-rooms/internal/middleware"
	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/protocol"
	"github.com/Vasu1712/scenyx-rooms/internal/storage"
	"github.com/Vasu1712/scenyx-rooms/internal/storage/memory"
	"github.com/Vasu1712/scenyx-rooms/internal/ws"
)

type fakeCheckpoints struct{ deleted []string }

func (f *fakeCheckpoints) DeleteCheckpoint(ctx context.Context, roomID string) error {
	f.deleted = append(f.deleted, roomID)
	return nil
}

// asUser stands in for bearer auth: the X-Test-User header names the caller.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.UserContextKey, models.User{ID: r.Header.Get("X-Test-User")})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type fixture struct {
	router      *mux.Router
	store       *memory.Store
	hub         *ws.Hub
	checkpoints *fakeCheckpoints
	vault       string // private room keyed "letmein", troll banned
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:       memory.NewStore(),
		hub:         ws.NewHub(zerolog.Nop()),
		checkpoints: &fakeCheckpoints{},
	}
	f.store.PutRoom(models.RoomSnapshot{ID: "r1", HostUserID: "host", BannedUserIDs: []string{"troll"}})
	vault, err := f.store.CreateRoom("Vault", "host", "letmein")
	require.NoError(t, err)
	require.NoError(t, f.store.Ban(vault.ID, "troll"))
	f.vault = vault.ID

	h := &RoomHandler{Store: f.store, Hub: f.hub, Checkpoints: f.checkpoints, Log: zerolog.Nop()}
	f.router = mux.NewRouter()
	RegisterRoomRoutes(f.router.PathPrefix("/api/v1").Subrouter(), h, asUser)
	return f
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Test-User", user)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestGetRoom(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/rooms/r1", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "room is not live yet")

	f.hub.GetOrCreate("r1", ws.Seed{Snapshot: models.RoomSnapshot{HostUserID: "host"}})
	rec = f.do(t, http.MethodGet, "/api/v1/rooms/r1", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view protocol.RoomView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "r1", view.RoomID)
	assert.Equal(t, "host", view.HostUserID)
	assert.Zero(t, view.MemberCount)
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		_, err := f.store.SaveMessage(ctx, "r1", models.User{ID: "bob", Name: "Bob"}, content)
		require.NoError(t, err)
	}

	tests := []struct {
		name       string
		query      string
		roomID     string
		wantStatus int
		want       []string
	}{
		{name: "defaults", roomID: "r1", wantStatus: http.StatusOK, want: []string{"one", "two", "three"}},
		{name: "page", roomID: "r1", query: "?limit=1&offset=1", wantStatus: http.StatusOK, want: []string{"two"}},
		{name: "past the end", roomID: "r1", query: "?offset=10", wantStatus: http.StatusOK, want: []string{}},
		{name: "bad limit", roomID: "r1", query: "?limit=zero", wantStatus: http.StatusBadRequest},
		{name: "negative offset", roomID: "r1", query: "?offset=-1", wantStatus: http.StatusBadRequest},
		{name: "unknown room", roomID: "nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/v1/rooms/"+tt.roomID+"/messages"+tt.query, "bob", "")
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.want == nil {
				return
			}
			var res struct {
				Messages []models.Message `json:"messages"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			got := []string{}
			for _, m := range res.Messages {
				got = append(got, m.Content)
				assert.Equal(t, "Bob", m.Sender.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMutatePlaylist(t *testing.T) {
	f := newFixture(t)
	track := f.store.AddTrack(models.Track{Title: "Song", DurationSeconds: 200})

	tests := []struct {
		name       string
		roomID     string
		body       string
		wantStatus int
	}{
		{name: "add", roomID: "r1", body: `{"action":"add","trackId":"` + track.ID + `"}`, wantStatus: http.StatusOK},
		{name: "bad action", roomID: "r1", body: `{"action":"shuffle","trackId":"` + track.ID + `"}`, wantStatus: http.StatusBadRequest},
		{name: "missing track id", roomID: "r1", body: `{"action":"add"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", roomID: "r1", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "unknown track", roomID: "r1", body: `{"action":"add","trackId":"ghost"}`, wantStatus: http.StatusNotFound},
		{name: "unknown room", roomID: "nope", body: `{"action":"add","trackId":"` + track.ID + `"}`, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/rooms/"+tt.roomID+"/playlist", "bob", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	assert.Equal(t, []string{track.ID}, f.store.Playlist("r1"))

	rec := f.do(t, http.MethodPost, "/api/v1/rooms/r1/playlist", "bob", `{"action":"remove","trackId":"`+track.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ev protocol.PlaylistUpdateEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, models.PlaylistRemove, ev.Action)
	assert.Equal(t, "Song", ev.Track.Title)
	assert.Empty(t, f.store.Playlist("r1"))
}

func TestKick(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/rooms/r1/kick", "bob", `{"userId":"carol"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/rooms/r1/kick", "host", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/rooms/r1/kick", "host", `{"userId":"carol"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"closedConnections":0}`, rec.Body.String())
}

func TestDeleteRoom(t *testing.T) {
	f := newFixture(t)
	f.hub.GetOrCreate("r1", ws.Seed{Snapshot: models.RoomSnapshot{HostUserID: "host"}})

	rec := f.do(t, http.MethodDelete, "/api/v1/rooms/r1", "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/rooms/r1", "host", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, live := f.hub.Get("r1")
	assert.False(t, live, "deleted room is evicted")
	_, err := f.store.LoadRoomSnapshot(context.Background(), "r1")
	assert.ErrorIs(t, err, storage.ErrRoomNotFound)
	assert.Equal(t, []string{"r1"}, f.checkpoints.deleted)

	rec = f.do(t, http.MethodDelete, "/api/v1/rooms/r1", "host", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomAccessRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.SaveMessage(ctx, f.vault, models.User{ID: "host"}, "private words")
	require.NoError(t, err)
	_, err = f.store.SaveMessage(ctx, "r1", models.User{ID: "host"}, "public words")
	require.NoError(t, err)
	f.hub.GetOrCreate(f.vault, ws.Seed{Snapshot: models.RoomSnapshot{HostUserID: "host"}})
	track := f.store.AddTrack(models.Track{Title: "Song"})
	playlistBody := `{"action":"add","trackId":"` + track.ID + `"}`

	routes := []struct {
		name   string
		method string
		suffix string
		body   string
	}{
		{name: "messages", method: http.MethodGet, suffix: "/messages"},
		{name: "view", method: http.MethodGet},
		{name: "playlist", method: http.MethodPost, suffix: "/playlist", body: playlistBody},
	}

	tests := []struct {
		name       string
		roomID     string
		user       string
		query      string
		header     string
		wantStatus int
	}{
		{name: "banned from public room", roomID: "r1", user: "troll", wantStatus: http.StatusForbidden},
		{name: "banned even with key", roomID: f.vault, user: "troll", query: "?key=letmein", wantStatus: http.StatusForbidden},
		{name: "private without key", roomID: f.vault, user: "bob", wantStatus: http.StatusForbidden},
		{name: "private with wrong key", roomID: f.vault, user: "bob", query: "?key=guess", wantStatus: http.StatusForbidden},
		{name: "private with key", roomID: f.vault, user: "bob", query: "?key=letmein", wantStatus: http.StatusOK},
		{name: "private with key header", roomID: f.vault, user: "bob", header: "letmein", wantStatus: http.StatusOK},
		{name: "host needs no key", roomID: f.vault, user: "host", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		for _, route := range routes {
			t.Run(tt.name+"/"+route.name, func(t *testing.T) {
				path := "/api/v1/rooms/" + tt.roomID + route.suffix + tt.query
				req := httptest.NewRequest(route.method, path, strings.NewReader(route.body))
				req.Header.Set("X-Test-User", tt.user)
				if tt.header != "" {
					req.Header.Set("X-Room-Key", tt.header)
				}
				rec := httptest.NewRecorder()
				f.router.ServeHTTP(rec, req)

				assert.Equal(t, tt.wantStatus, rec.Code)
				if tt.wantStatus == http.StatusForbidden {
					assert.NotContains(t, rec.Body.String(), "words")
				}
			})
		}
	}
}

type tokenUsers map[string]models.User

func (u tokenUsers) Verify(ctx context.Context, token string) (models.User, error) {
	if user, ok := u[token]; ok {
		return user, nil
	}
	return models.User{}, auth.ErrInvalidToken
}

func TestMutatePlaylistReachesLiveMembers(t *testing.T) {
	f := newFixture(t)
	track := f.store.AddTrack(models.Track{Title: "Song", DurationSeconds: 200, Img: "cover.png", AudioURL: "song.mp3"})

	srv := ws.NewServer(f.hub, f.store, tokenUsers{"carol-token": {ID: "carol"}}, ws.Config{}, zerolog.Nop())
	r := mux.NewRouter()
	r.HandleFunc("/rooms/{roomId}", srv.ServeWS)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/r1?" + url.Values{"token": {"carol-token"}}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	read := func(payload any) protocol.Type {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		typ, err := protocol.ParseFrame(data, payload)
		require.NoError(t, err)
		return typ
	}
	var joined protocol.UserJoinedEvent
	require.Equal(t, protocol.TypeUserJoined, read(&joined))
	assert.Equal(t, "carol", joined.UserID)

	rec := f.do(t, http.MethodPost, "/api/v1/rooms/r1/playlist", "bob", `{"action":"add","trackId":"`+track.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ev protocol.PlaylistUpdateEvent
	require.Equal(t, protocol.TypePlaylistUpdate, read(&ev))
	assert.Equal(t, models.PlaylistAdd, ev.Action)
	assert.Equal(t, track, ev.Track)
}
