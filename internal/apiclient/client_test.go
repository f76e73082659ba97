package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/hitoshi/codex/internal/model"
)

type mockObserver struct {
	outcomes []string
}

func (m *mockObserver) ObserveUpstream(target, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, target+":"+outcome)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *mockObserver) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	obs := &mockObserver{}
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: 5 * time.Second, Observer: obs}), obs
}

func TestClient_CreateGroup(t *testing.T) {
	c, obs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/groups" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "金曜読書会" || body["avatar_url"] != "" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"g-1","name":"金曜読書会","description":null,"avatar_url":null,"invitation_code":"ABC123"}`))
	})

	g, err := c.CreateGroup(context.Background(), "tok", CreateGroupRequest{Name: "金曜読書会"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.ID != "g-1" || g.InvitationCode != "ABC123" || g.Description != "" {
		t.Errorf("group = %+v", g)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "api:success" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestClient_UpdateGroup_NullableFields(t *testing.T) {
	var raw map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/groups/g-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&raw)
		w.WriteHeader(http.StatusNoContent)
	})

	req := NewUpdateGroupRequest(model.GroupInput{Name: "新しい名前", AvatarURL: "https://example.com/a.png"})
	if err := c.UpdateGroup(context.Background(), "tok", "g-1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw["name"] != "新しい名前" {
		t.Errorf("name = %v", raw["name"])
	}
	if v, ok := raw["description"]; !ok || v != nil {
		t.Errorf("description should be sent as null, got %v (present=%v)", v, ok)
	}
	if raw["avatar_url"] != "https://example.com/a.png" {
		t.Errorf("avatar_url = %v", raw["avatar_url"])
	}
}

func TestClient_UpdateGroup_UnspecifiedFieldsOmitted(t *testing.T) {
	var raw map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.WriteHeader(http.StatusOK)
	})

	req := UpdateGroupRequest{}
	req.Name.Set("名前だけ")
	if err := c.UpdateGroup(context.Background(), "tok", "g-1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != 1 {
		t.Errorf("expected only name in body, got %v", raw)
	}
}

func TestClient_GroupActions_Paths(t *testing.T) {
	tests := []struct {
		name       string
		call       func(c *Client) error
		wantMethod string
		wantPath   string
	}{
		{"delete", func(c *Client) error { return c.DeleteGroup(context.Background(), "tok", "g-1") }, http.MethodDelete, "/api/groups/g-1"},
		{"leave", func(c *Client) error { return c.LeaveGroup(context.Background(), "tok", "g-1") }, http.MethodDelete, "/api/groups/g-1/leave"},
		{"join", func(c *Client) error { return c.JoinGroup(context.Background(), "tok", "CODE") }, http.MethodPost, "/api/library"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != tt.wantMethod || r.URL.Path != tt.wantPath {
					t.Errorf("got %s %s, want %s %s", r.Method, r.URL.Path, tt.wantMethod, tt.wantPath)
				}
				w.WriteHeader(http.StatusOK)
			})
			if err := tt.call(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestClient_JoinGroup_Body(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"invitationCode":"XYZ789"}` {
			t.Errorf("body = %s", b)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.JoinGroup(context.Background(), "tok", "XYZ789"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_JoinGroup_InvalidCode(t *testing.T) {
	c, obs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"招待コードが見つかりません"}`))
	})

	err := c.JoinGroup(context.Background(), "tok", "BAD")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeUpstream || apiErr.Status != http.StatusNotFound {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if apiErr.Message != "招待コードが見つかりません" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "api:error" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestClient_ErrorWithoutMessage_UsesFallback(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	})

	_, err := c.RegenerateCode(context.Background(), "tok", "g-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "招待コードを再生成できませんでした。" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestClient_RegenerateCode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/groups/g-1/regenerate-code" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"invitation_code":"NEW456"}`))
	})

	code, err := c.RegenerateCode(context.Background(), "tok", "g-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "NEW456" {
		t.Errorf("code = %q", code)
	}
}

func TestClient_Invite(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/groups/invite" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			GroupID       string   `json:"groupId"`
			GroupName     string   `json:"groupName"`
			InvitedEmails []string `json:"invitedEmails"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.GroupID != "g-1" || body.GroupName != "読書会" || len(body.InvitedEmails) != 2 {
			t.Errorf("body = %+v", body)
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.Invite(context.Background(), "tok", InviteRequest{
		GroupID:       "g-1",
		GroupName:     "読書会",
		InvitedEmails: []openapi_types.Email{"a@example.com", "b@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_AcceptInvitation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups/accept-invitation" || r.URL.Query().Get("token") != "t k" {
			t.Errorf("unexpected request: %s", r.URL)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.AcceptInvitation(context.Background(), "tok", "t k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_ListLibrary(t *testing.T) {
	tests := []struct {
		name       string
		status     model.ReadingStatus
		wantStatus string
	}{
		{"all has no filter", model.StatusAll, ""},
		{"reading filter", model.StatusReading, "reading"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/library" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("status"); got != tt.wantStatus {
					t.Errorf("status = %q, want %q", got, tt.wantStatus)
				}
				w.Write([]byte(`[{"id":"e-1","status_id":2,"rating":null,"book":{"id":"b-1","title":"雪国","author":"川端康成","page_count":180}}]`))
			})

			entries, err := c.ListLibrary(context.Background(), "tok", tt.status)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("len = %d", len(entries))
			}
			e := entries[0]
			if e.Status() != model.StatusReading || e.Rating != 0 || e.Book.PageCount != 180 || e.Book.Author != "川端康成" {
				t.Errorf("entry = %+v", e)
			}
		})
	}
}

func TestClient_ListLibrary_Empty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	entries, err := c.ListLibrary(context.Background(), "tok", model.StatusAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %#v, want empty non-nil slice", entries)
	}
}

func TestClient_SearchBooks(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/library/search" || r.URL.Query().Get("query") != "村上 春樹" {
			t.Errorf("unexpected request: %s", r.URL)
		}
		w.Write([]byte(`{"items":[{"id":"vol-1","volumeInfo":{"title":"ノルウェイの森","authors":["村上春樹"],
			"imageLinks":{"thumbnail":"http://img/1.jpg"},"pageCount":300,"categories":["小説"],
			"industryIdentifiers":[{"type":"ISBN_10","identifier":"4062035158"},{"type":"ISBN_13","identifier":"9784062035150"}]}}]}`))
	})

	results, err := c.SearchBooks(context.Background(), "tok", "村上 春樹")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len = %d", len(results))
	}
	r := results[0]
	if r.ID != "vol-1" || r.Thumbnail != "http://img/1.jpg" || r.ISBN13 != "9784062035150" || r.ISBN10 != "4062035158" {
		t.Errorf("result = %+v", r)
	}
}

func TestClient_AddBook(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/library/add" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["title"] != "こころ" || body["isbn"] != "9784101010137" || body["pageCount"] != float64(320) {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["googleBooksId"]; ok {
			t.Errorf("googleBooksId should be omitted for manual entries")
		}
		w.WriteHeader(http.StatusCreated)
	})

	err := c.AddBook(context.Background(), "tok", model.NewBook{Title: "こころ", ISBN: "9784101010137", PageCount: 320})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	obs := &mockObserver{}
	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second, Observer: obs})

	err := c.DeleteGroup(context.Background(), "tok", "g-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "api:unavailable" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}
