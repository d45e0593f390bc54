package bouncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// talkServer fakes a Talk installation: its graph endpoint, its translation
// endpoint, and its handshake test endpoint.
type talkServer struct {
	t *testing.T

	comment    json.RawMessage // response for getComment queries; null if empty
	graphErr   string          // top-level graph error, if any
	mutations  []graphRequest  // mutation requests, in order
	translated int             // count of translate calls
}

func (ts *talkServer) start(t *testing.T) (*httptest.Server, *Installation) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/graph/ql", func(w http.ResponseWriter, req *http.Request) {
		if got := req.Header.Get("Authorization"); got != "Bearer talk-token" {
			ts.t.Errorf("got authorization %q", got)
		}

		var greq graphRequest
		if err := json.NewDecoder(req.Body).Decode(&greq); err != nil {
			ts.t.Fatal(err)
		}

		if ts.graphErr != "" {
			fmt.Fprintf(w, `{"errors":[{"message":%q}]}`, ts.graphErr)
			return
		}

		switch {
		case strings.HasPrefix(greq.Query, "query getComment"):
			comment := ts.comment
			if len(comment) == 0 {
				comment = json.RawMessage("null")
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"comment": json.RawMessage(comment)},
			})

		case strings.HasPrefix(greq.Query, "mutation setCommentStatus"):
			ts.mutations = append(ts.mutations, greq)
			fmt.Fprint(w, `{"data":{"setCommentStatus":null}}`)

		case strings.HasPrefix(greq.Query, "mutation banUser"):
			ts.mutations = append(ts.mutations, greq)
			fmt.Fprint(w, `{"data":{"banUser":null}}`)

		default:
			ts.t.Errorf("unexpected query %s", greq.Query)
		}
	})
	mux.HandleFunc("/api/slack-bouncer/translate", func(w http.ResponseWriter, req *http.Request) {
		var treq struct {
			Key          string   `json:"key"`
			Replacements []string `json:"replacements"`
		}
		if err := json.NewDecoder(req.Body).Decode(&treq); err != nil {
			ts.t.Fatal(err)
		}
		if treq.Key != "bandialog.email_message_ban" {
			ts.t.Errorf("got translation key %q", treq.Key)
		}
		ts.translated++
		fmt.Fprintf(w, "%s, you have been banned.", treq.Replacements[0])
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	encrypted, err := EncryptToken("talk-token", "hs-1")
	if err != nil {
		t.Fatal(err)
	}
	inst := &Installation{
		ID:          "i1",
		RootURL:     server.URL,
		AccessToken: encrypted,
		TalkVersion: "4.2.0",
	}
	return server, inst
}

func newTestTalkClient(t *testing.T) *TalkClient {
	t.Helper()
	client, err := NewTalkClient("https://bouncer.example.org/api/events", ">=0.1.0 <0.2.0")
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestTalkGetComment(t *testing.T) {
	ctx := context.Background()
	ts := &talkServer{
		comment: json.RawMessage(`{
			"id": "c1",
			"body": "first post",
			"status": "PREMOD",
			"asset": {"id": "a1", "title": "An Article", "url": "https://example.org/article"},
			"user": {"id": "author-1", "username": "trollope"},
			"created_at": "2023-11-14T00:00:00Z"
		}`),
	}
	ts.t = t
	_, inst := ts.start(t)
	client := newTestTalkClient(t)

	comment, err := client.GetComment(ctx, inst, "hs-1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if comment.ID != "c1" || comment.Status != StatusPremod || comment.Author.Username != "trollope" {
		t.Errorf("got comment %+v", comment)
	}
	if comment.Asset.URL != "https://example.org/article" {
		t.Errorf("got asset %+v", comment.Asset)
	}
}

func TestTalkGetCommentNull(t *testing.T) {
	ts := &talkServer{t: t}
	_, inst := ts.start(t)
	client := newTestTalkClient(t)

	_, err := client.GetComment(context.Background(), inst, "hs-1", "c-gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTalkGraphError(t *testing.T) {
	ts := &talkServer{t: t, graphErr: "Not authorized"}
	_, inst := ts.start(t)
	client := newTestTalkClient(t)

	_, err := client.GetComment(context.Background(), inst, "hs-1", "c1")
	if err == nil || !strings.Contains(err.Error(), "Not authorized") {
		t.Fatalf("got %v", err)
	}
}

func TestTalkGetCommentBadHandshake(t *testing.T) {
	ts := &talkServer{t: t}
	_, inst := ts.start(t)
	client := newTestTalkClient(t)

	if _, err := client.GetComment(context.Background(), inst, "hs-wrong", "c1"); err == nil {
		t.Fatal("got nil error decrypting with the wrong handshake token")
	}
}

func TestTalkSetStatus(t *testing.T) {
	ctx := context.Background()
	ts := &talkServer{t: t}
	_, inst := ts.start(t)
	client := newTestTalkClient(t)

	// Approving twice is fine; the mutation is idempotent at the remote.
	if err := client.Approve(ctx, inst, "hs-1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := client.Approve(ctx, inst, "hs-1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := client.Reject(ctx, inst, "hs-1", "c1"); err != nil {
		t.Fatal(err)
	}

	if len(ts.mutations) != 3 {
		t.Fatalf("got %d mutations, want 3", len(ts.mutations))
	}
	if got := ts.mutations[0].Variables["status"]; got != StatusAccepted {
		t.Errorf("approve sent status %v", got)
	}
	if got := ts.mutations[2].Variables["status"]; got != StatusRejected {
		t.Errorf("reject sent status %v", got)
	}

	// Only the two terminal statuses may be set.
	if err := client.SetStatus(ctx, inst, "hs-1", "c1", StatusPremod); err == nil {
		t.Error("got nil error setting status PREMOD")
	}
}

func TestTalkSetStatusFieldErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/graph/ql", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"data":{"setCommentStatus":{"errors":[{"translation_key":"NOT_AUTHORIZED"}]}}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	encrypted, err := EncryptToken("talk-token", "hs-1")
	if err != nil {
		t.Fatal(err)
	}
	inst := &Installation{ID: "i1", RootURL: server.URL, AccessToken: encrypted}
	client := newTestTalkClient(t)

	err = client.Approve(context.Background(), inst, "hs-1", "c1")
	var merr MutationError
	if !errors.As(err, &merr) || merr.Op != "setCommentStatus" {
		t.Fatalf("got %v, want a MutationError", err)
	}
}

func TestTalkBanUser(t *testing.T) {
	authorComment := json.RawMessage(`{"user": {"userID": "author-1", "username": "trollope"}}`)

	t.Run("platform 4.x", func(t *testing.T) {
		ts := &talkServer{t: t, comment: authorComment}
		_, inst := ts.start(t)
		client := newTestTalkClient(t)

		if err := client.BanUser(context.Background(), inst, "hs-1", "c1"); err != nil {
			t.Fatal(err)
		}

		if ts.translated != 1 {
			t.Errorf("got %d translate calls, want 1", ts.translated)
		}
		if len(ts.mutations) != 1 {
			t.Fatalf("got %d mutations, want 1", len(ts.mutations))
		}
		ban := ts.mutations[0]
		if !strings.Contains(ban.Query, "banUser(input:") {
			t.Errorf("got query %s", ban.Query)
		}
		if ban.Variables["user_id"] != "author-1" {
			t.Errorf("got user_id %v", ban.Variables["user_id"])
		}
		if ban.Variables["message"] != "trollope, you have been banned." {
			t.Errorf("got message %v", ban.Variables["message"])
		}
	})

	t.Run("platform 3.x", func(t *testing.T) {
		ts := &talkServer{t: t, comment: authorComment}
		_, inst := ts.start(t)
		inst.TalkVersion = "3.9.1"
		client := newTestTalkClient(t)

		if err := client.BanUser(context.Background(), inst, "hs-1", "c1"); err != nil {
			t.Fatal(err)
		}

		if ts.translated != 0 {
			t.Errorf("got %d translate calls, want 0", ts.translated)
		}
		if len(ts.mutations) != 1 {
			t.Fatalf("got %d mutations, want 1", len(ts.mutations))
		}
		ban := ts.mutations[0]
		if !strings.Contains(ban.Query, "setUserStatus") {
			t.Errorf("got query %s", ban.Query)
		}
		if _, ok := ban.Variables["message"]; ok {
			t.Error("3.x ban should not carry a message")
		}
	})

	t.Run("unsupported platform", func(t *testing.T) {
		ts := &talkServer{t: t, comment: authorComment}
		_, inst := ts.start(t)
		inst.TalkVersion = "5.0.0"
		client := newTestTalkClient(t)

		if err := client.BanUser(context.Background(), inst, "hs-1", "c1"); err == nil {
			t.Fatal("got nil error for an unsupported platform version")
		}
		if len(ts.mutations) != 0 {
			t.Errorf("got %d mutations, want 0", len(ts.mutations))
		}
	})
}

func TestTestInstallation(t *testing.T) {
	ctx := context.Background()

	respond := func(t *testing.T, mangle func(map[string]any)) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			if got := req.Header.Get("Authorization"); got != "Bearer fresh-token" {
				t.Errorf("got authorization %q", got)
			}
			var treq struct {
				Challenge      string `json:"challenge"`
				InjestionURL   string `json:"injestion_url"`
				HandshakeToken string `json:"handshake_token"`
			}
			if err := json.NewDecoder(req.Body).Decode(&treq); err != nil {
				t.Fatal(err)
			}
			if treq.InjestionURL != "https://bouncer.example.org/api/events" {
				t.Errorf("got ingestion URL %q", treq.InjestionURL)
			}
			if treq.HandshakeToken != "hs-1" {
				t.Errorf("got handshake token %q", treq.HandshakeToken)
			}
			resp := map[string]any{
				"challenge":        treq.Challenge,
				"client_version":   "0.1.5",
				"platform_version": "4.2.0",
			}
			if mangle != nil {
				mangle(resp)
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(resp)
		}
	}

	t.Run("ok", func(t *testing.T) {
		server := httptest.NewServer(respond(t, nil))
		t.Cleanup(server.Close)
		client := newTestTalkClient(t)

		versions, err := client.TestInstallation(ctx, server.URL, "hs-1", "fresh-token")
		if err != nil {
			t.Fatal(err)
		}
		if versions.ClientVersion != "0.1.5" || versions.PlatformVersion != "4.2.0" {
			t.Errorf("got versions %+v", versions)
		}
	})

	t.Run("challenge mismatch", func(t *testing.T) {
		server := httptest.NewServer(respond(t, func(resp map[string]any) {
			resp["challenge"] = "forged"
		}))
		t.Cleanup(server.Close)
		client := newTestTalkClient(t)

		_, err := client.TestInstallation(ctx, server.URL, "hs-1", "fresh-token")
		var verr VerificationError
		if !errors.As(err, &verr) {
			t.Fatalf("got %v, want a VerificationError", err)
		}
	})

	t.Run("client version out of range", func(t *testing.T) {
		server := httptest.NewServer(respond(t, func(resp map[string]any) {
			resp["client_version"] = "0.2.0"
		}))
		t.Cleanup(server.Close)
		client := newTestTalkClient(t)

		_, err := client.TestInstallation(ctx, server.URL, "hs-1", "fresh-token")
		var verr VerificationError
		if !errors.As(err, &verr) {
			t.Fatalf("got %v, want a VerificationError", err)
		}
	})

	t.Run("non-202 response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(server.Close)
		client := newTestTalkClient(t)

		_, err := client.TestInstallation(ctx, server.URL, "hs-1", "fresh-token")
		var verr VerificationError
		if !errors.As(err, &verr) {
			t.Fatalf("got %v, want a VerificationError", err)
		}
	})
}
