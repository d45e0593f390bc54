package bouncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func chatClientFor(t *testing.T, mux *http.ServeMux) *SlackClient {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &SlackClient{APIURL: server.URL + "/"}
}

func TestSlackPostMessage(t *testing.T) {
	var gotChannel, gotToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, req *http.Request) {
		gotChannel = req.FormValue("channel")
		gotToken = req.FormValue("token")
		if gotToken == "" {
			gotToken = req.Header.Get("Authorization")
		}
		fmt.Fprint(w, `{"ok":true,"channel":"C1","ts":"123.456"}`)
	})
	client := chatClientFor(t, mux)

	ts, err := client.PostMessage(context.Background(), "xoxp-1", "C1", ChatMessage{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if ts != "123.456" {
		t.Errorf("got ts %q", ts)
	}
	if gotChannel != "C1" {
		t.Errorf("got channel %q", gotChannel)
	}
	if gotToken == "" {
		t.Error("no token sent")
	}
}

func TestSlackUpdateMessage(t *testing.T) {
	var gotTS string
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.update", func(w http.ResponseWriter, req *http.Request) {
		gotTS = req.FormValue("ts")
		fmt.Fprint(w, `{"ok":true,"channel":"C1","ts":"123.456"}`)
	})
	client := chatClientFor(t, mux)

	ts, err := client.UpdateMessage(context.Background(), "xoxp-1", "C1", ChatMessage{Timestamp: "123.456", Text: "edited"})
	if err != nil {
		t.Fatal(err)
	}
	if ts != "123.456" || gotTS != "123.456" {
		t.Errorf("got ts %q (sent %q)", ts, gotTS)
	}
}

func TestSlackPostMessageError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	})
	client := chatClientFor(t, mux)

	_, err := client.PostMessage(context.Background(), "xoxp-1", "C-bogus", ChatMessage{Text: "hello"})
	var rerr RemoteError
	if !errors.As(err, &rerr) || rerr.Code != "channel_not_found" {
		t.Fatalf("got %v, want RemoteError channel_not_found", err)
	}
}

func TestSlackListChannels(t *testing.T) {
	pages := []string{
		`{"ok":true,"channels":[
			{"id":"C2","name":"zebra"},
			{"id":"D1","name":"","is_im":true}
		],"response_metadata":{"next_cursor":"page2"}}`,
		`{"ok":true,"channels":[
			{"id":"C1","name":"aardvark"},
			{"id":"G1","name":"group-chat","is_mpim":true}
		],"response_metadata":{"next_cursor":""}}`,
	}
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, req *http.Request) {
		if calls == 1 && req.FormValue("cursor") != "page2" {
			t.Errorf("second page requested with cursor %q", req.FormValue("cursor"))
		}
		page := pages[calls]
		calls++
		fmt.Fprint(w, page)
	})
	client := chatClientFor(t, mux)

	got, err := client.ListChannels(context.Background(), "xoxp-1")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("got %d list calls, want 2", calls)
	}

	// IMs and group chats are dropped; the rest come back sorted by name.
	want := []ChatChannel{
		{ID: "C1", Name: "aardvark"},
		{ID: "C2", Name: "zebra"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
