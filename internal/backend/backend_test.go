package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHistoryFetch(t *testing.T) {
	t.Run("decodes history payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/conversations/42/history" {
				t.Errorf("Unexpected path %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"history": []map[string]any{
					{"id": "1", "content": "hi", "sender": "bot"},
				},
			})
		}))
		defer srv.Close()

		history, err := NewClient(srv.URL).Fetch(context.Background(), 42)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("Expected 1 raw message, got %d", len(history))
		}
		if history[0]["content"] != "hi" {
			t.Errorf("Expected raw shape preserved, got %+v", history[0])
		}
	})

	t.Run("typed errors for terminal statuses", func(t *testing.T) {
		for _, status := range []int{410, 404, 403, 401} {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))

			_, err := NewClient(srv.URL).Fetch(context.Background(), 1)
			srv.Close()

			var herr *HistoryError
			if !errors.As(err, &herr) {
				t.Fatalf("Expected HistoryError for %d, got %v", status, err)
			}
			if herr.Status != status {
				t.Errorf("Expected status %d, got %d", status, herr.Status)
			}
			if !herr.Fatal() {
				t.Errorf("Expected status %d to be fatal", status)
			}
		}
	})
}

func TestConversationCreate(t *testing.T) {
	t.Run("returns numeric id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["freshSession"] != true {
				t.Error("Expected freshSession to be forwarded")
			}
			json.NewEncoder(w).Encode(map[string]any{"conversationId": 42})
		}))
		defer srv.Close()

		id, err := NewClient(srv.URL).Create(context.Background(), "u", "b", "s", true)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if id != 42 {
			t.Errorf("Expected id 42, got %d", id)
		}
	})

	t.Run("string id is parsed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"conversationId": "7"})
		}))
		defer srv.Close()

		id, err := NewClient(srv.URL).Create(context.Background(), "u", "b", "s", false)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if id != 7 {
			t.Errorf("Expected id 7, got %d", id)
		}
	})

	t.Run("non-positive or unparseable ids fail", func(t *testing.T) {
		for _, raw := range []any{0, -5, "abc", ""} {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"conversationId": raw})
			}))

			_, err := NewClient(srv.URL).Create(context.Background(), "u", "b", "s", false)
			srv.Close()

			if !errors.Is(err, ErrInvalidConversationID) {
				t.Errorf("Expected ErrInvalidConversationID for %v, got %v", raw, err)
			}
		}
	})

	t.Run("server error fails resolution", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL).Create(context.Background(), "u", "b", "s", false)
		if !errors.Is(err, ErrInvalidConversationID) {
			t.Errorf("Expected ErrInvalidConversationID, got %v", err)
		}
	})
}
