package steam

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const detailsBody = `{
	"response": {
		"result": 1,
		"resultcount": 3,
		"publishedfiledetails": [
			{
				"publishedfileid": "121086524",
				"result": 1,
				"creator": "76561197960287930",
				"file_size": "73400320",
				"file_url": "https://cdn.example/121086524.vpk",
				"title": "Urban Flight",
				"description": "A campaign",
				"time_created": 1300000000,
				"time_updated": 1400000000,
				"tags": [{"tag": "Campaigns"}, {"tag": "Survivors"}]
			},
			{
				"publishedfileid": "999",
				"result": 9
			},
			{
				"publishedfileid": 4242,
				"result": 1,
				"file_size": 512,
				"title": "Numeric",
				"time_created": 1300000000,
				"time_updated": 1300000000
			}
		]
	}
}`

func TestClient_FetchDetails(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != detailsPath {
			t.Errorf("path = %s, want %s", r.URL.Path, detailsPath)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, detailsBody)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL + "/"))
	items, err := client.FetchDetails(context.Background(), []int64{121086524, 999, 4242})
	if err != nil {
		t.Fatalf("FetchDetails() error = %v", err)
	}

	if gotForm["itemcount"] != "3" {
		t.Errorf("itemcount = %q, want 3", gotForm["itemcount"])
	}
	if gotForm["publishedfileids[0]"] != "121086524" || gotForm["publishedfileids[2]"] != "4242" {
		t.Errorf("form ids = %v", gotForm)
	}

	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2 (unavailable item skipped)", len(items))
	}

	first := items[0]
	if first.PublishedFileID != 121086524 {
		t.Errorf("PublishedFileID = %d, want 121086524", first.PublishedFileID)
	}
	if first.FileSize != 73400320 {
		t.Errorf("FileSize = %d, want 73400320", first.FileSize)
	}
	if first.CreatorID != "76561197960287930" {
		t.Errorf("CreatorID = %q", first.CreatorID)
	}
	if !first.TimeUpdated.Equal(time.Unix(1400000000, 0)) {
		t.Errorf("TimeUpdated = %v", first.TimeUpdated)
	}
	if strings.Join(first.Tags, ",") != "Campaigns,Survivors" {
		t.Errorf("Tags = %v", first.Tags)
	}

	if items[1].PublishedFileID != 4242 || items[1].FileSize != 512 {
		t.Errorf("numeric item = %+v", items[1])
	}
}

func TestClient_FetchDetails_Errors(t *testing.T) {
	t.Run("rejects oversized batch", func(t *testing.T) {
		ids := make([]int64, 101)
		_, err := NewClient(WithBaseURL("http://127.0.0.1:0")).FetchDetails(context.Background(), ids)
		if err == nil {
			t.Fatal("FetchDetails() expected error for 101 ids")
		}
	})

	t.Run("empty batch makes no request", func(t *testing.T) {
		items, err := NewClient(WithBaseURL("http://127.0.0.1:0")).FetchDetails(context.Background(), nil)
		if err != nil || items != nil {
			t.Errorf("FetchDetails(nil) = %v, %v, want nil, nil", items, err)
		}
	})

	t.Run("http error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := NewClient(WithBaseURL(server.URL)).FetchDetails(context.Background(), []int64{1})
		if err == nil || !strings.Contains(err.Error(), "429") {
			t.Errorf("FetchDetails() error = %v, want status 429", err)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html>")
		}))
		defer server.Close()

		if _, err := NewClient(WithBaseURL(server.URL)).FetchDetails(context.Background(), []int64{1}); err == nil {
			t.Error("FetchDetails() expected error for malformed body")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := NewClient(WithBaseURL(server.URL)).FetchDetails(ctx, []int64{1}); err == nil {
			t.Error("FetchDetails() expected error for cancelled context")
		}
	})
}
