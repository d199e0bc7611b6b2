/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-github/v75/github"

	"github.com/formalmind/agent/diffbundle"
	"github.com/formalmind/agent/eventbus"
	"github.com/formalmind/agent/review"
)

// apiStub is a scripted GitHub API server: it records request paths and can
// fail the first n requests.
type apiStub struct {
	mu    sync.Mutex
	paths []string
	fail  int
}

func (s *apiStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.Method+" "+r.URL.Path)
		shouldFail := s.fail > 0
		if shouldFail {
			s.fail--
		}
		s.mu.Unlock()

		if shouldFail {
			http.Error(w, `{"message": "Validation Failed"}`, http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})
}

func (s *apiStub) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.paths...)
}

func stubClient(t *testing.T, stub *apiStub) *github.Client {
	t.Helper()

	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	client.BaseURL = base
	return client
}

func testDispatcher() *Dispatcher {
	return NewDispatcher(nil, nil, eventbus.NewMemoryHistory(), Config{
		PromptDir:     "prompts",
		AgentHandle:   "@agent",
		TemplateOwner: "formalmind",
		TemplateRepo:  "lean-template",
		Identity:      "modeling-agent",
	})
}

func installation(id int64) *github.Installation {
	return &github.Installation{ID: github.Ptr(id)}
}

const prCommentsPath = "POST /repos/acme/widgets/pulls/5/comments"

func TestPostPullRequestComments(t *testing.T) {
	stub := &apiStub{}
	gh := stubClient(t, stub)
	d := testDispatcher()
	ctx := context.Background()

	comments := []review.Comment{
		{File: "a.go", Line: 3, Body: "off by one"},
		{File: "", Line: 1, Body: "invalid, no file"},
		{File: "b.go", Line: 0, Body: "invalid, no line"},
		{File: "c.go", Line: 7, Body: "fine"},
	}

	delivery := eventbus.Delivery{Body: json.RawMessage(`{}`), Timestamp: 9}
	outcomes := d.postPullRequestComments(ctx, gh, pullRequestTarget{
		owner: "acme", repo: "widgets", number: 5, commitID: "headsha",
	}, comments, installation(42), delivery)

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2 (invalid entries skipped)", len(outcomes))
	}
	if got := succeeded(outcomes); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
	reqs := stub.requests()
	if len(reqs) != 2 || reqs[0] != prCommentsPath {
		t.Errorf("requests = %v, want two posts to %s", reqs, prCommentsPath)
	}

	// Each success recorded a history entry.
	entries, err := d.history.Recent(ctx, 42, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Type != "review_comment" {
		t.Errorf("history = %+v, want two review_comment entries", entries)
	}
}

func TestPostPullRequestCommentsHunkFilter(t *testing.T) {
	stub := &apiStub{}
	gh := stubClient(t, stub)
	d := testDispatcher()

	patch := "@@ -1,3 +1,4 @@\n context\n-old\n+new\n+more\n context"
	hunks := diffbundle.Hunks([]*github.CommitFile{{
		Filename: github.Ptr("a.go"),
		Patch:    github.Ptr(patch),
	}})

	comments := []review.Comment{
		{File: "a.go", Line: 2, Body: "inside the hunk"},
		{File: "a.go", Line: 40, Body: "outside the hunk"},
		{File: "unknown.go", Line: 1, Body: "no hunks known, posted as-is"},
	}

	outcomes := d.postPullRequestComments(context.Background(), gh, pullRequestTarget{
		owner: "acme", repo: "widgets", number: 5, commitID: "headsha", hunks: hunks,
	}, comments, installation(42), eventbus.Delivery{Body: json.RawMessage(`{}`)})

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2 (out-of-range comment dropped)", len(outcomes))
	}
	if got := len(stub.requests()); got != 2 {
		t.Errorf("API saw %d requests, want 2", got)
	}
}

func TestPostPullRequestCommentsFailureIndependence(t *testing.T) {
	stub := &apiStub{fail: 1}
	gh := stubClient(t, stub)
	d := testDispatcher()

	comments := []review.Comment{
		{File: "a.go", Line: 1, Body: "first, fails"},
		{File: "b.go", Line: 2, Body: "second, succeeds"},
	}

	outcomes := d.postPullRequestComments(context.Background(), gh, pullRequestTarget{
		owner: "acme", repo: "widgets", number: 5, commitID: "headsha",
	}, comments, installation(42), eventbus.Delivery{Body: json.RawMessage(`{}`)})

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	if outcomes[0].Err == nil {
		t.Error("first outcome should carry the API error")
	}
	if outcomes[1].Err != nil {
		t.Errorf("second outcome failed: %v", outcomes[1].Err)
	}
	if got := succeeded(outcomes); got != 1 {
		t.Errorf("succeeded = %d, want 1", got)
	}
}

func TestPostCommitComments(t *testing.T) {
	stub := &apiStub{}
	gh := stubClient(t, stub)
	d := testDispatcher()

	pos := 4
	comments := []review.Comment{
		{File: "a.go", Position: &pos, Body: "position addressed"},
		{File: "b.go", Line: 3, Body: "line addressed, invalid for commits"},
	}

	outcomes := d.postCommitComments(context.Background(), gh, commitTarget{
		owner: "acme", repo: "widgets", sha: "abc123",
	}, comments, installation(42), eventbus.Delivery{Body: json.RawMessage(`{}`)})

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	reqs := stub.requests()
	if len(reqs) != 1 || reqs[0] != "POST /repos/acme/widgets/commits/abc123/comments" {
		t.Errorf("requests = %v, want one commit comment post", reqs)
	}
}
