package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"m1","status":"sent"}`))
	}))
	defer srv.Close()

	c := &Client{APIKey: "k1", BaseURL: srv.URL, HTTP: srv.Client()}
	resp, err := c.Send(context.Background(), SendRequest{To: "+15550001", Body: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.ID != "m1" {
		t.Fatalf("unexpected id %q", resp.ID)
	}
}

func TestSendPermanentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_destination","message":"bad number"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.Send(context.Background(), SendRequest{To: "nope", Body: "hi"})
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if se.Class != ClassInvalidDestination {
		t.Fatalf("expected invalid_destination, got %s", se.Class)
	}
	if se.Class.Transient() {
		t.Fatalf("invalid destination must not be retried")
	}
}

func TestSendServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.Send(context.Background(), SendRequest{To: "+1555", Body: "hi"})
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if !se.Class.Transient() {
		t.Fatalf("5xx should classify transient, got %s", se.Class)
	}
}

func TestSendTimeoutClassifiesTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, SendRequest{To: "+1555", Body: "hi"})
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if se.Class != ClassTimeout {
		t.Fatalf("expected timeout, got %s", se.Class)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		code   string
		want   Classification
	}{
		{408, "", ClassTimeout},
		{429, "", ClassRateLimited},
		{500, "", ClassProviderUnavailable},
		{503, "", ClassProviderUnavailable},
		{400, "", ClassInvalidDestination},
		{404, "", ClassInvalidDestination},
		{422, "blocked", ClassProviderRejected},
		{422, "invalid_destination", ClassInvalidDestination},
	}
	for _, c := range cases {
		if got := Classify(nil, c.status, c.code); got != c.want {
			t.Fatalf("status %d code %q: got %s want %s", c.status, c.code, got, c.want)
		}
	}
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := Backoff(i); got != w {
			t.Fatalf("attempt %d: got %v want %v", i, got, w)
		}
	}
	if got := Backoff(10); got != 4*time.Second {
		t.Fatalf("overflow attempt: got %v", got)
	}
	if got := Backoff(-1); got != time.Second {
		t.Fatalf("negative attempt: got %v", got)
	}
}
