package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kiosk/internal/domain"
)

func TestAskBobDecodesIntent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/otc/askbob/abc123" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "UklGRg==" {
			t.Errorf("unexpected body %q", body)
		}
		_, _ = io.WriteString(w, `{"message":"ok","data":{"action":"startCall","contact_id":"c1","text":"call mom"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), time.Second)
	res, err := c.AskBob(context.Background(), "abc123", "UklGRg==")
	if err != nil {
		t.Fatalf("askbob: %v", err)
	}
	want := domain.IntentResult{Action: "startCall", ContactID: "c1", Text: "call mom"}
	if res != want {
		t.Fatalf("want %+v, got %+v", want, res)
	}
}

func TestErrorNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json message", http.StatusInternalServerError, `{"message":"server error"}`, "server error"},
		{"unparseable body", http.StatusBadGateway, `<html>bad gateway</html>`, GenericMessage},
		{"empty message", http.StatusBadRequest, `{"message":""}`, GenericMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, srv.Client(), time.Second).AskBob(context.Background(), "t", "AA==")

			var de *domain.Error
			if !errors.As(err, &de) {
				t.Fatalf("expected *domain.Error, got %T %v", err, err)
			}
			if de.Kind != domain.KindTransport || de.Status != tt.status || de.Message != tt.message {
				t.Fatalf("unexpected error %+v", de)
			}
			if de.StatusText != http.StatusText(tt.status) {
				t.Fatalf("unexpected status text %q", de.StatusText)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, srv.Client(), 20*time.Millisecond).AskBob(context.Background(), "t", "AA==")
	if domain.KindOf(err) != domain.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestFetchProfileForbidden(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"invalid code"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client(), time.Second).FetchProfile(context.Background(), "old")
	if !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestFetchProfile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/otc/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"message":"found","data":{"otc":"abc","name":"Ada",
			"contacts":[{"_id":"c1","name":"Mom"}],
			"backgrounds":[{"data":"https://example.com/a.jpg","isVR":"false"}],
			"isCloudEnabled":"true","isSnowEnabled":"false"}}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL+"/", srv.Client(), time.Second).FetchProfile(context.Background(), "abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Name != "Ada" || !p.CloudEnabled() || p.SnowEnabled() {
		t.Fatalf("unexpected profile %+v", p)
	}
	if c, ok := p.Contact("c1"); !ok || c.Name != "Mom" {
		t.Fatalf("contact lookup failed: %+v %v", c, ok)
	}
}

func TestStartCallPostsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("contact_id") != "c1" || r.PostForm.Get("sms") != "true" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_, _ = io.WriteString(w, `{"message":"calling","data":{}}`)
	}))
	defer srv.Close()

	if err := New(srv.URL, srv.Client(), time.Second).StartCall(context.Background(), "abc", "c1"); err != nil {
		t.Fatalf("start call: %v", err)
	}
}

func TestTextToSpeechStreamsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("text") != "hello & welcome" {
			t.Errorf("unexpected text %q", r.PostForm.Get("text"))
		}
		w.Header().Set("Content-Type", "audio/ogg;codecs=opus")
		_, _ = io.WriteString(w, "OggS-audio")
	}))
	defer srv.Close()

	speech, err := New(srv.URL, srv.Client(), time.Second).TextToSpeech(context.Background(), "abc", "hello & welcome")
	if err != nil {
		t.Fatalf("tts: %v", err)
	}
	defer speech.Close()

	body, err := io.ReadAll(speech)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "OggS-audio" || speech.MimeType != "audio/ogg;codecs=opus" {
		t.Fatalf("unexpected speech %q %q", body, speech.MimeType)
	}
}
