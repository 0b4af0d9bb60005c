package nlu

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kiosk/internal/domain"
	"kiosk/pkg/transport"
)

type fakeAsker struct {
	token   string
	payload string
}

func (a *fakeAsker) AskBob(_ context.Context, token, payload string) (domain.IntentResult, error) {
	a.token, a.payload = token, payload
	return domain.IntentResult{Text: "hi", Action: domain.ActionRespondAudioOnly, Reply: "hello"}, nil
}

func TestRemoteEncodesClip(t *testing.T) {
	t.Parallel()

	a := &fakeAsker{}
	clip := domain.Clip{Data: []byte("RIFFdata"), MimeType: "audio/wav"}
	res, err := NewRemote(a).Recognize(context.Background(), Request{Token: "otc", Clip: clip})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if res.Reply != "hello" || a.token != "otc" {
		t.Fatalf("unexpected result %+v token %q", res, a.token)
	}
	raw, err := transport.Decode(a.payload)
	if err != nil || string(raw) != "RIFFdata" {
		t.Fatalf("payload did not round trip: %q %v", raw, err)
	}
}

func TestRemoteRejectsEmptyClip(t *testing.T) {
	t.Parallel()

	a := &fakeAsker{}
	_, err := NewRemote(a).Recognize(context.Background(), Request{Token: "otc"})
	if domain.KindOf(err) != domain.KindEncoding || !errors.Is(err, ErrEmptyClip) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if a.token != "" {
		t.Fatalf("an empty clip must not reach the server")
	}
}

func TestParseIntent(t *testing.T) {
	t.Parallel()

	got, err := parseIntent("```json\n{\"action\":\"startCall\",\"contact_id\":\"c1\"}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Action != domain.ActionStartCall || got.ContactID != "c1" {
		t.Fatalf("unexpected intent %+v", got)
	}
	if _, err := parseIntent("sure, calling mom"); err == nil {
		t.Fatalf("expected error for prose")
	}
}

func TestContactList(t *testing.T) {
	t.Parallel()

	s := contactList([]domain.Contact{{ID: "c1", Name: "Mom"}})
	if !strings.Contains(s, "- c1 = Mom") {
		t.Fatalf("unexpected contact list %q", s)
	}
}
