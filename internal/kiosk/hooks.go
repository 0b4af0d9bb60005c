package kiosk

import (
	"bytes"
	"context"
	"io"
	log "log/slog"
	"strings"

	"kiosk/internal/bus"
	"kiosk/internal/domain"
)

type sceneEvent struct {
	Index int    `json:"index"`
	Data  string `json:"data"`
	IsVR  bool   `json:"isVR"`
	Snow  bool   `json:"snow"`
}

type callEvent struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

func (k *Kiosk) SceneAdvance(ctx context.Context) error {
	idx, bg := k.Scenes.Advance()
	p, _ := k.Session.Profile()
	log.Info("Scene changed", "index", idx, "of", k.Scenes.Len())
	k.publish(ctx, bus.KindScene, bg.Data, sceneEvent{
		Index: idx,
		Data:  bg.Data,
		IsVR:  bg.IsVR == "true",
		Snow:  p.SnowEnabled(),
	})
	return nil
}

// CallStart asks the server to invite the contact, then opens the call room
// in the UI. The room is named after the contact.
func (k *Kiosk) CallStart(ctx context.Context, contactID string) error {
	token := k.Session.Token()
	if token == "" {
		return ErrNoSession
	}
	if err := k.Server.StartCall(ctx, token, contactID); err != nil {
		return err
	}

	ev := callEvent{Room: contactID}
	if p, ok := k.Session.Profile(); ok {
		if c, ok := p.Contact(contactID); ok {
			ev.Name = c.Name
		}
	}
	log.Info("Call started", "contact", contactID, "name", ev.Name)
	k.publish(ctx, bus.KindCall, contactID, ev)
	return nil
}

func (k *Kiosk) ExerciseStart(ctx context.Context) error {
	log.Info("Exercise initiated")
	k.publish(ctx, bus.KindExercise, "start", nil)
	return nil
}

// Speak synthesizes reply and plays it. Replies are cached by text.
func (k *Kiosk) Speak(ctx context.Context, reply string) error {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Debug("Nothing to say")
		return nil
	}

	if sp, ok := k.cache.Get(reply); ok {
		log.Debug("Speech cache hit", "bytes", len(sp.data))
		return k.Player.PlayData(sp.data, sp.mime)
	}

	token := k.Session.Token()
	if token == "" {
		return ErrNoSession
	}
	resp, err := k.Server.TextToSpeech(ctx, token, reply)
	if err != nil {
		return err
	}
	defer resp.Close()

	var buf bytes.Buffer
	if err := k.Player.Play(ctx, io.TeeReader(resp, &buf), resp.MimeType); err != nil {
		return err
	}
	k.cache.Add(reply, speech{data: buf.Bytes(), mime: resp.MimeType})
	return nil
}

func (k *Kiosk) Notify(ctx context.Context, n domain.Notification) {
	k.notify(ctx, n)
}
