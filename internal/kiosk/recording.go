package kiosk

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"kiosk/internal/audio"
	"kiosk/internal/bus"
	"kiosk/internal/domain"
	"kiosk/internal/mic"
	"kiosk/internal/nlu"
)

type recorderEvent struct {
	Owner domain.Owner `json:"owner"`
	State string       `json:"state"`
}

// Toggle starts recording for owner, or stops and processes the recording
// if one is running.
func (k *Kiosk) Toggle(ctx context.Context, owner domain.Owner) error {
	if s := k.Recorder.Active(owner); s != nil {
		return k.finish(ctx, s)
	}
	return k.Start(ctx, owner)
}

func (k *Kiosk) Start(ctx context.Context, owner domain.Owner) error {
	if !owner.Valid() {
		return mic.ErrUnknownOwner
	}
	if !k.Session.Active() {
		log.Warn("Recording refused", "owner", owner, "reason", ErrNoSession)
		return ErrNoSession
	}
	if p, ok := k.Session.Profile(); ok && !p.CloudEnabled() {
		log.Info("Recording refused", "owner", owner, "reason", ErrCloudDisabled)
		return ErrCloudDisabled
	}

	// keep the reply out of the microphone
	k.Player.Stop()

	s, err := k.Recorder.Start(ctx, owner)
	if err != nil {
		if errors.Is(err, mic.ErrMicBlocked) {
			k.notify(ctx, (&domain.Error{Kind: domain.KindPermissionDenied}).Notification())
		}
		return err
	}
	if !s.Claim() {
		log.Debug("Recording already running", "owner", owner, "session", s.ID)
		return nil
	}

	k.publish(ctx, bus.KindRecorder, string(owner), recorderEvent{Owner: owner, State: string(mic.StateRecording)})

	k.wg.Add(1)
	go k.watch(context.WithoutCancel(ctx), s)
	return nil
}

// Stop ends owner's recording and runs it through the pipeline.
func (k *Kiosk) Stop(ctx context.Context, owner domain.Owner) error {
	s := k.Recorder.Active(owner)
	if s == nil {
		return mic.ErrNotRecording
	}
	return k.finish(ctx, s)
}

// Abort throws away whatever is being recorded and silences the speaker.
func (k *Kiosk) Abort(ctx context.Context) error {
	k.Player.Stop()

	var aborted bool
	for _, owner := range []domain.Owner{domain.OwnerCommand, domain.OwnerClip} {
		s := k.Recorder.Active(owner)
		if s == nil {
			continue
		}
		if err := k.Recorder.Abort(ctx, s); err != nil {
			if errors.Is(err, mic.ErrNotRecording) {
				continue
			}
			return err
		}
		aborted = true
		k.publish(ctx, bus.KindRecorder, string(owner), recorderEvent{Owner: owner, State: string(mic.StateIdle)})
	}
	if !aborted {
		log.Debug("Nothing to abort")
	}
	return nil
}

// watch finishes a recording that ended without a Stop, e.g. at the maximum
// duration or on a device error.
func (k *Kiosk) watch(ctx context.Context, s *audio.Session) {
	defer k.wg.Done()
	<-s.Done()
	if k.Recorder.Active(s.Owner) != s {
		return
	}
	log.Debug("Recording ended on its own", "owner", s.Owner, "session", s.ID)
	if err := k.finish(ctx, s); err != nil && !errors.Is(err, mic.ErrNotRecording) {
		log.Debug("Auto stop failed", "owner", s.Owner, "err", err)
	}
}

func (k *Kiosk) finish(ctx context.Context, s *audio.Session) error {
	clip, err := k.Recorder.Stop(ctx, s)
	if errors.Is(err, mic.ErrNotRecording) {
		// the other path got there first
		return nil
	}
	if k.Cue != nil {
		k.Cue.Play()
	}
	if err != nil {
		k.publish(ctx, bus.KindRecorder, string(s.Owner), recorderEvent{Owner: s.Owner, State: string(mic.StateIdle)})
		k.notifyErr(ctx, err)
		return err
	}

	k.publish(ctx, bus.KindRecorder, string(s.Owner), recorderEvent{Owner: s.Owner, State: string(mic.StateProcessing)})
	defer func() {
		k.Machine.Done(s.Owner)
		k.publish(ctx, bus.KindRecorder, string(s.Owner), recorderEvent{Owner: s.Owner, State: string(mic.StateIdle)})
	}()

	switch s.Owner {
	case domain.OwnerClip:
		return k.saveClip(ctx, clip)
	default:
		return k.command(ctx, clip)
	}
}

func (k *Kiosk) command(ctx context.Context, clip domain.Clip) error {
	profile, _ := k.Session.Profile()
	req := nlu.Request{Token: k.Session.Token(), Profile: profile, Clip: clip}

	rctx, cancel := context.WithTimeout(ctx, k.opts.RecognizeTimeout)
	res, err := k.Recognizer.Recognize(rctx, req)
	cancel()
	if err != nil {
		k.notifyErr(ctx, err)
		return err
	}

	if _, err := nlu.Dispatch(ctx, res, k); err != nil {
		k.notifyErr(ctx, err)
		return err
	}
	return nil
}

func (k *Kiosk) saveClip(ctx context.Context, clip domain.Clip) error {
	if err := os.MkdirAll(k.opts.ClipsDir, 0o755); err != nil {
		k.notifyErr(ctx, domain.EncodingError(err))
		return err
	}

	path := filepath.Join(k.opts.ClipsDir, uuid.NewString()+".wav")
	if err := os.WriteFile(path, clip.Data, 0o644); err != nil {
		err = fmt.Errorf("save clip: %w", err)
		k.notifyErr(ctx, domain.EncodingError(err))
		return err
	}

	log.Info("Clip saved", "path", path, "duration", clip.Duration)
	k.notify(ctx, domain.Notification{
		Title:       "Voice clip saved.",
		Description: "Your message was recorded.",
		Status:      domain.StatusSuccess,
		Duration:    domain.DefaultNotificationDuration,
	})
	return nil
}
