package kiosk

import (
	"context"
	"errors"
	log "log/slog"
	"strings"

	"kiosk/internal/bus"
	"kiosk/internal/domain"
	"kiosk/internal/ipc"
	"kiosk/internal/mic"
	"kiosk/internal/nlu"
)

// HandleControl answers one control socket request.
func (k *Kiosk) HandleControl(ctx context.Context, req ipc.Request) ipc.Reply {
	arg := strings.TrimSpace(req.Arg)

	var err error
	switch req.Cmd {
	case ipc.CmdCommand:
		err = k.Toggle(ctx, domain.OwnerCommand)
	case ipc.CmdClip:
		err = k.Toggle(ctx, domain.OwnerClip)
	case ipc.CmdAbort:
		err = k.Abort(ctx)
	case ipc.CmdScene:
		err = k.SceneAdvance(ctx)
	case ipc.CmdSay:
		if arg == "" {
			return ipc.Reply{Message: "say needs some text"}
		}
		err = k.Speak(ctx, arg)
	case ipc.CmdCall:
		// same checks as a spoken call
		_, err = nlu.Dispatch(ctx, domain.IntentResult{Text: "call", Action: domain.ActionStartCall, ContactID: arg}, k)
	case ipc.CmdRefresh:
		err = k.Refresh(ctx)
	case ipc.CmdStatus:
	default:
		log.Warn("Unknown command", "cmd", req.Cmd)
		return ipc.Reply{Message: "unknown command " + req.Cmd}
	}

	if err != nil {
		return ipc.Reply{Message: replyMessage(err)}
	}
	st := k.Status()
	return ipc.Reply{OK: true, Status: &st}
}

// HandleEvent reacts to taps coming from the UI shell.
func (k *Kiosk) HandleEvent(ctx context.Context, m bus.Message) {
	if m.Kind != bus.KindTap {
		return
	}
	owner := domain.Owner(m.Content)
	if !owner.Valid() {
		log.Debug("Ignoring tap", "content", m.Content)
		return
	}
	// the pipeline can take seconds, keep the bus reading
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		if err := k.Toggle(ctx, owner); err != nil {
			log.Debug("Tap failed", "owner", owner, "err", err)
		}
	}()
}

func replyMessage(err error) string {
	switch {
	case errors.Is(err, mic.ErrMicBlocked):
		return "microphone unavailable"
	case errors.Is(err, mic.ErrMicInUse):
		return "microphone is in use"
	case errors.Is(err, mic.ErrOwnerBusy):
		return "still processing the last recording"
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Notification().Title
	}
	return err.Error()
}
