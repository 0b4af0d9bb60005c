package nlu

import (
	"context"
	log "log/slog"

	"kiosk/internal/domain"
)

// Outcome is the single thing a dispatched intent results in.
type Outcome int

const (
	OutcomeNotify Outcome = iota
	OutcomeSpeak
	OutcomeExercise
	OutcomeScene
	OutcomeCall
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSpeak:
		return "speak"
	case OutcomeExercise:
		return "exercise"
	case OutcomeScene:
		return "scene"
	case OutcomeCall:
		return "call"
	default:
		return "notify"
	}
}

type Decision struct {
	Outcome   Outcome
	Reply     string
	ContactID string
	// Err is set for OutcomeNotify only.
	Err *domain.Error
}

// Hooks are the collaborators an intent can reach.
type Hooks interface {
	SceneAdvance(ctx context.Context) error
	CallStart(ctx context.Context, contactID string) error
	ExerciseStart(ctx context.Context) error
	Speak(ctx context.Context, reply string) error
	Notify(ctx context.Context, n domain.Notification)
}

// Decide maps an intent to exactly one outcome. Checks run in order: missing
// text, missing action, call without a contact, then the action itself.
func Decide(r domain.IntentResult) Decision {
	if r.Text == "" {
		return notify(domain.KindUnrecognizedSpeech)
	}
	if r.Action == "" {
		return notify(domain.KindUnrecognizedIntent)
	}
	if r.Action == domain.ActionStartCall && r.ContactID == "" {
		return notify(domain.KindUnknownContact)
	}

	switch r.Action {
	case domain.ActionRespondAudioOnly:
		return Decision{Outcome: OutcomeSpeak, Reply: r.Reply}
	case domain.ActionStartExercise:
		return Decision{Outcome: OutcomeExercise}
	case domain.ActionChangeBackground:
		return Decision{Outcome: OutcomeScene}
	case domain.ActionStartCall:
		return Decision{Outcome: OutcomeCall, ContactID: r.ContactID}
	}

	log.Warn("Unknown intent action", "action", r.Action, "text", r.Text)
	return notify(domain.KindUnrecognizedSpeech)
}

func notify(kind domain.ErrorKind) Decision {
	return Decision{Outcome: OutcomeNotify, Err: &domain.Error{Kind: kind}}
}

// Dispatch decides and invokes the matching hook. The hook's error is
// returned untouched; the caller decides how to surface it.
func Dispatch(ctx context.Context, r domain.IntentResult, hooks Hooks) (Decision, error) {
	d := Decide(r)
	log.Info("Dispatching intent", "outcome", d.Outcome, "action", r.Action)

	var err error
	switch d.Outcome {
	case OutcomeSpeak:
		err = hooks.Speak(ctx, d.Reply)
	case OutcomeExercise:
		err = hooks.ExerciseStart(ctx)
	case OutcomeScene:
		err = hooks.SceneAdvance(ctx)
	case OutcomeCall:
		err = hooks.CallStart(ctx, d.ContactID)
	default:
		hooks.Notify(ctx, d.Err.Notification())
	}
	return d, err
}
