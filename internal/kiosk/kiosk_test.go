package kiosk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kiosk/internal/api"
	"kiosk/internal/audio"
	"kiosk/internal/bus"
	"kiosk/internal/domain"
	"kiosk/internal/ipc"
	"kiosk/internal/mic"
	"kiosk/internal/nlu"
	"kiosk/internal/scene"
	"kiosk/internal/session"
)

type tickStream struct{}

func (tickStream) Read() ([]int16, error) {
	time.Sleep(time.Millisecond)
	return make([]int16, 160), nil
}

func (tickStream) Close() error { return nil }

type tickCapture struct{}

func (tickCapture) Open(audio.CaptureConfig) (audio.Stream, error) { return tickStream{}, nil }

type prober struct{ err error }

func (p prober) Probe(context.Context) error { return p.err }

type fakeRecognizer struct {
	mu     sync.Mutex
	result domain.IntentResult
	err    error
	reqs   []nlu.Request
}

func (r *fakeRecognizer) Recognize(_ context.Context, req nlu.Request) (domain.IntentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.result, r.err
}

func (r *fakeRecognizer) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type fakeServer struct {
	mu      sync.Mutex
	profile domain.UserProfile
	calls   []string
	tts     int
}

func (s *fakeServer) FetchProfile(context.Context, string) (domain.UserProfile, error) {
	return s.profile, nil
}

func (s *fakeServer) StartCall(_ context.Context, token, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, token+"/"+contactID)
	return nil
}

func (s *fakeServer) TextToSpeech(context.Context, string, string) (*api.Speech, error) {
	s.mu.Lock()
	s.tts++
	s.mu.Unlock()
	return &api.Speech{ReadCloser: io.NopCloser(bytes.NewReader([]byte("RIFF-speech"))), MimeType: "audio/wav"}, nil
}

type fakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	stops  int
}

func (p *fakePlayer) Play(_ context.Context, r io.Reader, mime string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return p.PlayData(data, mime)
}

func (p *fakePlayer) PlayData(data []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, data)
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakePlayer) Playing() bool { return false }

type fakeEvents struct {
	mu    sync.Mutex
	kinds []string
	data  []any
}

func (e *fakeEvents) Publish(_ context.Context, kind, _ string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
	e.data = append(e.data, data)
	return nil
}

func (e *fakeEvents) last(kind string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.kinds) - 1; i >= 0; i-- {
		if e.kinds[i] == kind {
			return e.data[i]
		}
	}
	return nil
}

func (e *fakeEvents) count(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, k := range e.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *fakeNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, note := range n.notes {
		out = append(out, note.Title)
	}
	return out
}

type harness struct {
	k        *Kiosk
	machine  *mic.Machine
	rec      *fakeRecognizer
	server   *fakeServer
	player   *fakePlayer
	events   *fakeEvents
	notifier *fakeNotifier
	clips    string
}

type harnessOpts struct {
	probeErr  error
	cloud     string
	snow      string
	maxRecord time.Duration
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()

	if o.cloud == "" {
		o.cloud = "true"
	}

	machine := mic.NewMachine()
	gate := mic.NewGate(prober{err: o.probeErr}, machine)
	gate.RequestAccess(context.Background())

	dir := t.TempDir()
	sess, err := session.Load(session.NewFileStore(filepath.Join(dir, "state")), "otc-1", api.IsForbidden)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	server := &fakeServer{profile: domain.UserProfile{
		OTC:            "otc-1",
		Name:           "Ada",
		Contacts:       []domain.Contact{{ID: "c1", Name: "Mom"}},
		Backgrounds:    []domain.Background{{Data: "mine.jpg", IsVR: "false"}},
		IsCloudEnabled: o.cloud,
		IsSnowEnabled:  o.snow,
	}}
	if err := sess.Refresh(context.Background(), server); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	h := &harness{
		machine:  machine,
		rec:      &fakeRecognizer{},
		server:   server,
		player:   &fakePlayer{},
		events:   &fakeEvents{},
		notifier: &fakeNotifier{},
		clips:    filepath.Join(dir, "clips"),
	}

	recorder := audio.NewRecorder(tickCapture{}, machine, audio.RecorderConfig{MaxDuration: o.maxRecord}, audio.WithReevaluator(gate))
	h.k, err = New(Deps{
		Recorder:   recorder,
		Machine:    machine,
		Permission: gate,
		Recognizer: h.rec,
		Server:     server,
		Player:     h.player,
		Session:    sess,
		Scenes:     scene.NewCarousel(scene.Defaults),
		Events:     h.events,
		Notifier:   h.notifier,
	}, Options{ClipsDir: h.clips, RecognizeTimeout: time.Second, TTSCache: 4})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return h
}

func (h *harness) record(t *testing.T, owner domain.Owner) error {
	t.Helper()
	ctx := context.Background()
	if err := h.k.Toggle(ctx, owner); err != nil {
		t.Fatalf("start %s: %v", owner, err)
	}
	time.Sleep(10 * time.Millisecond)
	return h.k.Toggle(ctx, owner)
}

func TestCommandStartsCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.rec.result = domain.IntentResult{Text: "call mom", Action: domain.ActionStartCall, ContactID: "c1"}

	if err := h.record(t, domain.OwnerCommand); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.k.Wait()

	if len(h.server.calls) != 1 || h.server.calls[0] != "otc-1/c1" {
		t.Fatalf("unexpected calls %v", h.server.calls)
	}
	if h.events.count(bus.KindCall) != 1 {
		t.Fatalf("expected one call event, got %v", h.events.kinds)
	}
	if req := h.rec.reqs[0]; req.Token != "otc-1" || req.Clip.MimeType != audio.MimeWAV || len(req.Profile.Contacts) != 1 {
		t.Fatalf("unexpected recognize request %+v", req)
	}
	if state := h.machine.State(domain.OwnerCommand); state != mic.StateIdle {
		t.Fatalf("expected idle after processing, got %s", state)
	}
	if h.player.stops == 0 {
		t.Fatalf("playback should be stopped when recording starts")
	}
}

func TestServerErrorNotifiesWithoutDispatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.rec.err = domain.TransportError(500, "server error")

	err := h.record(t, domain.OwnerCommand)
	var de *domain.Error
	if !errors.As(err, &de) || de.Status != 500 || de.Message != "server error" {
		t.Fatalf("expected transport error, got %v", err)
	}
	h.k.Wait()

	if len(h.server.calls) != 0 || h.server.tts != 0 || h.events.count(bus.KindScene) != 0 {
		t.Fatalf("no hook may run on a failed upload")
	}
	titles := h.notifier.titles()
	if len(titles) != 1 || titles[0] != "Something went wrong." {
		t.Fatalf("unexpected notifications %v", titles)
	}
	if state := h.machine.State(domain.OwnerCommand); state != mic.StateIdle {
		t.Fatalf("expected idle, got %s", state)
	}
}

func TestSpeakUsesCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.k.Speak(ctx, "Hello there"); err != nil {
			t.Fatalf("speak: %v", err)
		}
	}
	if h.server.tts != 1 {
		t.Fatalf("expected one synthesis, got %d", h.server.tts)
	}
	if len(h.player.played) != 2 || string(h.player.played[1]) != "RIFF-speech" {
		t.Fatalf("unexpected playback %q", h.player.played)
	}
}

func TestClipIsSaved(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	if err := h.record(t, domain.OwnerClip); err != nil {
		t.Fatalf("clip: %v", err)
	}
	h.k.Wait()

	entries, err := os.ReadDir(h.clips)
	if err != nil || len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".wav" {
		t.Fatalf("expected one wav clip, got %v %v", entries, err)
	}
	if h.rec.calls() != 0 {
		t.Fatalf("clips must not be sent for recognition")
	}
	if titles := h.notifier.titles(); len(titles) != 1 || titles[0] != "Voice clip saved." {
		t.Fatalf("unexpected notifications %v", titles)
	}
}

func TestMicrophoneIsExclusive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	if err := h.k.Toggle(ctx, domain.OwnerCommand); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.k.Toggle(ctx, domain.OwnerClip); !errors.Is(err, mic.ErrMicInUse) {
		t.Fatalf("expected ErrMicInUse, got %v", err)
	}
	if err := h.k.Abort(ctx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	h.k.Wait()
	if h.rec.calls() != 0 {
		t.Fatalf("aborted recording must not be recognized")
	}
	if err := h.k.Toggle(ctx, domain.OwnerClip); err != nil {
		t.Fatalf("clip after abort: %v", err)
	}
	_ = h.k.Abort(ctx)
	h.k.Wait()
}

func TestRecordingRefused(t *testing.T) {
	t.Parallel()

	denied := newHarness(t, harnessOpts{probeErr: errors.New("no device")})
	if err := denied.k.Toggle(context.Background(), domain.OwnerCommand); !errors.Is(err, mic.ErrMicBlocked) {
		t.Fatalf("expected ErrMicBlocked, got %v", err)
	}
	if titles := denied.notifier.titles(); len(titles) != 1 || titles[0] != "Microphone unavailable." {
		t.Fatalf("unexpected notifications %v", titles)
	}

	disabled := newHarness(t, harnessOpts{cloud: "false"})
	if err := disabled.k.Toggle(context.Background(), domain.OwnerCommand); !errors.Is(err, ErrCloudDisabled) {
		t.Fatalf("expected ErrCloudDisabled, got %v", err)
	}
}

func TestMaxDurationProcessesRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{maxRecord: 15 * time.Millisecond})
	h.rec.result = domain.IntentResult{Text: "next", Action: domain.ActionChangeBackground}

	if err := h.k.Toggle(context.Background(), domain.OwnerCommand); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.k.Wait()

	if h.rec.calls() != 1 {
		t.Fatalf("expected the recording to be processed once, got %d", h.rec.calls())
	}
	if h.events.count(bus.KindScene) != 1 {
		t.Fatalf("expected a scene change, got %v", h.events.kinds)
	}
}

func TestHandleControl(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	reply := h.k.HandleControl(ctx, ipc.Request{Cmd: ipc.CmdStatus})
	if !reply.OK || reply.Status == nil || reply.Status.User != "Ada" || reply.Status.Scenes != 3 {
		t.Fatalf("unexpected status %+v", reply)
	}
	if reply.Status.Permission != domain.PermissionGranted || reply.Status.Owners["command"] != "idle" {
		t.Fatalf("unexpected status %+v", reply.Status)
	}

	reply = h.k.HandleControl(ctx, ipc.Request{Cmd: ipc.CmdScene})
	if !reply.OK || reply.Status.Scene != 1 {
		t.Fatalf("unexpected scene reply %+v", reply)
	}

	reply = h.k.HandleControl(ctx, ipc.Request{Cmd: ipc.CmdCall})
	if !reply.OK || len(h.server.calls) != 0 {
		t.Fatalf("call without contact must only notify: %+v", reply)
	}
	if titles := h.notifier.titles(); len(titles) != 1 || titles[0] != domain.UnknownContact.Title {
		t.Fatalf("unexpected notifications %v", titles)
	}

	if reply := h.k.HandleControl(ctx, ipc.Request{Cmd: "dance"}); reply.OK {
		t.Fatalf("unknown command must fail")
	}
	if reply := h.k.HandleControl(ctx, ipc.Request{Cmd: ipc.CmdSay}); reply.OK {
		t.Fatalf("say without text must fail")
	}
}

func TestTapTogglesRecorder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.rec.result = domain.IntentResult{Text: "hi", Action: domain.ActionStartExercise}
	ctx := context.Background()

	h.k.HandleEvent(ctx, bus.Message{Kind: bus.KindTap, Content: "command"})
	deadline := time.Now().Add(time.Second)
	for h.machine.State(domain.OwnerCommand) != mic.StateRecording {
		if time.Now().After(deadline) {
			t.Fatalf("tap should start recording")
		}
		time.Sleep(time.Millisecond)
	}

	time.Sleep(10 * time.Millisecond)
	h.k.HandleEvent(ctx, bus.Message{Kind: bus.KindTap, Content: "command"})
	h.k.HandleEvent(ctx, bus.Message{Kind: bus.KindTap, Content: "bogus"})
	h.k.HandleEvent(ctx, bus.Message{Kind: bus.KindScene, Content: "command"})
	h.k.Wait()

	if h.events.count(bus.KindExercise) != 1 {
		t.Fatalf("expected exercise event, got %v", h.events.kinds)
	}
}

func TestConcurrentStartsShareOneSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.k.Start(ctx, domain.OwnerCommand)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	if n := h.events.count(bus.KindRecorder); n != 1 {
		t.Fatalf("expected one recorder event, got %d", n)
	}
	if err := h.k.Abort(ctx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	h.k.Wait()
	if h.rec.calls() != 0 {
		t.Fatalf("aborted recording must not be recognized")
	}
}

func TestSceneEventCarriesSnow(t *testing.T) {
	t.Parallel()

	for _, snow := range []string{"true", "false"} {
		h := newHarness(t, harnessOpts{snow: snow})
		if err := h.k.SceneAdvance(context.Background()); err != nil {
			t.Fatalf("advance: %v", err)
		}
		ev, ok := h.events.last(bus.KindScene).(sceneEvent)
		if !ok {
			t.Fatalf("expected a scene event, got %v", h.events.kinds)
		}
		if ev.Snow != (snow == "true") || ev.Index != 1 {
			t.Fatalf("unexpected scene event %+v for snow=%s", ev, snow)
		}
	}
}
