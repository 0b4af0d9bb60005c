package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"kiosk/internal/domain"
	"kiosk/pkg/transport"
)

// Request is one recorded command together with the session it belongs to.
type Request struct {
	Token   string
	Profile domain.UserProfile
	Clip    domain.Clip
}

// Recognizer turns a recorded command into an intent.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (domain.IntentResult, error)
}

// Asker is the askbob endpoint of the kiosk server.
type Asker interface {
	AskBob(ctx context.Context, token, payload string) (domain.IntentResult, error)
}

var ErrEmptyClip = errors.New("empty audio clip")

// Remote sends the clip to the kiosk server and lets it do the work.
type Remote struct {
	api Asker
}

func NewRemote(api Asker) *Remote { return &Remote{api: api} }

func (r *Remote) Recognize(ctx context.Context, req Request) (domain.IntentResult, error) {
	if len(req.Clip.Data) == 0 {
		return domain.IntentResult{}, domain.EncodingError(ErrEmptyClip)
	}
	return r.api.AskBob(ctx, req.Token, transport.Encode(req.Clip.Data))
}

const systemPrompt = `
You are the intent classifier of a telepresence kiosk.
Convert the user's utterance into a minimal JSON object. Output ONLY JSON, no markdown.

OUTPUT FORMAT:
{
  "action": "<respondAudioOnly|startExercise|changeBackground|startCall|>",
  "contact_id": "<id from CONTACTS or empty>",
  "reply": "<short spoken answer, only for respondAudioOnly>"
}

RULES:
- "startCall" when the user wants to call, ring or video chat someone. Pick the
  contact_id from CONTACTS by name; leave it empty if nobody matches.
- "changeBackground" for requests to change the scene, background or view.
- "startExercise" for requests to exercise, stretch or work out.
- "respondAudioOnly" for questions and small talk; put a friendly one or two
  sentence answer in "reply".
- Empty action if the utterance cannot be classified.
Never invent contacts.
`

type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAI(client openai.Client, model string) *OpenAI {
	m := openai.ChatModel(model)
	if model == "" {
		m = openai.ChatModelGPT5Nano
	}
	return &OpenAI{client: client, model: m}
}

// Recognize transcribes the clip with whisper and classifies the transcript.
func (o *OpenAI) Recognize(ctx context.Context, req Request) (domain.IntentResult, error) {
	tr, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(req.Clip.Data), "command.wav", req.Clip.MimeType),
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		return domain.IntentResult{}, domain.Normalize(fmt.Errorf("transcription: %w", err))
	}

	text := strings.TrimSpace(tr.Text)
	log.Debug("Transcribed", "text", text)
	if text == "" {
		return domain.IntentResult{}, nil
	}

	out, err := o.analyze(ctx, text, req.Profile.Contacts)
	if err != nil {
		return domain.IntentResult{}, domain.Normalize(err)
	}
	out.Text = text
	return out, nil
}

func (o *OpenAI) analyze(ctx context.Context, transcript string, contacts []domain.Contact) (domain.IntentResult, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt + contactList(contacts)),
			openai.UserMessage(transcript),
		},
		Model: o.model,
	})
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return domain.IntentResult{}, fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return domain.IntentResult{}, fmt.Errorf("empty message content")
	}

	log.Debug("Processed", "data", content)

	return parseIntent(content)
}

func parseIntent(content string) (domain.IntentResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out domain.IntentResult
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return domain.IntentResult{}, fmt.Errorf("unmarshal intent: %w (raw: %s)", err, content)
	}
	return out, nil
}

func contactList(contacts []domain.Contact) string {
	var b strings.Builder
	b.WriteString("\nCONTACTS:\n")
	if len(contacts) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range contacts {
		fmt.Fprintf(&b, "- %s = %s\n", c.ID, c.Name)
	}
	return b.String()
}
