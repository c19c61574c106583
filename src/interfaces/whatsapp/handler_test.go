package whatsapp

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeResponder struct {
	texts  []string
	audios [][]byte
	media  map[string][]byte
}

func (f *fakeResponder) SendText(_ context.Context, _, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeResponder) SendAudio(_ context.Context, _ string, audio []byte) error {
	f.audios = append(f.audios, audio)
	return nil
}

func (f *fakeResponder) DownloadMedia(_ context.Context, mediaID string) ([]byte, error) {
	data, ok := f.media[mediaID]
	if !ok {
		return nil, fmt.Errorf("no media %s", mediaID)
	}
	return data, nil
}

type echoAgent struct{}

func (echoAgent) Generate(_ context.Context, _, user string) (string, error) {
	return "echo: " + user, nil
}

type fakeSTT struct{ text string }

func (f fakeSTT) Transcribe(context.Context, []byte) (string, error) { return f.text, nil }

type fakeTTS struct{}

func (fakeTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte("spoken:" + text), nil
}

func textEvent(id, from, body string) string {
	return fmt.Sprintf(`{"entry":[{"changes":[{"value":{"messages":[
		{"id":%q,"from":%q,"type":"text","text":{"body":%q}}]}}]}]}`, id, from, body)
}

func postEvent(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/whatsapp_response", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVerification(t *testing.T) {
	h := NewHandler("secret-token", echoAgent{}, nil, &fakeResponder{})

	req := httptest.NewRequest("GET",
		"/whatsapp_response?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 || rec.Body.String() != "12345" {
		t.Fatalf("verification: code=%d body=%q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET",
		"/whatsapp_response?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 403 {
		t.Fatalf("bad token: code=%d", rec.Code)
	}
}

func TestTextMessageReply(t *testing.T) {
	responder := &fakeResponder{}
	h := NewHandler("t", echoAgent{}, nil, responder)

	rec := postEvent(t, h, textEvent("wamid.1", "15550001111", "hello"))
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(responder.texts) != 1 || responder.texts[0] != "echo: hello" {
		t.Fatalf("texts = %v", responder.texts)
	}
}

func TestDuplicateDeliveryShortCircuits(t *testing.T) {
	responder := &fakeResponder{}
	h := NewHandler("t", echoAgent{}, nil, responder)

	event := textEvent("wamid.dup", "15550001111", "hello")
	for i := 0; i < 3; i++ {
		rec := postEvent(t, h, event)
		if rec.Code != 200 {
			t.Fatalf("delivery %d: code = %d", i, rec.Code)
		}
	}
	if len(responder.texts) != 1 {
		t.Fatalf("pipeline ran %d times for one message", len(responder.texts))
	}

	// A different message still goes through.
	rec := postEvent(t, h, textEvent("wamid.other", "15550001111", "hi again"))
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(responder.texts) != 2 {
		t.Fatalf("texts = %v", responder.texts)
	}
}

func TestAudioMessageRepliesInKind(t *testing.T) {
	responder := &fakeResponder{media: map[string][]byte{"media-1": []byte("ogg-bytes")}}
	h := NewHandler("t", echoAgent{}, nil, responder).
		WithSpeech(fakeSTT{text: "how was your day"}, fakeTTS{})

	body := `{"entry":[{"changes":[{"value":{"messages":[
		{"id":"wamid.a1","from":"15550001111","type":"audio","audio":{"id":"media-1"}}]}}]}]}`
	rec := postEvent(t, h, body)
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(responder.audios) != 1 {
		t.Fatalf("audios = %v", responder.audios)
	}
	if got := string(responder.audios[0]); got != "spoken:echo: how was your day" {
		t.Fatalf("audio = %q", got)
	}
	if len(responder.texts) != 0 {
		t.Fatalf("unexpected text reply: %v", responder.texts)
	}
}

func TestImageMessageUsesCaption(t *testing.T) {
	responder := &fakeResponder{}
	h := NewHandler("t", echoAgent{}, nil, responder)

	body := `{"entry":[{"changes":[{"value":{"messages":[
		{"id":"wamid.i1","from":"15550001111","type":"image","image":{"id":"media-9","caption":"my new bike"}}]}}]}]}`
	rec := postEvent(t, h, body)
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(responder.texts) != 1 || !strings.Contains(responder.texts[0], "my new bike") {
		t.Fatalf("texts = %v", responder.texts)
	}
}

func TestStatusEventAcked(t *testing.T) {
	h := NewHandler("t", echoAgent{}, nil, &fakeResponder{})
	body := `{"entry":[{"changes":[{"value":{"statuses":[{"status":"delivered"}]}}]}]}`
	rec := postEvent(t, h, body)
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	h := NewHandler("t", echoAgent{}, nil, &fakeResponder{})
	rec := postEvent(t, h, `{"entry":[{"changes":[{"value":{}}]}]}`)
	if rec.Code != 400 {
		t.Fatalf("code = %d", rec.Code)
	}

	rec = postEvent(t, h, `not json`)
	if rec.Code != 400 {
		t.Fatalf("bad json: code = %d", rec.Code)
	}
}

func TestAudioWithoutTranscriberFails(t *testing.T) {
	responder := &fakeResponder{media: map[string][]byte{"media-1": []byte("ogg")}}
	h := NewHandler("t", echoAgent{}, nil, responder)

	body := `{"entry":[{"changes":[{"value":{"messages":[
		{"id":"wamid.a2","from":"15550001111","type":"audio","audio":{"id":"media-1"}}]}}]}]}`
	rec := postEvent(t, h, body)
	if rec.Code != 500 {
		t.Fatalf("code = %d", rec.Code)
	}
}
