package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s/gemini"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// connect creates a Provider pointing at srv and opens a session.
func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig, opts ...gemini.Option) s2s.Session {
	t.Helper()
	opts = append([]gemini.Option{gemini.WithBaseURL(wsURL(srv))}, opts...)
	p, err := gemini.New("test-api-key", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// nextEvent waits for the next event on sess, skipping setup acknowledgements.
func nextEvent(t *testing.T, sess s2s.Session) (s2s.Event, bool) {
	t.Helper()
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return s2s.Event{}, false
			}
			if ev.Type == s2s.EventMessage && len(ev.Message.Parts) == 0 && !ev.Message.TurnComplete {
				continue
			}
			return ev, true
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for event")
			return s2s.Event{}, false
		}
	}
}

// ── Construction ──────────────────────────────────────────────────────────────

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	p, err := gemini.New("")
	if !errors.Is(err, gemini.ErrMissingAPIKey) {
		t.Fatalf("err = %v; want ErrMissingAPIKey", err)
	}
	if p != nil {
		t.Error("provider should be nil on error")
	}
}

func TestCapabilities_ListsVoices(t *testing.T) {
	t.Parallel()
	p, err := gemini.New("key")
	if err != nil {
		t.Fatal(err)
	}
	caps := p.Capabilities()
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
	if caps.MaxSessionDurationMs == 0 {
		t.Error("MaxSessionDurationMs should be set")
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	query := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{
		Model:        "custom-live",
		Voice:        "Puck",
		Instructions: "You are an upbeat hobby coach.",
	})

	select {
	case msg := <-received:
		if msg.Setup.Model != "models/custom-live" {
			t.Errorf("model = %q; want models/custom-live", msg.Setup.Model)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
			t.Errorf("responseModalities = %v; want [AUDIO]", got)
		}
		sc := msg.Setup.GenerationConfig.SpeechConfig
		if sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
			t.Errorf("speechConfig = %+v; want voice Puck", sc)
		}
		si := msg.Setup.SystemInstruction
		if si == nil || len(si.Parts) != 1 || si.Parts[0].Text != "You are an upbeat hobby coach." {
			t.Errorf("systemInstruction = %+v", si)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}

	if q := <-query; !strings.Contains(q, "key=test-api-key") {
		t.Errorf("URL query %q should contain the API key", q)
	}
}

func TestConnect_DefaultModelAndOption(t *testing.T) {
	t.Parallel()

	models := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		models <- msg.Setup.Model
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{}, gemini.WithModel("gemini-live-test"))

	if got := <-models; got != "models/gemini-live-test" {
		t.Errorf("model = %q; want models/gemini-live-test", got)
	}
}

func TestConnect_FirstEventIsOpen(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	ev, ok := <-sess.Events()
	if !ok || ev.Type != s2s.EventOpen {
		t.Fatalf("first event = %v (ok=%v); want OPEN", ev.Type, ok)
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	p, err := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Connect(ctx, s2s.SessionConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ── SendInput ─────────────────────────────────────────────────────────────────

func TestSendInput_WritesMediaChunk(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	got := make(chan realtimeInput, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg realtimeInput
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	blob := audio.EncodeBlob([]float32{0, 0.5, -0.5})
	if err := sess.SendInput(context.Background(), blob); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	select {
	case msg := <-got:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("media chunks = %d; want 1", len(chunks))
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q", chunks[0].MIMEType)
		}
		if chunks[0].Data != blob.Data {
			t.Errorf("data = %q; want %q", chunks[0].Data, blob.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for realtimeInput")
	}
}

func TestSendInput_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.SendInput(context.Background(), audio.EncodeBlob(nil)); err == nil {
		t.Error("SendInput after Close should fail")
	}
}

func TestSendInput_Concurrent(t *testing.T) {
	t.Parallel()

	const n = 20
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		for range n {
			var raw map[string]any
			readJSON(t, conn, &raw)
		}
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			if err := sess.SendInput(context.Background(), audio.EncodeBlob(make([]float32, 64))); err != nil {
				t.Errorf("SendInput: %v", err)
			}
		})
	}
	wg.Wait()
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_ServerContentKeepsPartOrder(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}},
						{"text": "Nice progress on the sketchbook!"},
					},
				},
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	if ev, _ := nextEvent(t, sess); ev.Type != s2s.EventOpen {
		t.Fatalf("first event = %v; want OPEN", ev.Type)
	}

	ev, ok := nextEvent(t, sess)
	if !ok || ev.Type != s2s.EventMessage {
		t.Fatalf("event = %v; want MESSAGE", ev.Type)
	}
	data, ok := ev.Message.InlineAudio()
	if !ok || data != "AAAA" {
		t.Errorf("InlineAudio() = %q, %v; want AAAA, true", data, ok)
	}
	if len(ev.Message.Parts) != 2 || ev.Message.Parts[1].Text != "Nice progress on the sketchbook!" {
		t.Errorf("parts = %+v", ev.Message.Parts)
	}

	ev, ok = nextEvent(t, sess)
	if !ok || ev.Type != s2s.EventMessage || !ev.Message.TurnComplete {
		t.Errorf("event = %+v; want turnComplete message", ev)
	}
	if _, ok := ev.Message.InlineAudio(); ok {
		t.Error("turnComplete message should carry no audio")
	}
}

func TestEvents_RemoteCloseIsTerminal(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusGoingAway, "session limit reached")
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	nextEvent(t, sess) // open
	ev, ok := nextEvent(t, sess)
	if !ok || ev.Type != s2s.EventClose {
		t.Fatalf("event = %v (ok=%v); want CLOSE", ev.Type, ok)
	}
	if ev.Code != int(websocket.StatusGoingAway) || ev.Reason != "session limit reached" {
		t.Errorf("close = %d %q", ev.Code, ev.Reason)
	}
	if _, ok := nextEvent(t, sess); ok {
		t.Error("channel should be closed after a terminal event")
	}
}

func TestEvents_ServerErrorIsTerminal(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 429, "message": "quota exceeded"}})
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	nextEvent(t, sess) // open
	ev, ok := nextEvent(t, sess)
	if !ok || ev.Type != s2s.EventError {
		t.Fatalf("event = %v; want ERROR", ev.Type)
	}
	if ev.Err == nil || !strings.Contains(ev.Err.Error(), "quota exceeded") {
		t.Errorf("err = %v", ev.Err)
	}
	if _, ok := nextEvent(t, sess); ok {
		t.Error("channel should be closed after a terminal event")
	}
}

func TestEvents_MalformedFrameSkipped(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	nextEvent(t, sess) // open
	ev, ok := nextEvent(t, sess)
	if !ok || ev.Type != s2s.EventMessage || !ev.Message.TurnComplete {
		t.Errorf("event = %+v; want the message after the malformed frame", ev)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_IdempotentAndClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, s2s.SessionConfig{})

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			if ev.Type == s2s.EventClose || ev.Type == s2s.EventError {
				t.Errorf("local Close produced terminal event %v", ev.Type)
			}
		case <-deadline:
			t.Fatal("events channel not closed after Close")
		}
	}
}
