// Package synthtest provides an in-process stream-input server for tests.
package synthtest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxlink/pkg/synth"
)

// Message is one text message received by the server.
type Message struct {
	Text          *string              `json:"text"`
	VoiceSettings *synth.VoiceSettings `json:"voice_settings"`
	APIKey        string               `json:"xi_api_key"`
}

// Server is a fake synthesis endpoint. Handler runs once per connection.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	messages []Message
	raw      []string
	queries  []url.Values
	handler  func(*Conn)
	status   int
}

// NewServer starts a server running handler for each connection.
func NewServer(handler func(*Conn)) *Server {
	s := &Server{handler: handler}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// NewRejectingServer starts a server that refuses the upgrade with status.
func NewRejectingServer(status int) *Server {
	s := &Server{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Config returns a session config pointing at the server.
func (s *Server) Config() synth.Config {
	return synth.Config{
		APIKey:  "test-key",
		VoiceID: "voice-1",
		ModelID: "model-1",
		BaseURL: "ws" + strings.TrimPrefix(s.URL, "http"),
		Voice:   synth.VoiceSettings{Stability: 0.9, SimilarityBoost: 0.8},
	}
}

// Messages returns every decoded message received so far, in order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Texts returns the text field of every message after the opener.
func (s *Server) Texts() []string {
	msgs := s.Messages()
	var out []string
	for i, m := range msgs {
		if i == 0 || m.Text == nil {
			continue
		}
		out = append(out, *m.Text)
	}
	return out
}

// Raw returns every message exactly as received.
func (s *Server) Raw() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.raw...)
}

// Queries returns the query string of each upgrade request.
func (s *Server) Queries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if s.status != 0 {
		http.Error(w, http.StatusText(s.status), s.status)
		return
	}
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.Query())
	s.mu.Unlock()

	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	c := &Conn{ws: ws, srv: s}
	if s.handler != nil {
		s.handler(c)
	}
}

// Conn is the server side of one session.
type Conn struct {
	ws  *websocket.Conn
	srv *Server
}

// Read returns the next message sent by the client.
func (c *Conn) Read() (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	c.srv.mu.Lock()
	c.srv.messages = append(c.srv.messages, m)
	c.srv.raw = append(c.srv.raw, string(data))
	c.srv.mu.Unlock()
	return m, nil
}

// ReadUntilTerminator reads messages until the empty-text terminator.
func (c *Conn) ReadUntilTerminator() error {
	for {
		m, err := c.Read()
		if err != nil {
			return err
		}
		if m.Text != nil && *m.Text == "" {
			return nil
		}
	}
}

// SendJSON writes v as a text message.
func (c *Conn) SendJSON(v any) error {
	return c.ws.WriteJSON(v)
}

// SendAudio writes an audio message carrying raw as base64.
func (c *Conn) SendAudio(raw []byte) error {
	return c.SendJSON(map[string]any{
		"audio":   base64.StdEncoding.EncodeToString(raw),
		"isFinal": false,
	})
}

// SendError writes a service diagnostic.
func (c *Conn) SendError(msg string) error {
	return c.SendJSON(map[string]any{"message": msg, "error": "invalid_request"})
}

// SendFinal writes the end-of-stream marker.
func (c *Conn) SendFinal() error {
	return c.SendJSON(map[string]any{"isFinal": true})
}

// Close sends a normal close frame and waits briefly for the peer.
func (c *Conn) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith sends a close frame with code and text, then waits briefly for
// the peer to answer.
func (c *Conn) CloseWith(code int, text string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second))
	_ = c.ws.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Synthesize reads the opener and every chunk up to the terminator, then
// answers with one audio message per segment, the final marker and a close.
func Synthesize(segments ...[]byte) func(*Conn) {
	return func(c *Conn) {
		if err := c.ReadUntilTerminator(); err != nil {
			return
		}
		for _, seg := range segments {
			if err := c.SendAudio(seg); err != nil {
				return
			}
		}
		_ = c.SendFinal()
		c.Close()
	}
}

// WAV encodes mono 16-bit samples as a WAV container.
func WAV(sampleRate int, samples []int) ([]byte, error) {
	f, err := os.CreateTemp("", "synthtest_*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Name())
}
