package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/harunnryd/uketsuke/pkg/call"
	"github.com/harunnryd/uketsuke/pkg/errorsx"
	"github.com/harunnryd/uketsuke/pkg/logging"
	"github.com/harunnryd/uketsuke/pkg/transports"
)

type Config struct {
	ServerAddr         string        `mapstructure:"server_addr"`
	PublicURL          string        `mapstructure:"public_url"`
	AuthToken          string        `mapstructure:"auth_token"`
	VoicePath          string        `mapstructure:"voice_path"`
	WebsocketPath      string        `mapstructure:"ws_path"`
	StatusCallbackPath string        `mapstructure:"status_callback_path"`
	VoiceGreeting      string        `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	ChunkBuffer        int           `mapstructure:"chunk_buffer"`
	// MaxBacklog bounds media held while the call is busy with a turn;
	// the oldest frame is dropped once it is reached.
	MaxBacklog         int           `mapstructure:"max_backlog"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.ChunkBuffer <= 0 {
		c.ChunkBuffer = 16
	}
	if c.MaxBacklog <= 0 {
		c.MaxBacklog = 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Transport serves the call websocket, the liveness endpoints and the
// Twilio voice webhooks.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	handler  transports.CallHandler
	metrics  http.Handler
	logger   *slog.Logger

	mu    sync.Mutex
	calls map[string]*call.Orchestrator

	active   sync.WaitGroup
	draining atomic.Bool
}

func New(cfg Config, handler transports.CallHandler) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:     cfg,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		calls:  make(map[string]*call.Orchestrator),
		logger: logging.NewComponentLogger(slog.Default(), "twilio_transport"),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

// SetMetricsHandler mounts h on /metrics.
func (t *Transport) SetMetricsHandler(h http.Handler) { t.metrics = h }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"listen_addr":         t.cfg.ServerAddr,
		"websocket_path":      t.cfg.WebsocketPath,
		"webhook_url":         t.voiceWebhookURL(),
		"status_callback_url": t.statusCallbackURL(),
	}
}

// Handler returns the HTTP routes of the transport.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleLiveness)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	if t.metrics != nil {
		mux.Handle("/metrics", t.metrics)
	}
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.handler == nil {
		return errors.New("twilio transport: call handler is required")
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

// Drain stops accepting new connections. Existing calls keep running.
func (t *Transport) Drain() { t.draining.Store(true) }

// Stop closes the listener and waits for connection handlers to return.
func (t *Transport) Stop() error {
	t.draining.Store(true)
	var err error
	if t.server != nil {
		err = t.server.Close()
	}
	t.active.Wait()
	return err
}

func (t *Transport) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"message":"ok"}`))
}

// ServeHTTP upgrades a caller connection. Frames are read on their own
// goroutine and decoded into a backlog that feeds the chunk queue, so a
// hang-up is seen even while the orchestrator is busy with a turn.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.active.Add(1)
	defer t.active.Done()

	conn := newConnection(ws, t.cfg.WriteTimeout)
	defer conn.close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := make(chan []byte)
	quit := make(chan struct{})
	defer close(quit)
	go readFrames(ws, frames, quit)

	var (
		orch    *call.Orchestrator
		meta    = transports.CallMeta{RemoteAddr: r.RemoteAddr}
		chunks  = make(chan []byte, t.cfg.ChunkBuffer)
		runDone = make(chan struct{})
		reason  = call.ReasonDisconnect
	)
	ensureCall := func() bool {
		if orch != nil {
			return true
		}
		o, err := t.handler.NewCall(ctx, meta, conn)
		if err != nil {
			t.logger.Error("call_create_failed", "remote_addr", meta.RemoteAddr, "error", err)
			return false
		}
		orch = o
		t.track(meta.CallSID, o)
		go func() {
			defer close(runDone)
			// unblocks the reader once the call ends on its own
			defer conn.close()
			if err := o.Run(ctx, chunks); err != nil {
				t.logger.Warn("call_run_error", "session_id", o.Session().ID, "error", err)
			}
		}()
		return true
	}

	var (
		backlog [][]byte
		ended   <-chan struct{}
	)
read:
	for {
		var (
			out  chan<- []byte
			next []byte
		)
		if len(backlog) > 0 {
			out, next = chunks, backlog[0]
		}
		select {
		case msg, ok := <-frames:
			if !ok {
				break read
			}
			var evt Envelope
			if err := json.Unmarshal(msg, &evt); err != nil {
				t.logger.Debug("ws_envelope_invalid", "reason_code", string(errorsx.ReasonTransportDecode), "error", err)
				continue
			}
			switch evt.Event {
			case "start":
				if evt.Start == nil || orch != nil {
					continue
				}
				meta.CallSID = evt.Start.CallSID
				meta.StreamID = evt.Start.StreamID
				meta.From = evt.Start.From
				if !ensureCall() {
					break read
				}
			case "media":
				if evt.Media == nil {
					continue
				}
				payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
				if err != nil {
					t.logger.Debug("ws_payload_invalid", "reason_code", string(errorsx.ReasonTransportDecode), "error", err)
					continue
				}
				if !ensureCall() {
					break read
				}
				if len(backlog) >= t.cfg.MaxBacklog {
					backlog[0] = nil
					backlog = backlog[1:]
					t.logger.Warn("media_backlog_full", "session_id", orch.Session().ID, "max_backlog", t.cfg.MaxBacklog)
				}
				backlog = append(backlog, payload)
			case "stop":
				reason = call.ReasonStop
				break read
			default:
				t.logger.Debug("ws_event_ignored", "event", evt.Event)
			}
			if orch != nil {
				ended = orch.Session().Done()
			}
		case out <- next:
			backlog[0] = nil
			backlog = backlog[1:]
		case <-ended:
			break read
		case <-ctx.Done():
			break read
		}
	}

	if orch == nil {
		return
	}
	orch.Close(ctx, reason)
	cancel()
	close(chunks)
	<-runDone
	t.untrack(meta.CallSID, orch)
}

// readFrames owns every read on ws. frames is closed on the first read
// error, which is how a hang-up reaches ServeHTTP.
func readFrames(ws *websocket.Conn, frames chan<- []byte, quit <-chan struct{}) {
	defer close(frames)
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case frames <- msg:
		case <-quit:
			return
		}
	}
}

func (t *Transport) track(callSID string, o *call.Orchestrator) {
	if callSID == "" {
		return
	}
	t.mu.Lock()
	t.calls[callSID] = o
	t.mu.Unlock()
}

func (t *Transport) untrack(callSID string, o *call.Orchestrator) {
	if callSID == "" {
		return
	}
	t.mu.Lock()
	if t.calls[callSID] == o {
		delete(t.calls, callSID)
	}
	t.mu.Unlock()
}

func (t *Transport) callFor(callSID string) *call.Orchestrator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[callSID]
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	wsURL := t.websocketURL(r)
	var twiml strings.Builder
	twiml.WriteString(`<Response>`)
	if greeting := strings.TrimSpace(t.cfg.VoiceGreeting); greeting != "" {
		twiml.WriteString(`<Say language="ja-JP">` + xmlEscape(greeting) + `</Say>`)
	}
	twiml.WriteString(`<Connect><Stream url="` + xmlEscape(wsURL) + `"/></Connect></Response>`)
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml.String()))
}

// handleStatusCallback closes the call when Twilio reports it ended.
func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_status_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	if reason == "" || callSID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if o := t.callFor(callSID); o != nil {
		t.logger.Info("twilio_call_status_end", "call_sid", callSID, "status", reason)
		o.Close(r.Context(), call.ReasonStop)
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) voiceWebhookURL() string { return t.publicURL(t.cfg.VoicePath) }

func (t *Transport) statusCallbackURL() string { return t.publicURL(t.cfg.StatusCallbackPath) }

func (t *Transport) publicURL(path string) string {
	if t.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		base := strings.TrimRight(t.cfg.PublicURL, "/")
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizeCallEndReason(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
