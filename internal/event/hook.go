package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"time"
)

// Hook processes memory events.
type Hook interface {
	Name() string
	// Matches reports whether the hook wants events of type t.
	Matches(t EventType) bool
	// IsBlocking reports whether Emit waits for Handle and returns its error.
	IsBlocking() bool
	Handle(ev Event) error
}

// Default limits for hooks that leave the process.
const (
	DefaultShellTimeout   = 30 * time.Second
	DefaultWebhookTimeout = 10 * time.Second

	// maxHookOutput bounds the command output quoted in a shell hook error.
	maxHookOutput = 512
)

type baseHook struct {
	name     string
	events   []EventType
	blocking bool
}

func (h *baseHook) Name() string     { return h.name }
func (h *baseHook) IsBlocking() bool { return h.blocking }

// Matches accepts every type when the hook was registered without a filter.
func (h *baseHook) Matches(t EventType) bool {
	return len(h.events) == 0 || slices.Contains(h.events, t)
}

// ShellHook runs a command through sh for each event. The event is exported
// as MNEME_EVENT_TYPE, MNEME_EVENT_TITLE (when present), MNEME_EVENT_SOURCE
// and MNEME_EVENT_JSON. Relayed events are skipped so a command fires once,
// on the instance where the change happened.
//
// Output is captured rather than inherited: stdout belongs to the MCP
// transport when running as a tool server.
type ShellHook struct {
	baseHook
	Command string
	Timeout time.Duration
}

func NewShellHook(name, command string, events []EventType, blocking bool) *ShellHook {
	return &ShellHook{
		baseHook: baseHook{name: name, events: events, blocking: blocking},
		Command:  command,
		Timeout:  DefaultShellTimeout,
	}
}

func (h *ShellHook) Handle(ev Event) error {
	if ev.Remote {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("shell hook %s: encode event: %w", h.name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", h.Command)
	cmd.Env = append(os.Environ(), eventEnv(ev, payload)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("shell hook %s: timed out after %s", h.name, h.Timeout)
		}
		if msg := tail(out.String(), maxHookOutput); msg != "" {
			return fmt.Errorf("shell hook %s: %w: %s", h.name, err, msg)
		}
		return fmt.Errorf("shell hook %s: %w", h.name, err)
	}
	return nil
}

func eventEnv(ev Event, payload []byte) []string {
	env := []string{
		"MNEME_EVENT_TYPE=" + string(ev.Type),
		"MNEME_EVENT_SOURCE=" + ev.Source,
		"MNEME_EVENT_JSON=" + string(payload),
	}
	if title, ok := ev.Data["title"].(string); ok {
		env = append(env, "MNEME_EVENT_TITLE="+title)
	}
	return env
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// webhookClient is shared by every WebhookHook; per-request deadlines come
// from the hook's Timeout.
var webhookClient = &http.Client{}

// WebhookHook POSTs the JSON-encoded event to URL. Like ShellHook it ignores
// relayed events.
type WebhookHook struct {
	baseHook
	URL     string
	Timeout time.Duration
}

func NewWebhookHook(name, url string, events []EventType, blocking bool) *WebhookHook {
	return &WebhookHook{
		baseHook: baseHook{name: name, events: events, blocking: blocking},
		URL:      url,
		Timeout:  DefaultWebhookTimeout,
	}
}

func (h *WebhookHook) Handle(ev Event) error {
	if ev.Remote {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook %s: encode event: %w", h.name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", h.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mneme-webhook")
	req.Header.Set("X-Mneme-Event", string(ev.Type))

	resp, err := webhookClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", h.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook %s: %s returned %d", h.name, h.URL, resp.StatusCode)
	}
	return nil
}

// levelLogger is implemented by telemetry.Logger. Loggers that only offer
// Warn get every event at warn.
type levelLogger interface {
	Logger
	Info(msg string, keyvals ...interface{})
	Debug(msg string, keyvals ...interface{})
}

// LogHook writes each event to the logger. It never blocks Emit.
type LogHook struct {
	baseHook
	log func(msg string, keyvals ...interface{})
}

func NewLogHook(name string, events []EventType, logger Logger, level string) *LogHook {
	log := logger.Warn
	if ll, ok := logger.(levelLogger); ok {
		switch strings.ToLower(level) {
		case "debug":
			log = ll.Debug
		case "warn", "warning":
		default:
			log = ll.Info
		}
	}
	return &LogHook{
		baseHook: baseHook{name: name, events: events},
		log:      log,
	}
}

func (h *LogHook) Handle(ev Event) error {
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keyvals := make([]interface{}, 0, 2*len(keys)+4)
	keyvals = append(keyvals, "event_type", string(ev.Type))
	if ev.Source != "" {
		keyvals = append(keyvals, "source", ev.Source)
	}
	for _, k := range keys {
		keyvals = append(keyvals, k, ev.Data[k])
	}
	h.log("[event] "+string(ev.Type), keyvals...)
	return nil
}

// FuncHook adapts a function to the Hook interface. In-process
// subscribers such as cache invalidation use it.
type FuncHook struct {
	baseHook
	fn func(Event) error
}

func NewFuncHook(name string, events []EventType, blocking bool, fn func(Event) error) *FuncHook {
	return &FuncHook{
		baseHook: baseHook{name: name, events: events, blocking: blocking},
		fn:       fn,
	}
}

func (h *FuncHook) Handle(ev Event) error {
	return h.fn(ev)
}
