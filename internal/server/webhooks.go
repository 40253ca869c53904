package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"boardline/internal/config"
	"boardline/internal/events"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher walks one workspace journal and POSTs new entries to
// the configured endpoints. Each hook keeps its own cursor, so a failing
// endpoint never stalls the others.
type webhookDispatcher struct {
	journal   *events.Journal
	workspace string
	webhooks  []config.WebhookSpec
	client    *http.Client
	mu        sync.Mutex
	cursors   map[int]int64
}

// hookRunner lazily starts one dispatcher per workspace the server touches.
type hookRunner struct {
	mu      sync.Mutex
	started map[string]bool
}

func newHookRunner() *hookRunner {
	return &hookRunner{started: map[string]bool{}}
}

// ensure starts a dispatcher for the workspace if its config names webhooks
// and none is running yet. Dispatchers live for the rest of the process.
func (r *hookRunner) ensure(key, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started[key] {
		return
	}
	r.started[key] = true
	cfg, err := config.Load(path)
	if err != nil || len(cfg.Webhooks) == 0 {
		return
	}
	journal, err := events.Open(path)
	if err != nil {
		log.Printf("webhook: open journal for %s failed: %v", key, err)
		return
	}
	d := newWebhookDispatcher(journal, key, cfg.Webhooks)
	go d.run()
}

func newWebhookDispatcher(journal *events.Journal, workspace string, hooks []config.WebhookSpec) *webhookDispatcher {
	return &webhookDispatcher{
		journal:   journal,
		workspace: workspace,
		webhooks:  hooks,
		client:    &http.Client{Timeout: defaultWebhookTimeout},
		cursors:   make(map[int]int64),
	}
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchHook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchHook(idx int, hook config.WebhookSpec) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	entries, err := d.journal.After(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Printf("webhook: fetch entries failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, entry := range entries {
		if !filter.match(entry.Type) {
			d.setCursor(idx, entry.ID)
			continue
		}
		if err := d.postEntry(ctx, hook, entry); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, entry.ID)
	}
}

// cursorFor initializes a hook's cursor at the journal tail, so a freshly
// started dispatcher only delivers entries written after it came up.
func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.journal.LatestID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookDelivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Workspace  string          `json:"workspace"`
	TicketID   string          `json:"ticket_id,omitempty"`
	Actor      string          `json:"actor"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *webhookDispatcher) postEntry(ctx context.Context, hook config.WebhookSpec, entry events.Entry) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if entry.Payload != "" {
		if json.Valid([]byte(entry.Payload)) {
			payload = json.RawMessage([]byte(entry.Payload))
		} else {
			raw = entry.Payload
		}
	}
	body := webhookDelivery{
		ID:         entry.ID,
		Type:       entry.Type,
		Workspace:  d.workspace,
		TicketID:   entry.TicketID,
		Actor:      entry.Actor,
		TS:         entry.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Boardline-Event", entry.Type)
	req.Header.Set("X-Boardline-Delivery", fmt.Sprintf("%d", entry.ID))
	req.Header.Set("X-Boardline-Workspace", d.workspace)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Boardline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(evts []string) eventFilter {
	if len(evts) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(evts))
	for _, evt := range evts {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
