// Package lark bridges the open-platform event webhook to the orchestration
// engine: it verifies callbacks, extracts message text, and sends replies
// back as chunked plain-text messages.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/harrison/steward/internal/logger"
	"github.com/harrison/steward/internal/orchestrator"
	"github.com/harrison/steward/internal/reminder"
)

const (
	messageEventType = "im.message.receive_v1"

	defaultDedupTTL  = 10 * time.Minute
	defaultChunkSize = 1500
)

// progressForwardPrefixes are the progress lines worth relaying to the chat
// while a task runs. The rest stay in the trace log.
var progressForwardPrefixes = []string{"任务目标：", "规划完成：", "重规划完成："}

// Submitter is the engine surface the bridge needs.
type Submitter interface {
	Submit(ctx context.Context, contextID, text string) orchestrator.Result
}

// Bridge serves the event callback endpoint and replies through a Sender.
type Bridge struct {
	engine            Submitter
	sender            Sender
	log               *logger.ConsoleLogger
	verificationToken string
	now               func() time.Time

	// ChunkSize and DedupTTL may be adjusted before the first request.
	ChunkSize int
	DedupTTL  time.Duration

	echo *echo.Echo

	mu   sync.Mutex
	seen map[string]time.Time

	queueMu sync.Mutex
	queues  map[string]*chatQueue

	wg sync.WaitGroup
}

// chatQueue serializes one chat's messages: a single worker drains pending
// inputs in arrival order so at most one task runs per conversation context.
type chatQueue struct {
	pending []string
	running bool
}

// NewBridge creates a webhook bridge. verificationToken may be empty, which
// disables token checking.
func NewBridge(engine Submitter, sender Sender, log *logger.ConsoleLogger, verificationToken string) *Bridge {
	if log == nil {
		log = logger.NewConsoleLogger(nil, "info")
	}
	b := &Bridge{
		engine:            engine,
		sender:            sender,
		log:               log,
		verificationToken: verificationToken,
		ChunkSize:         defaultChunkSize,
		DedupTTL:          defaultDedupTTL,
		now:               time.Now,
		seen:              make(map[string]time.Time),
		queues:            make(map[string]*chatQueue),
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.POST("/webhook/event", b.handleEvent)
	b.echo = e
	return b
}

// Handler exposes the HTTP handler for serving and tests.
func (b *Bridge) Handler() http.Handler {
	return b.echo
}

// Start serves the webhook endpoint until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.echo.Shutdown(shutdownCtx)
	}()
	b.log.Infof("webhook listening on %s", addr)
	if err := b.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve webhook: %w", err)
	}
	b.Drain()
	return nil
}

// Drain waits for in-flight message handlers to finish.
func (b *Bridge) Drain() {
	b.wg.Wait()
}

// Listener relays key planning milestones to the chat so long tasks stay
// visible. contextID carries the chat ID the engine was invoked with.
func (b *Bridge) Listener() orchestrator.EventListener {
	return orchestrator.ListenerFunc(func(contextID, text string) {
		chatID, ok := strings.CutPrefix(contextID, "lark:")
		if !ok {
			return
		}
		for _, prefix := range progressForwardPrefixes {
			if strings.HasPrefix(text, prefix) {
				if err := b.sender.SendText(context.Background(), chatID, text); err != nil {
					b.log.Warnf("send progress to %s: %v", chatID, err)
				}
				return
			}
		}
	})
}

// ReminderSink delivers reminder events to the given chat.
func (b *Bridge) ReminderSink(chatID string) reminder.Sink {
	return reminder.SinkFunc(func(event reminder.Event) error {
		return b.sender.SendText(context.Background(), chatID, event.Content)
	})
}

type eventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
	Header    struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Message struct {
			MessageID   string `json:"message_id"`
			ChatID      string `json:"chat_id"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
		} `json:"message"`
	} `json:"event"`
}

func (b *Bridge) handleEvent(c echo.Context) error {
	var envelope eventEnvelope
	if err := c.Bind(&envelope); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	// URL verification handshake.
	if envelope.Type == "url_verification" {
		if !b.tokenValid(envelope.Token) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid token"})
		}
		return c.JSON(http.StatusOK, map[string]string{"challenge": envelope.Challenge})
	}

	if !b.tokenValid(envelope.Header.Token) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid token"})
	}
	if envelope.Header.EventType != messageEventType {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	message := envelope.Event.Message
	dedupKey := message.MessageID
	if dedupKey == "" {
		dedupKey = envelope.Header.EventID
	}
	if dedupKey == "" || !b.markSeen(dedupKey) {
		return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
	}

	content := extractMessageText(message.MessageType, message.Content)
	if content == "" || message.ChatID == "" {
		return c.JSON(http.StatusOK, map[string]string{"status": "empty"})
	}

	b.enqueue(message.ChatID, content)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// enqueue appends the message to its chat's queue and starts the chat's
// worker when none is running. Distinct chats process concurrently; within
// one chat messages run strictly one at a time.
func (b *Bridge) enqueue(chatID, content string) {
	b.queueMu.Lock()
	q := b.queues[chatID]
	if q == nil {
		q = &chatQueue{}
		b.queues[chatID] = q
	}
	q.pending = append(q.pending, content)
	start := !q.running
	if start {
		q.running = true
		b.wg.Add(1)
	}
	b.queueMu.Unlock()

	if start {
		go b.drainChat(chatID, q)
	}
}

func (b *Bridge) drainChat(chatID string, q *chatQueue) {
	defer b.wg.Done()
	for {
		b.queueMu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			b.queueMu.Unlock()
			return
		}
		content := q.pending[0]
		q.pending = q.pending[1:]
		b.queueMu.Unlock()

		b.process(chatID, content)
	}
}

func (b *Bridge) process(chatID, content string) {
	ctx := context.Background()
	result := b.engine.Submit(ctx, "lark:"+chatID, content)
	reply := FlattenMarkdown(result.Text)
	if reply == "" {
		reply = result.Text
	}
	for _, chunk := range chunkText(reply, b.ChunkSize) {
		if err := b.sender.SendText(ctx, chatID, chunk); err != nil {
			b.log.Errorf("send reply to %s: %v", chatID, err)
			return
		}
	}
}

func (b *Bridge) tokenValid(token string) bool {
	return b.verificationToken == "" || token == b.verificationToken
}

// markSeen records the key and reports whether it was new. Expired entries
// are pruned on each call.
func (b *Bridge) markSeen(key string) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, t := range b.seen {
		if now.Sub(t) > b.DedupTTL {
			delete(b.seen, k)
		}
	}
	if _, ok := b.seen[key]; ok {
		return false
	}
	b.seen[key] = now
	return true
}

// extractMessageText pulls the user text out of a message payload. Text
// messages carry {"text": ...}; rich-text posts are flattened to their text
// and link segments.
func extractMessageText(messageType, content string) string {
	switch messageType {
	case "text":
		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			return ""
		}
		return strings.TrimSpace(parsed.Text)
	case "post":
		return strings.TrimSpace(flattenPostContent(content))
	default:
		return ""
	}
}

type postSegment struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href"`
}

// flattenPostContent joins the text and link segments of a rich-text post,
// one line per paragraph. Post payloads come either as the bare content
// object or wrapped per language, so both shapes are tried.
func flattenPostContent(content string) string {
	var post struct {
		Content [][]postSegment `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &post); err != nil || post.Content == nil {
		var byLanguage map[string]json.RawMessage
		if err := json.Unmarshal([]byte(content), &byLanguage); err != nil {
			return ""
		}
		for _, raw := range byLanguage {
			if err := json.Unmarshal(raw, &post); err == nil && post.Content != nil {
				break
			}
		}
	}

	var lines []string
	for _, paragraph := range post.Content {
		var parts []string
		for _, segment := range paragraph {
			switch segment.Tag {
			case "text":
				if segment.Text != "" {
					parts = append(parts, segment.Text)
				}
			case "a":
				if segment.Text != "" {
					parts = append(parts, segment.Text)
				} else if segment.Href != "" {
					parts = append(parts, segment.Href)
				}
			}
		}
		if line := strings.TrimSpace(strings.Join(parts, "")); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// chunkText splits text into rune-bounded chunks of at most size runes.
func chunkText(text string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
