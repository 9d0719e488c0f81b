// Package notify delivers operator alerts. Delivery is best effort: Alert
// never returns an error and never blocks the hedging flow.
package notify

import (
	"context"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type Notifier interface {
	Alert(ctx context.Context, msg string)
}

// Log writes alerts to the logger at warn level.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Alert(ctx context.Context, msg string) {
	l.log.Warn("operator alert", zap.String("alert", msg))
}

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram posts alerts to a chat in the background.
type Telegram struct {
	bot    sender
	chatID int64
	prefix string
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewTelegram(token string, chatID int64, prefix string, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatID, prefix, log), nil
}

func newTelegram(bot sender, chatID int64, prefix string, log *zap.Logger) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{bot: bot, chatID: chatID, prefix: prefix, log: log}
}

func (t *Telegram) Alert(ctx context.Context, msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if t.prefix != "" {
		msg = t.prefix + " " + msg
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
			t.log.Warn("telegram alert failed", zap.Error(err))
		}
	}()
}

// Close waits for alerts still in flight.
func (t *Telegram) Close() {
	t.wg.Wait()
}

// Multi fans an alert out to several notifiers.
type Multi []Notifier

func (m Multi) Alert(ctx context.Context, msg string) {
	for _, n := range m {
		n.Alert(ctx, msg)
	}
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *Recorder) Alert(ctx context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
