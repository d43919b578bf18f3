// Package telegram implements the outbound transport.Sender on top of
// telebot. One adapter, one destination chat (optionally a forum topic
// thread); tokbot never polls for updates.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
}

type Adapter struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		// Outbound only: no poller, no handler dispatch.
		Client: nil,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, bot: b, log: log}, nil
}

func (a *Adapter) SendText(ctx context.Context, text string, opt *kit.SendOptions) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	so := &tele.SendOptions{ThreadID: a.cfg.ThreadID}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}

	// telebot has no context plumbing; bound the call ourselves so a
	// stuck send can't wedge the notify worker.
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(&tele.Chat{ID: a.cfg.ChatID}, text, so)
		done <- err
	}()

	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return errors.New("telegram send timed out")
	}
}
