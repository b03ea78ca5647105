package app

import (
	"time"

	"remindbot/internal/config"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

func newAdapter(cfg *config.Config) (*telegram.Adapter, error) {
	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		APIURL:      cfg.Telegram.APIURL,
	}, logx.NewConsole("INFO"))
}

// newLogging builds the log service with the chat sink off, sets the admin
// chat, then applies the final config so Apply does not warn about a missing
// target.
func newLogging(cfg *config.Config, sender logx.ChatSender) (*logx.Service, logx.Logger) {
	boot := mapLogConfig(cfg)
	boot.Chat.Enabled = false
	svc, log := logx.New(boot, sender)
	svc.SetChatTarget(logChatID(cfg), cfg.Logging.Telegram.ThreadID)
	svc.Apply(mapLogConfig(cfg))
	return svc, log
}
