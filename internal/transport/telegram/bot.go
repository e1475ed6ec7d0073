// Package telegram is the chat-facing surface: subscriber commands in,
// rendered news items out.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"newsward/internal/deliver"
	"newsward/internal/news"
	"newsward/internal/pipeline"
	"newsward/internal/storage"
	logx "newsward/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration // default 10s
	Admins      []int64
}

// Service runs the bot command loop and doubles as the delivery
// engine's Sender.
type Service struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger

	store *storage.Store
	pipe  *pipeline.Pipeline
	del   *deliver.Engine

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

func New(cfg Config, store *storage.Store, pipe *pipeline.Pipeline, del *deliver.Engine, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, bot: b, log: log, store: store, pipe: pipe, del: del}
	s.route()
	return s, nil
}

// Send implements deliver.Sender.
func (s *Service) Send(ctx context.Context, chatID int64, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.bot.Start()
	}()
	s.log.Info("telegram bot started")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.bot.Stop()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Service) route() {
	s.bot.Handle("/start", s.cmdStart)
	s.bot.Handle("/stop", s.cmdStop)
	s.bot.Handle("/pause", s.cmdPause)
	s.bot.Handle("/resume", s.cmdResume)
	s.bot.Handle("/categories", s.cmdCategories)
	s.bot.Handle("/mute", s.cmdMute)
	s.bot.Handle("/unmute", s.cmdUnmute)
	s.bot.Handle("/status", s.cmdStatus)

	s.bot.Handle("/collect", s.admin(s.cmdCollect))
	s.bot.Handle("/stopcollect", s.admin(s.cmdStopCollect))
	s.bot.Handle("/resumecollect", s.admin(s.cmdResumeCollect))
	s.bot.Handle("/sources", s.admin(s.cmdSources))
	s.bot.Handle("/resetsources", s.admin(s.cmdResetSources))
}

func (s *Service) admin(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		from := c.Sender()
		if from == nil {
			return nil
		}
		for _, id := range s.cfg.Admins {
			if id == from.ID {
				return h(c)
			}
		}
		return c.Send("Команда доступна только администраторам.")
	}
}

func (s *Service) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (s *Service) cmdStart(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.store.UpsertSubscriber(ctx, c.Chat().ID); err != nil {
		s.log.Error("subscribe", logx.Int64("chat", c.Chat().ID), logx.Err(err))
		return c.Send("Не получилось оформить подписку, попробуйте позже.")
	}
	return c.Send("Подписка оформлена. Новости будут приходить по мере публикации.\n" +
		"Команды: /pause, /resume, /categories, /mute, /status.")
}

func (s *Service) cmdStop(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.store.RemoveSubscriber(ctx, c.Chat().ID); err != nil {
		s.log.Error("unsubscribe", logx.Int64("chat", c.Chat().ID), logx.Err(err))
		return c.Send("Не получилось отписаться, попробуйте позже.")
	}
	return c.Send("Подписка удалена. /start — подписаться снова.")
}

func (s *Service) cmdPause(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.store.SetSubscriberPaused(ctx, c.Chat().ID, true); err != nil {
		return c.Send("Сначала подпишитесь: /start.")
	}
	return c.Send("Доставка приостановлена. /resume вернёт пропущенные свежие новости.")
}

func (s *Service) cmdResume(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	chatID := c.Chat().ID
	if err := s.store.SetSubscriberPaused(ctx, chatID, false); err != nil {
		return c.Send("Сначала подпишитесь: /start.")
	}
	if err := c.Send("Доставка возобновлена."); err != nil {
		return err
	}
	// Replay in the background; it sends through the same rate limiter
	// as regular delivery.
	go func() {
		rctx, rcancel := context.WithTimeout(context.Background(), time.Minute)
		defer rcancel()
		stats, err := s.del.Replay(rctx, chatID)
		if err != nil {
			s.log.Warn("resume replay", logx.Int64("chat", chatID), logx.Err(err))
			return
		}
		s.log.Info("resume replay done", logx.Int64("chat", chatID), logx.Int("sent", stats.Sent))
	}()
	return nil
}

func (s *Service) cmdCategories(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	args := c.Args()
	if len(args) == 0 {
		return c.Send("Укажите категории через пробел: world, russia, moscow, moscow_region.\n" +
			"Пример: /categories moscow russia\n/categories all — все категории.")
	}

	var cats []news.Category
	if !(len(args) == 1 && strings.EqualFold(args[0], "all")) {
		for _, a := range args {
			cat, err := news.ParseCategory(a)
			if err != nil {
				return c.Send(fmt.Sprintf("Неизвестная категория %q.", a))
			}
			cats = append(cats, cat)
		}
	}
	if err := s.store.SetSubscriberCategories(ctx, c.Chat().ID, cats); err != nil {
		return c.Send("Сначала подпишитесь: /start.")
	}
	if len(cats) == 0 {
		return c.Send("Включены все категории.")
	}
	return c.Send("Категории сохранены.")
}

func (s *Service) cmdMute(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	name := strings.ToLower(strings.TrimSpace(strings.Join(c.Args(), " ")))
	if name == "" {
		return c.Send("Укажите источник: /mute <имя>. Список имён — в /status.")
	}
	sub, err := s.store.GetSubscriber(ctx, c.Chat().ID)
	if err != nil || sub == nil {
		return c.Send("Сначала подпишитесь: /start.")
	}
	for _, m := range sub.MutedSources {
		if m == name {
			return c.Send("Этот источник уже отключён.")
		}
	}
	muted := append(sub.MutedSources, name)
	if err := s.store.SetSubscriberMutedSources(ctx, c.Chat().ID, muted); err != nil {
		return c.Send("Не получилось: " + err.Error())
	}
	return c.Send(fmt.Sprintf("Источник %q отключён. /unmute %s — вернуть.", name, name))
}

func (s *Service) cmdUnmute(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	name := strings.ToLower(strings.TrimSpace(strings.Join(c.Args(), " ")))
	if name == "" {
		return c.Send("Укажите источник: /unmute <имя>.")
	}
	sub, err := s.store.GetSubscriber(ctx, c.Chat().ID)
	if err != nil || sub == nil {
		return c.Send("Сначала подпишитесь: /start.")
	}
	muted := sub.MutedSources[:0:0]
	for _, m := range sub.MutedSources {
		if m != name {
			muted = append(muted, m)
		}
	}
	if len(muted) == len(sub.MutedSources) {
		return c.Send("Этот источник и так включён.")
	}
	if err := s.store.SetSubscriberMutedSources(ctx, c.Chat().ID, muted); err != nil {
		return c.Send("Не получилось: " + err.Error())
	}
	return c.Send(fmt.Sprintf("Источник %q снова включён.", name))
}

func (s *Service) cmdStatus(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()

	sub, err := s.store.GetSubscriber(ctx, c.Chat().ID)
	if err != nil || sub == nil {
		return c.Send("Подписки нет. /start — подписаться.")
	}

	var b strings.Builder
	if sub.Paused {
		b.WriteString("Доставка: на паузе\n")
	} else {
		b.WriteString("Доставка: активна\n")
	}
	if len(sub.Categories) == 0 {
		b.WriteString("Категории: все\n")
	} else {
		parts := make([]string, len(sub.Categories))
		for i, cat := range sub.Categories {
			parts[i] = string(cat)
		}
		b.WriteString("Категории: " + strings.Join(parts, ", ") + "\n")
	}
	if len(sub.MutedSources) > 0 {
		b.WriteString("Отключённые источники: " + strings.Join(sub.MutedSources, ", ") + "\n")
	}
	if stats := s.pipe.LastStats(); stats != nil {
		b.WriteString(fmt.Sprintf("Последний цикл: принято %d, отправлено %d (%s назад)",
			stats.Accepted, stats.Delivered.Sent, time.Since(stats.Started).Round(time.Minute)))
	}
	if lease, _ := s.pipe.StopLease(ctx); lease != nil {
		b.WriteString(fmt.Sprintf("\nСбор остановлен (%s) до %s",
			lease.Reason, lease.ExpiresAt.Format("15:04")))
	}
	return c.Send(b.String())
}

func (s *Service) cmdCollect(c tele.Context) error {
	if err := c.Send("Запускаю цикл сбора…"); err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := s.pipe.CollectAndPublish(ctx)
		if err != nil {
			s.log.Error("manual cycle", logx.Err(err))
			_, _ = s.bot.Send(tele.ChatID(c.Chat().ID), "Цикл завершился с ошибкой, детали в логе.")
			return
		}
		_, _ = s.bot.Send(tele.ChatID(c.Chat().ID), fmt.Sprintf("Цикл завершён: принято %d.", n))
	}()
	return nil
}

const defaultStopTTL = 2 * time.Hour

func (s *Service) cmdStopCollect(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	reason := strings.TrimSpace(strings.Join(c.Args(), " "))
	if reason == "" {
		reason = "manual stop"
	}
	by := fmt.Sprintf("admin:%d", c.Sender().ID)
	if err := s.pipe.StopCollection(ctx, by, reason, defaultStopTTL); err != nil {
		return c.Send("Не получилось: " + err.Error())
	}
	return c.Send(fmt.Sprintf("Сбор остановлен на %s. /resumecollect — возобновить.", defaultStopTTL))
}

func (s *Service) cmdResumeCollect(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.pipe.ResumeCollection(ctx); err != nil {
		return c.Send("Не получилось: " + err.Error())
	}
	return c.Send("Сбор возобновлён.")
}

func (s *Service) cmdResetSources(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.store.ResetSourceStates(ctx)
	if err != nil {
		return c.Send("Не получилось: " + err.Error())
	}
	return c.Send(fmt.Sprintf("Состояние источников сброшено (%d).", n))
}

func (s *Service) cmdSources(c tele.Context) error {
	ctx, cancel := s.ctx()
	defer cancel()

	items, err := s.store.RecentItemsBySource(ctx, strings.Join(c.Args(), " "), 5)
	if len(c.Args()) > 0 && err == nil && len(items) > 0 {
		var b strings.Builder
		for _, it := range items {
			b.WriteString(fmt.Sprintf("• %s\n%s\n", it.Title, it.URL))
		}
		return c.Send(b.String())
	}

	subs, err := s.store.ListSubscribers(ctx)
	if err != nil {
		return c.Send("Ошибка чтения состояния.")
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Подписчиков: %d\n", len(subs)))
	if stats := s.pipe.LastStats(); stats != nil {
		b.WriteString(fmt.Sprintf("Последний цикл: получено %d, принято %d, ошибок источников %d\n",
			stats.Fetched, stats.Accepted, stats.Errors))
		for reason, n := range stats.Drops {
			b.WriteString(fmt.Sprintf("  %s: %d\n", reason, n))
		}
	}
	b.WriteString("\n/sources <имя> — последние принятые материалы источника.")
	return c.Send(b.String())
}
