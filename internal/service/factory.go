package service

import (
	"time"

	"supportdesk.app/relay/internal/card"
	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/eventbus"
	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/mirror"
	"supportdesk.app/relay/internal/queue"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/store"
	"supportdesk.app/relay/internal/timer"
	"supportdesk.app/relay/internal/worker"
)

// Services wires the relay core once per process. The server and the timer
// worker build the same graph with their own notifier and queue.
type Services struct {
	stores    store.Provider
	txRunner  TxRunner
	platform  channel.Platform
	notifier  realtime.Notifier
	publisher eventbus.Publisher
	signer    *Signer
	bot       string

	cards     *card.Manager
	scheduler *timer.Scheduler
	machine   *lifecycle.Machine
	mirror    *mirror.Mirror
}

type ServicesConfig struct {
	Stores      store.Provider
	TxRunner    TxRunner
	Platform    channel.Platform
	Notifier    realtime.Notifier
	Queue       timer.JobQueue
	Delays      timer.Delays
	Publisher   eventbus.Publisher
	Signer      *Signer
	BotUsername string
}

func NewServices(cfg ServicesConfig) *Services {
	tickets := cfg.Stores.Tickets()
	cards := card.NewManager(cfg.Platform, tickets)
	scheduler := timer.NewScheduler(cfg.Queue, cfg.Delays)

	return &Services{
		stores:    cfg.Stores,
		txRunner:  cfg.TxRunner,
		platform:  cfg.Platform,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
		signer:    cfg.Signer,
		bot:       cfg.BotUsername,
		cards:     cards,
		scheduler: scheduler,
		machine:   lifecycle.NewMachine(tickets, cfg.TxRunner, cfg.Notifier, cards, scheduler, cfg.Publisher),
		mirror:    mirror.New(tickets, cfg.Stores.MessageMap(), cfg.Platform, cards, cfg.Notifier),
	}
}

func (s *Services) Relay() RelayService {
	return NewRelayService(RelayDeps{
		Stores:      s.stores,
		TxRunner:    s.txRunner,
		Machine:     s.machine,
		Mirror:      s.mirror,
		Escalations: s.scheduler,
		Cards:       s.cards,
		Platform:    s.platform,
		Notifier:    s.notifier,
		Signer:      s.signer,
		BotUsername: s.bot,
	})
}

func (s *Services) Machine() *lifecycle.Machine {
	return s.machine
}

func (s *Services) Scheduler() *timer.Scheduler {
	return s.scheduler
}

// TimerHandlers returns the job handlers the timer worker dispatches to.
func (s *Services) TimerHandlers(staff timer.Staff, autoCloseAfter time.Duration) map[queue.JobKind]worker.Handler {
	return timer.Handlers(
		timer.NewEscalationHandler(s.stores.Tickets(), s.stores.MessageMap(), s.platform, staff),
		timer.NewAutoCloseHandler(s.machine, s.platform, autoCloseAfter),
	)
}
