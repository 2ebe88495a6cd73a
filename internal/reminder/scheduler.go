// Package reminder dispatches due reminders to their configured channels.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

const (
	// DefaultInterval is how often the scan loop wakes up.
	DefaultInterval = 30 * time.Second

	// scanBatch caps the reminders handled per scan so one backlog cannot
	// starve the loop.
	scanBatch = 100
)

// Store is the slice of the storage layer the scheduler needs.
type Store interface {
	storage.ReminderStore
	storage.IdentityStore
}

// Scheduler scans for due reminders and dispatches them. Messaging channels
// deliver through their adapters; email delivers through the mail notifier.
type Scheduler struct {
	store    Store
	notifier collab.Notifier
	adapters map[types.Channel]channel.Adapter
	interval time.Duration
	clock    func() time.Time
}

// Config wires the scheduler.
type Config struct {
	Store    Store
	Notifier collab.Notifier
	Adapters []channel.Adapter

	// Interval between scans (default: DefaultInterval).
	Interval time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(config Config) *Scheduler {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	adapters := make(map[types.Channel]channel.Adapter, len(config.Adapters))
	for _, a := range config.Adapters {
		adapters[a.Channel()] = a
	}

	return &Scheduler{
		store:    config.Store,
		notifier: config.Notifier,
		adapters: adapters,
		interval: config.Interval,
		clock:    config.Clock,
	}
}

// Run scans on the configured interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("reminder: scheduler running, scanning every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("reminder: scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				log.Printf("ERROR: reminder: scan: %v", err)
			}
		}
	}
}

// Scan dispatches every due pending reminder once. A failing reminder is
// marked failed and never blocks the others.
func (s *Scheduler) Scan(ctx context.Context) error {
	now := s.clock().UTC()

	due, err := s.store.DueReminders(ctx, now, scanBatch)
	if err != nil {
		return fmt.Errorf("reminder: load due: %w", err)
	}

	for i := range due {
		r := &due[i]
		if err := s.dispatch(ctx, r); err != nil {
			log.Printf("ERROR: reminder: dispatch %s: %v", r.ID, err)
			if statusErr := s.store.SetReminderStatus(ctx, r.ID, types.ReminderFailed, nil); statusErr != nil {
				log.Printf("ERROR: reminder: mark %s failed: %v", r.ID, statusErr)
			}
			continue
		}

		sentAt := s.clock().UTC()
		if err := s.store.SetReminderStatus(ctx, r.ID, types.ReminderSent, &sentAt); err != nil {
			log.Printf("ERROR: reminder: mark %s sent: %v", r.ID, err)
		}
	}

	return nil
}

// dispatch delivers one reminder to every configured channel. Delivery
// succeeds only when every channel accepted the notification.
func (s *Scheduler) dispatch(ctx context.Context, r *types.Reminder) error {
	if len(r.Channels) == 0 {
		return errors.New("no channels configured")
	}

	body := r.Title
	if r.Summary != "" {
		body = r.Title + "\n\n" + r.Summary
	}

	for _, ch := range r.Channels {
		if err := s.deliver(ctx, r, ch, body); err != nil {
			return fmt.Errorf("deliver to %s: %w", ch, err)
		}
	}
	return nil
}

func (s *Scheduler) deliver(ctx context.Context, r *types.Reminder, ch types.NotifyChannel, body string) error {
	if ch == types.NotifyEmail {
		if s.notifier == nil {
			return errors.New("no email notifier configured")
		}
		return s.notifier.Notify(ctx, r.UserID, ch, "Reminder: "+r.Title, body)
	}

	msgChannel, ok := messageChannelFor(ch)
	if !ok {
		return fmt.Errorf("unknown channel %q", ch)
	}

	adapter := s.adapters[msgChannel]
	if adapter == nil {
		return fmt.Errorf("no adapter for %s", msgChannel)
	}

	externalRef, err := s.store.LookupExternalRef(ctx, r.UserID, msgChannel)
	if err != nil {
		return fmt.Errorf("resolve %s identity: %w", msgChannel, err)
	}

	return adapter.Send(ctx, externalRef, types.Reply{Text: "⏰ " + body})
}

// messageChannelFor is the inverse of types.NotifyChannelFor.
func messageChannelFor(ch types.NotifyChannel) (types.Channel, bool) {
	switch ch {
	case types.NotifyTelegram:
		return types.ChannelTelegram, true
	case types.NotifyWhatsApp:
		return types.ChannelWhatsApp, true
	}
	return "", false
}

// DefaultChannels returns the channels a new reminder notifies when the user
// did not pick any: always email, plus the capture channel when it can
// receive direct sends.
func DefaultChannels(sourcePlatform types.Channel) []types.NotifyChannel {
	channels := []types.NotifyChannel{types.NotifyEmail}
	if nc, ok := types.NotifyChannelFor(sourcePlatform); ok {
		channels = append(channels, nc)
	}
	return channels
}
