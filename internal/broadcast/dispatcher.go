package broadcast

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"modbot/internal/transport"
	"modbot/pkg/logx"
)

type DispatcherConfig struct {
	// ChatDelay is the fixed pause between finishing one chat's sequence and
	// starting the next (platform rate-limit headroom). Default 500ms.
	ChatDelay time.Duration
	// ItemDelay optionally spaces items within the same chat. Default off.
	ItemDelay time.Duration
}

// Dispatcher fans a composed item sequence out to a set of chats.
//
// Each chat is one unit of success/failure: the first failed item marks the
// chat failed and abandons the rest of its sequence, then dispatch moves on
// to the next chat. One chat's failure never aborts the others.
type Dispatcher struct {
	cfg     DispatcherConfig
	gateway transport.Gateway
	log     logx.Logger
}

func NewDispatcher(cfg DispatcherConfig, gateway transport.Gateway, log logx.Logger) *Dispatcher {
	if cfg.ChatDelay <= 0 {
		cfg.ChatDelay = 500 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, gateway: gateway, log: log}
}

// Dispatch sends every item, in order, to every target chat sequentially.
func (d *Dispatcher) Dispatch(ctx context.Context, items []Item, targets []transport.ChatTarget) Report {
	start := time.Now()
	rep := Report{ItemsPerChat: len(items)}

	// Bucket starts full, so the first chat is not delayed.
	lim := rate.NewLimiter(rate.Every(d.cfg.ChatDelay), 1)

	for _, t := range targets {
		if err := lim.Wait(ctx); err != nil {
			rep.Failed++
			continue
		}
		if err := d.sendSequence(ctx, t, items); err != nil {
			rep.Failed++
			d.log.Warn("broadcast to chat failed",
				logx.Int64("chat_id", t.ChatID),
				logx.Err(err),
			)
			continue
		}
		rep.Succeeded++
	}

	rep.TotalDeliveries = rep.Succeeded * rep.ItemsPerChat
	rep.Duration = time.Since(start)
	return rep
}

func (d *Dispatcher) sendSequence(ctx context.Context, to transport.ChatTarget, items []Item) error {
	for i, it := range items {
		if i > 0 && d.cfg.ItemDelay > 0 {
			if err := sleepCtx(ctx, d.cfg.ItemDelay); err != nil {
				return err
			}
		}
		if err := d.sendItem(ctx, to, it); err != nil {
			return fmt.Errorf("item %d (%s): %w", i+1, it.Kind, err)
		}
	}
	return nil
}

func (d *Dispatcher) sendItem(ctx context.Context, to transport.ChatTarget, it Item) error {
	var err error
	switch it.Kind {
	case transport.ContentText:
		_, err = d.gateway.SendText(ctx, to, it.Text, nil)
	default:
		_, err = d.gateway.SendMedia(ctx, to, it.Kind, it.FileID, it.Caption, nil)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
