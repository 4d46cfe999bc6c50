package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/hmdcm/internal/hmdcm/fit"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

const publishTimeout = 500 * time.Millisecond

// ProgressMessage is the payload published for every iteration and once more
// when a fit finishes.
type ProgressMessage struct {
	RunID     string  `json:"run_id"`
	Iteration int     `json:"iteration"`
	ELBO      float64 `json:"elbo"`
	Delta     float64 `json:"delta"`
	// State and Error are set only on the final message.
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
	Done  bool   `json:"done,omitempty"`
}

type ProgressBus interface {
	Publish(ctx context.Context, msg ProgressMessage) error
	// Watch delivers messages until ctx ends or the subscription closes.
	Watch(ctx context.Context, onMsg func(m ProgressMessage)) error
	// Observer publishes the progress of one fit run.
	Observer(runID string) fit.Observer
	Close() error
}

type progressBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewProgressBus(log *logger.Logger, addr, channel string) (ProgressBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewProgressBusWithClient(log, rdb, channel), nil
}

// NewProgressBusWithClient wraps an existing client without checking connectivity.
func NewProgressBusWithClient(log *logger.Logger, rdb *goredis.Client, channel string) ProgressBus {
	if strings.TrimSpace(channel) == "" {
		channel = "hmdcm:progress"
	}
	return &progressBus{
		log:     log.With("service", "RedisProgressBus"),
		rdb:     rdb,
		channel: channel,
	}
}

func (b *progressBus) Publish(ctx context.Context, msg ProgressMessage) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *progressBus) Watch(ctx context.Context, onMsg func(m ProgressMessage)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			msg, err := decodeProgress(m.Payload)
			if err != nil {
				b.log.Warn("bad redis progress payload", "error", err)
				continue
			}
			onMsg(msg)
		}
	}
}

func decodeProgress(payload string) (ProgressMessage, error) {
	var msg ProgressMessage
	err := json.Unmarshal([]byte(payload), &msg)
	return msg, err
}

func (b *progressBus) Observer(runID string) fit.Observer {
	return &runObserver{bus: b, runID: runID}
}

func (b *progressBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

type runObserver struct {
	bus   *progressBus
	runID string
	last  fit.Iteration
}

func (o *runObserver) OnIteration(ctx context.Context, it fit.Iteration) {
	o.last = it
	o.publish(ctx, ProgressMessage{RunID: o.runID, Iteration: it.Iteration, ELBO: it.ELBO, Delta: finite(it.Delta)})
}

func (o *runObserver) OnFinish(ctx context.Context, res *fit.Result, err error) {
	msg := ProgressMessage{RunID: o.runID, Iteration: o.last.Iteration, ELBO: o.last.ELBO, Done: true}
	if res != nil {
		msg.State = string(res.State)
	}
	if err != nil {
		msg.State = "failed"
		msg.Error = err.Error()
	}
	// The fit's own context may already be cancelled; the final message still goes out.
	o.publish(context.WithoutCancel(ctx), msg)
}

func (o *runObserver) publish(ctx context.Context, msg ProgressMessage) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := o.bus.Publish(ctx, msg); err != nil {
		o.bus.log.Warn("progress publish failed", "run_id", o.runID, "iteration", msg.Iteration, "error", err)
	}
}

// finite maps the first iteration's infinite delta to 0; JSON has no infinity.
func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
