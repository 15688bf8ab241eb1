// Package broker implements the Redis Streams client described in spec.md
// §4.6: one stream per (dapp, {inputs,outputs,claims}), parent-id chaining
// for consistency, and at-least-once blocking/non-blocking consumption.
// Grounded on the teacher's narrow-capability client style (chain.Provider)
// and using go-redis/redis v6, the version the teacher's go.sum already
// pins as an indirect dependency of go-ethereum's own metrics exporters.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cartesi/rollups-operator/errkind"
	"github.com/cartesi/rollups-operator/types"
)

const payloadField = "payload"

// Broker is a connected Redis Streams client scoped to one dapp's three
// streams (spec.md §4.6).
type Broker struct {
	client  *redis.Client
	chainID uint64
}

// New dials redisEndpoint and returns a Broker for chainID.
func New(redisEndpoint string, chainID uint64) (*Broker, error) {
	opt, err := redis.ParseURL(redisEndpoint)
	if err != nil {
		return nil, fmt.Errorf("broker: parse redis endpoint: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping().Err(); err != nil {
		return nil, errkind.Transient(fmt.Errorf("broker: ping: %w", err))
	}
	return &Broker{client: client, chainID: chainID}, nil
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) stream(dapp common.Address, name types.StreamName) string {
	return types.StreamKey(b.chainID, dapp, name)
}

// Produce appends event onto the named stream, chaining it from the
// stream's current latest id (spec.md §4.6 "parent_id chaining"). It
// returns the id Redis assigned the new entry.
func (b *Broker) Produce(ctx context.Context, dapp common.Address, name types.StreamName, event *types.Event) (string, error) {
	latest, err := b.peekLatestID(dapp, name)
	if err != nil {
		return "", err
	}
	event.ParentID = latest

	raw, err := event.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("broker: marshal event: %w", err)
	}

	id, err := b.client.XAdd(&redis.XAddArgs{
		Stream: b.stream(dapp, name),
		Values: map[string]interface{}{payloadField: raw},
	}).Result()
	if err != nil {
		return "", errkind.Transient(fmt.Errorf("broker: XADD %s: %w", name, err))
	}
	return id, nil
}

// peekLatestID returns the stream's current latest entry id, or
// types.InitialID if the stream is empty.
func (b *Broker) peekLatestID(dapp common.Address, name types.StreamName) (string, error) {
	msgs, err := b.client.XRevRangeN(b.stream(dapp, name), "+", "-", 1).Result()
	if err != nil {
		return "", errkind.Transient(fmt.Errorf("broker: XREVRANGE %s: %w", name, err))
	}
	if len(msgs) == 0 {
		return types.InitialID, nil
	}
	return msgs[0].ID, nil
}

// PeekLatest returns the most recent event on the stream, or nil if the
// stream is empty (spec.md §4.6 peek_latest).
func (b *Broker) PeekLatest(dapp common.Address, name types.StreamName) (*types.Event, error) {
	msgs, err := b.client.XRevRangeN(b.stream(dapp, name), "+", "-", 1).Result()
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("broker: XREVRANGE %s: %w", name, err))
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return decodeMessage(msgs[0])
}

// ConsumeBlocking reads the next event after lastID, blocking up to timeout
// (spec.md §4.6 consume_blocking). A nil event with a nil error means the
// timeout elapsed with nothing new.
func (b *Broker) ConsumeBlocking(ctx context.Context, dapp common.Address, name types.StreamName, lastID string, timeout time.Duration) (*types.Event, error) {
	res, err := b.client.XRead(&redis.XReadArgs{
		Streams: []string{b.stream(dapp, name), lastID},
		Count:   1,
		Block:   timeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("broker: XREAD BLOCK %s: %w", name, err))
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	return decodeMessage(res[0].Messages[0])
}

// ConsumeNonBlocking reads the next event after lastID if one already
// exists, returning (nil, nil) otherwise (spec.md §4.6 consume_nonblocking).
func (b *Broker) ConsumeNonBlocking(dapp common.Address, name types.StreamName, lastID string) (*types.Event, error) {
	res, err := b.client.XRead(&redis.XReadArgs{
		Streams: []string{b.stream(dapp, name), lastID},
		Count:   1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("broker: XREAD %s: %w", name, err))
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	return decodeMessage(res[0].Messages[0])
}

// findPreviousFinishEpochBatch bounds how many entries FindPreviousFinishEpoch
// pulls per XRevRange call while scanning backward for a target FinishEpoch.
const findPreviousFinishEpochBatch = 100

// FindPreviousFinishEpoch scans the inputs stream backward for the
// FinishEpoch event of epoch-1, per spec.md §4.9 startup step 2. Returns
// types.InitialID directly when epoch == 0 (nothing precedes the genesis
// epoch). Errors if the stream has no such event, which means the snapshot
// and the stream have diverged.
func (b *Broker) FindPreviousFinishEpoch(dapp common.Address, epoch uint64) (string, error) {
	if epoch == 0 {
		return types.InitialID, nil
	}
	target := epoch - 1
	stream := b.stream(dapp, types.StreamInputs)
	cursor := "+"
	for {
		msgs, err := b.client.XRevRangeN(stream, cursor, "-", findPreviousFinishEpochBatch).Result()
		if err != nil {
			return "", errkind.Transient(fmt.Errorf("broker: XREVRANGE %s: %w", types.StreamInputs, err))
		}
		if len(msgs) == 0 {
			return "", errkind.Permanent(fmt.Errorf("broker: no FinishEpoch event found for epoch %d on stream %s", target, stream))
		}
		for _, msg := range msgs {
			event, err := decodeMessage(msg)
			if err != nil {
				return "", err
			}
			if event.IsFinishEpoch() && event.EpochIndex == target {
				return event.ID, nil
			}
		}
		cursor = "(" + msgs[len(msgs)-1].ID
	}
}

func decodeMessage(msg redis.XMessage) (*types.Event, error) {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return nil, fmt.Errorf("broker: message %s missing %q field", msg.ID, payloadField)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("broker: message %s: %q field is not a string", msg.ID, payloadField)
	}
	var event types.Event
	if err := event.UnmarshalJSON([]byte(s)); err != nil {
		return nil, fmt.Errorf("broker: decode message %s: %w", msg.ID, err)
	}
	event.ID = msg.ID
	return &event, nil
}
