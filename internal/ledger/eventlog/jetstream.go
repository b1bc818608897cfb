package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

const versionHeader = "Steward-Version"

// JetStreamConfig names the backing stream.
type JetStreamConfig struct {
	Stream        string
	SubjectPrefix string
	Replicas      int
	FetchWait     time.Duration
}

// JetStream stores each record stream on its own subject. Appends carry
// ExpectLastSequencePerSubject so the version check happens server side.
type JetStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    JetStreamConfig
}

// DialJetStream connects to url and ensures the backing stream exists.
func DialJetStream(ctx context.Context, url string, cfg JetStreamConfig) (*JetStream, error) {
	nc, err := nats.Connect(url, nats.Name("steward-eventlog"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %v: %w", err, sentinel.ErrUnavailable)
	}
	l, err := NewJetStream(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return l, nil
}

// NewJetStream uses an existing connection. Close also closes nc.
func NewJetStream(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStream, error) {
	if cfg.Stream == "" {
		cfg.Stream = "STEWARD_LEDGER"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "steward.ledger"
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 2 * time.Second
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardNew,
		Replicas:  cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %v: %w", cfg.Stream, err, sentinel.ErrUnavailable)
	}
	return &JetStream{nc: nc, js: js, stream: stream, cfg: cfg}, nil
}

func (l *JetStream) subject(stream string) string {
	return l.cfg.SubjectPrefix + "." + stream
}

// head returns the stream version and the JetStream sequence of its last
// message (0 when empty).
func (l *JetStream) head(ctx context.Context, stream string) (int64, uint64, error) {
	msg, err := l.stream.GetLastMsgForSubject(ctx, l.subject(stream))
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read head of %s: %v: %w", stream, err, sentinel.ErrUnavailable)
	}
	v, err := strconv.ParseInt(msg.Header.Get(versionHeader), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("stream %s head has no version: %w", stream, sentinel.ErrCorrupted)
	}
	return v + 1, msg.Sequence, nil
}

// anyVersionAttempts bounds re-reads of the head when an unchecked append
// races another writer.
const anyVersionAttempts = 5

func (l *JetStream) Append(ctx context.Context, stream string, expected int64, events ...models.Event) (int64, error) {
	for attempt := 1; ; attempt++ {
		v, err := l.append(ctx, stream, expected, events)
		if expected == AnyVersion && errors.Is(err, errRaced) && attempt < anyVersionAttempts {
			continue
		}
		if errors.Is(err, errRaced) {
			return v, fmt.Errorf("stream %s moved during append: %w", stream, sentinel.ErrConflict)
		}
		return v, err
	}
}

var errRaced = errors.New("wrong last sequence")

func (l *JetStream) append(ctx context.Context, stream string, expected int64, events []models.Event) (int64, error) {
	current, lastSeq, err := l.head(ctx, stream)
	if err != nil {
		return 0, err
	}
	if expected != AnyVersion && expected != current {
		return current, fmt.Errorf("stream %s at version %d, expected %d: %w", stream, current, expected, sentinel.ErrConflict)
	}

	for i, ev := range events {
		ev.StreamID = stream
		ev.Version = current
		data, err := json.Marshal(ev)
		if err != nil {
			return current, fmt.Errorf("encode event: %w", err)
		}
		msg := nats.NewMsg(l.subject(stream))
		msg.Data = data
		msg.Header.Set(versionHeader, strconv.FormatInt(current, 10))
		msg.Header.Set(jetstream.MsgIDHeader, ev.ID)

		ack, err := l.js.PublishMsg(ctx, msg, jetstream.WithExpectLastSequencePerSubject(lastSeq))
		if err != nil {
			var apiErr *jetstream.APIError
			if i == 0 && errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
				return current, errRaced
			}
			return current, fmt.Errorf("publish to %s: %v: %w", stream, err, sentinel.ErrUnavailable)
		}
		lastSeq = ack.Sequence
		current++
	}
	return current, nil
}

func (l *JetStream) Read(ctx context.Context, stream string, start int64, count int) ([]models.Event, error) {
	length, _, err := l.head(ctx, stream)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if start >= length {
		return nil, nil
	}
	end := length
	if count > 0 && start+int64(count) < end {
		end = start + int64(count)
	}

	cons, err := l.js.OrderedConsumer(ctx, l.cfg.Stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{l.subject(stream)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("open consumer for %s: %v: %w", stream, err, sentinel.ErrUnavailable)
	}

	out := make([]models.Event, 0, end-start)
	for seen := int64(0); seen < end; {
		batch, err := cons.Fetch(int(end-seen), jetstream.FetchMaxWait(l.cfg.FetchWait))
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %v: %w", stream, err, sentinel.ErrUnavailable)
		}
		got := 0
		for msg := range batch.Messages() {
			got++
			if seen >= start && seen < end {
				var ev models.Event
				if err := json.Unmarshal(msg.Data(), &ev); err != nil {
					return nil, fmt.Errorf("decode event %d of %s: %w", seen, stream, sentinel.ErrCorrupted)
				}
				out = append(out, ev)
			}
			seen++
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("fetch %s: %v: %w", stream, err, sentinel.ErrUnavailable)
		}
		if got == 0 {
			return nil, fmt.Errorf("stream %s ended at %d of %d: %w", stream, seen, end, sentinel.ErrUnavailable)
		}
	}
	return out, nil
}

func (l *JetStream) Version(ctx context.Context, stream string) (int64, error) {
	v, _, err := l.head(ctx, stream)
	return v, err
}

func (l *JetStream) Close() error {
	if err := l.nc.Drain(); err != nil {
		l.nc.Close()
		return err
	}
	return nil
}
