package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/datafile"
	"github.com/rafaeljc/bifrost/internal/logger"
)

// ErrMiss is returned when a datafile has never been published.
var ErrMiss = errors.New("datafile not found")

// SetResult reports what the publish script did.
type SetResult int

const (
	// SetResultSkipped means Redis already holds the same or a newer revision.
	SetResultSkipped SetResult = 0
	// SetResultUpdated means the datafile was stored and announced.
	SetResultUpdated SetResult = 1
	// SetResultRepaired means an unreadable value was overwritten.
	SetResultRepaired SetResult = 2
)

func (r SetResult) String() string {
	switch r {
	case SetResultSkipped:
		return "skipped"
	case SetResultUpdated:
		return "updated"
	case SetResultRepaired:
		return "repaired"
	default:
		return "unknown"
	}
}

// maxRevisionDigits bounds the search for the separator: an int64 has at most 19 digits.
const maxRevisionDigits = 20

// publishScript stores "<revision>|<json>" only when the incoming revision is
// newer, so a slow builder can never roll a datafile back. A value without a
// readable revision prefix is replaced.
//
// KEYS[1] datafile key
// ARGV[1] revision, ARGV[2] encoded value, ARGV[3] channel, ARGV[4] message
var publishScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local incoming = tonumber(ARGV[1])
local result = 1
if current then
	local sep = string.find(current, '|', 1, true)
	local stored = nil
	if sep and sep <= 21 then
		stored = tonumber(string.sub(current, 1, sep - 1))
	end
	if stored == nil then
		result = 2
	elseif stored >= incoming then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('PUBLISH', ARGV[3], ARGV[4])
return result
`)

// Notification is published on the updates channel for every stored datafile.
type Notification struct {
	Environment string `json:"environment"`
	Tag         string `json:"tag"`
	Revision    int    `json:"revision"`
}

// Name identifies the datafile as "<environment>/<tag>", like datafile.Datafile.Name.
func (n Notification) Name() string {
	return n.Environment + "/" + n.Tag
}

// RedisPublisher writes datafiles to Redis and announces them on a channel.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	channel string
}

// NewRedisPublisher returns a publisher storing under prefix and announcing on channel.
func NewRedisPublisher(client *redis.Client, prefix, channel string) *RedisPublisher {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RedisPublisher{client: client, prefix: prefix, channel: channel}
}

// Key returns the Redis key of the datafile of environment and tag.
func (p *RedisPublisher) Key(environment, tag string) string {
	return fmt.Sprintf("%s:datafile:%s:%s", p.prefix, environment, tag)
}

// Publish stores d unless Redis already holds that revision or a newer one.
func (p *RedisPublisher) Publish(ctx context.Context, d *datafile.Datafile) (SetResult, error) {
	data, err := datafile.Encode(d)
	if err != nil {
		return SetResultSkipped, err
	}
	msg, err := json.Marshal(Notification{Environment: d.Environment, Tag: d.Tag, Revision: d.Revision})
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to encode notification: %w", err)
	}

	res, err := publishScript.Run(ctx, p.client,
		[]string{p.Key(d.Environment, d.Tag)},
		d.Revision, encodeDatafile(data, int64(d.Revision)), p.channel, string(msg),
	).Int()
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to publish datafile %s: %w", d.Name(), err)
	}

	result := SetResult(res)
	if result == SetResultRepaired {
		logger.FromContext(ctx).Warn("replaced unreadable datafile in redis", slog.String("key", p.Key(d.Environment, d.Tag)))
	}
	return result, nil
}

// Fetch returns the JSON of the published datafile, or ErrMiss.
func (p *RedisPublisher) Fetch(ctx context.Context, environment, tag string) ([]byte, error) {
	raw, err := p.client.Get(ctx, p.Key(environment, tag)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", environment, tag, ErrMiss)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch datafile %s/%s: %w", environment, tag, err)
	}
	return []byte(decodeDatafile(raw)), nil
}

// Subscribe calls fn for every notification until ctx is cancelled.
// Malformed messages are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, fn func(Notification)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}

	log := logger.FromContext(ctx)
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Warn("ignoring malformed datafile notification", slog.String("payload", msg.Payload))
				continue
			}
			fn(n)
		}
	}
}

// encodeDatafile prefixes the JSON with its revision.
func encodeDatafile(data []byte, revision int64) string {
	return strconv.FormatInt(revision, 10) + "|" + string(data)
}

// decodeDatafile strips the revision prefix. Values without one are returned as-is.
func decodeDatafile(raw string) string {
	limit := min(len(raw), maxRevisionDigits+1)
	if i := strings.IndexByte(raw[:limit], '|'); i >= 0 {
		return raw[i+1:]
	}
	return raw
}
