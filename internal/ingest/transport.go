package ingest

import (
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/tidegraph/tidegraph/internal/log"
)

// Queue drivers.
const (
	DriverChannel = "channel"
	DriverRedis   = "redis"
)

// PubSubConfig selects the transport backing the ingest queue.
type PubSubConfig struct {
	Driver   string
	Addr     string
	Password string
	DB       int
	Group    string
	Consumer string
}

// NewPubSub builds the queue transport. The channel driver keeps tasks in
// process; redis streams make them durable and let a separate worker
// process consume them. An empty driver selects channel.
func NewPubSub(cfg PubSubConfig, logger log.Logger) (message.Publisher, message.Subscriber, error) {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.Driver {
	case "", DriverChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		return ch, ch, nil

	case DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		marshaller := redisstream.DefaultMarshallerUnmarshaller{}

		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     client,
			Marshaller: marshaller,
		}, wmLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating redis publisher: %w", err)
		}

		group := cfg.Group
		if group == "" {
			group = "tidegraph-ingest"
		}
		consumer := cfg.Consumer
		if consumer == "" {
			host, _ := os.Hostname()
			consumer = "worker-" + host
		}
		sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaller,
			ConsumerGroup: group,
			Consumer:      consumer,
		}, wmLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating redis subscriber: %w", err)
		}
		return pub, sub, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}
