package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/textileio/auctioneer-bot/msgbroker"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var log = logging.Logger("gpubsub")

// PubsubMsgBroker is an implementation of MsgBroker for Google PubSub.
type PubsubMsgBroker struct {
	subsName    string
	topicPrefix string

	client          *pubsub.Client
	clientCtx       context.Context
	clientCtxCancel context.CancelFunc
	receivers       sync.WaitGroup

	topicCacheLock sync.Mutex
	topicCache     map[string]*pubsub.Topic

	metrics *brokerMetrics
}

var _ msgbroker.MsgBroker = (*PubsubMsgBroker)(nil)

// New returns a new *PubsubMsgBroker. subsName is the prefix of every
// subscription this client registers, so independent deployments get
// independent copies of each message.
func New(projectID, apiKey, topicPrefix, subsName string) (*PubsubMsgBroker, error) {
	if subsName == "" {
		return nil, errors.New("subscription name is empty")
	}
	var opts []option.ClientOption
	if os.Getenv("PUBSUB_EMULATOR_HOST") != "" {
		if projectID == "" {
			projectID = "emulator"
		}
	} else {
		if apiKey == "" {
			return nil, errors.New("api key is empty")
		}
		if projectID == "" {
			return nil, errors.New("project-id is empty")
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(apiKey)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub client: %s", err)
	}

	p := &PubsubMsgBroker{
		subsName:        subsName,
		topicPrefix:     topicPrefix,
		client:          client,
		clientCtx:       ctx,
		clientCtxCancel: cancel,
		topicCache:      map[string]*pubsub.Topic{},
	}
	p.initMetrics(metric.Must(global.Meter("auctioneer")))
	return p, nil
}

// RegisterTopicHandler registers a handler to a topic.
func (p *PubsubMsgBroker) RegisterTopicHandler(
	tName msgbroker.TopicName,
	handler msgbroker.TopicHandler,
	opts ...msgbroker.Option) error {
	config := msgbroker.ApplyRegisterHandlerOptions(opts...)
	topicName := p.topicPrefix + string(tName)
	subName := p.topicPrefix + p.subsName + "-" + string(tName)

	topic, err := p.getTopic(topicName)
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	var sub *pubsub.Subscription
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	it := topic.Subscriptions(ctx)
	for {
		subi, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("looking for subscription: %s", err)
		}
		if subi.ID() == subName {
			sub = subi
			break
		}
	}
	if sub == nil {
		log.Warnf("creating subscription %s for topic %s", subName, topicName)

		config := pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: config.AckDeadline,
		}
		sub, err = p.client.CreateSubscription(ctx, subName, config)
		if err != nil {
			return fmt.Errorf("creating subscription: %s", err)
		}
	}

	p.receivers.Add(1)
	go func() {
		defer p.receivers.Done()
		err := sub.Receive(p.clientCtx, func(ctx context.Context, m *pubsub.Message) {
			start := time.Now()
			ctx, cancel := context.WithTimeout(ctx, config.AckDeadline)
			defer cancel()
			err := handler(ctx, m.Data)
			p.metrics.onHandle(ctx, topicName, start, err)
			if err != nil {
				log.Errorf("handling message %s from %s: %s", m.ID, topicName, err)
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil {
			log.Errorf("receive handler subscription %s, topic %s: %s", subName, topicName, err)
		}
	}()

	log.Debugf("registered handler for %s:%s", subName, topicName)
	return nil
}

// PublishMsg publishes a message to the desired topic.
func (p *PubsubMsgBroker) PublishMsg(ctx context.Context, tName msgbroker.TopicName, data []byte) (err error) {
	topicName := p.topicPrefix + string(tName)
	defer func() { p.metrics.onPublish(ctx, topicName, err) }()

	topic, err := p.getTopic(topicName)
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}
	pr := topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := pr.Get(ctx); err != nil {
		return fmt.Errorf("publishing to pubsub: %s", err)
	}

	return nil
}

func (p *PubsubMsgBroker) getTopic(name string) (*pubsub.Topic, error) {
	p.topicCacheLock.Lock()
	defer p.topicCacheLock.Unlock()
	topic, ok := p.topicCache[name]
	if ok {
		return topic, nil
	}

	topic = p.client.Topic(name)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	exist, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %s", err)
	}
	if !exist {
		log.Warnf("creating topic %s", name)

		topic, err = p.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %s", name, err)
		}
	}
	p.topicCache[name] = topic

	return topic, nil
}

// Close closes the client.
func (p *PubsubMsgBroker) Close() error {
	p.clientCtxCancel()
	p.receivers.Wait()

	p.topicCacheLock.Lock()
	for _, t := range p.topicCache {
		t.Stop()
	}
	p.topicCacheLock.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("closing pubsub client: %s", err)
	}
	return nil
}
