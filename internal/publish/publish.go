// Package publish forwards experiment events to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"chord-bench/internal/events"
	"chord-bench/internal/logger"
)

// ErrPublishTimeout はブローカーの応答が期限内に返らなかったことを示す
var ErrPublishTimeout = errors.New("mqtt publish timeout")

// Config はMQTT出力の設定
type Config struct {
	Broker         string        // tcp://host:1883
	ClientID       string        // 空なら時刻から生成する
	TopicPrefix    string        // トピックは <prefix>/<event_type>
	QoS            byte          // 0, 1, 2
	Retained       bool          // 結果イベントを retained で送る
	ConnectTimeout time.Duration // 接続待ちの上限
	PublishTimeout time.Duration // 1件ごとの送信待ちの上限
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		TopicPrefix:    "chord-bench",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Client は Publisher が使うMQTTクライアントの部分集合（mqtt.Client が満たす）
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher はイベントをJSONにしてトピックへ送る
type Publisher struct {
	config Config
	client Client
}

// Connect はブローカーへ接続してPublisherを返す
func Connect(config Config) (*Publisher, error) {
	if config.Broker == "" {
		return nil, errors.New("mqtt broker address is empty")
	}
	broker := config.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("chord-bench-%d", time.Now().UnixNano()%1_000_000)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(config.ConnectTimeout)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out after %v", broker, config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}

	logger.Info("", "Connected to MQTT broker %s as %s", broker, clientID)
	return NewWithClient(config, c), nil
}

// NewWithClient は接続済みクライアントからPublisherを作成する
func NewWithClient(config Config, client Client) *Publisher {
	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultConfig().TopicPrefix
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Publisher{config: config, client: client}
}

// Topic はイベント種別に対応するトピックを返す
func (p *Publisher) Topic(t events.EventType) string {
	return strings.TrimSuffix(p.config.TopicPrefix, "/") + "/" + string(t)
}

// Publish はイベント1件を送信し、ブローカーの応答を待つ
func (p *Publisher) Publish(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	retained := p.config.Retained && (ev.Type == events.EventExperimentResult || ev.Type == events.EventMatrixComplete)
	token := p.client.Publish(p.Topic(ev.Type), p.config.QoS, retained, payload)
	if !token.WaitTimeout(p.config.PublishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, ev.Type)
	}
	return token.Error()
}

// Run はチャネルが閉じるか ctx がキャンセルされるまでイベントを送信する
// 送信失敗はログに残して続行する
func (p *Publisher) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				logger.Warn("", "MQTT publish failed: %v", err)
			}
		}
	}
}

// Close はブローカーから切断する
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
