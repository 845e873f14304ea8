/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package mqtt publishes the async register pushes to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"jinr.ru/greenlab/go-hostport/pkg/config"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesce        = 250
)

type Publisher struct {
	client paho.Client
	topic  string
	qos    byte
}

// Topic is the topic of the notifications of a target
func Topic(prefix string, target uint32) string {
	return fmt.Sprintf("%s/%d", prefix, target)
}

func NewPublisher(cfg *config.MqttConfig) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnectionLost = func(client paho.Client, err error) {
		log.Warning("MQTT connection lost: %s", err)
	}
	opts.OnConnect = func(client paho.Client) {
		log.Info("MQTT connected to %s", cfg.Broker)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, ErrTimeout{What: "connect to " + cfg.Broker}
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return &Publisher{client: client, topic: cfg.Topic}, nil
}

func (p *Publisher) Name() string {
	return "mqtt"
}

func (p *Publisher) Publish(n *broker.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	topic := Topic(p.topic, n.Target)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrTimeout{What: "publish to " + topic}
	}
	return token.Error()
}

func (p *Publisher) Close() {
	p.client.Disconnect(quiesce)
}
