// Package telemetry publishes tracker lifecycle events over MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/config"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
	"github.com/gge-tracker/gge-tracker-sub003/internal/util"
)

// MQTT topic suffixes, appended to the configured prefix.
const (
	TopicAdmin      = "tracker/admin"
	TopicZoneStatus = "tracker/zone_status"
	TopicAccounts   = "tracker/accounts"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	mu sync.Mutex

	cfg *config.Config
	bus *events.Bus

	client mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, bus *events.Bus) (*MQTTHandler, error) {
	mqttCfg := cfg.ApplicationData.MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.OS,
		"app_version": "1.0.0",
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		bus:      bus,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("gge-tracker-%s", sysInfo.Hostname))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events. It blocks
// until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.ApplicationData.MQTT.BrokerURL).
		Int("port", h.cfg.ApplicationData.MQTT.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.bus.Subscribe(events.EventZoneConnected, "mqtt.zoneConnected", h.onZoneStatus)
	h.bus.Subscribe(events.EventZoneDisconnected, "mqtt.zoneDisconnected", h.onZoneStatus)
	h.bus.Subscribe(events.EventZoneRestarting, "mqtt.zoneRestarting", h.onZoneStatus)
	h.bus.Subscribe(events.EventZoneLoginFailed, "mqtt.zoneLoginFailed", h.onZoneStatus)
	h.bus.Subscribe(events.EventZoneRegistered, "mqtt.zoneRegistered", h.onZoneRegistered)
}

// topic prefixes a suffix with the configured namespace.
func (h *MQTTHandler) topic(suffix string) string {
	prefix := h.cfg.ApplicationData.MQTT.TopicPrefix
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onZoneStatus(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicZoneStatus), map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onZoneRegistered(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicAccounts), map[string]interface{}{
		"event":   "account_registered",
		"payload": event.Payload,
	})
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.topic(TopicAdmin), map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
