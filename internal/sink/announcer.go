package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/database"
)

// MQTTAnnouncer publishes recorded events to an MQTT broker so downstream
// dashboards see them without polling the database.
type MQTTAnnouncer struct {
	client    mqtt.Client
	baseTopic string
}

// NewMQTTAnnouncerFromEnv connects using MQTT_HOST / MQTT_PORT /
// MQTT_USERNAME / MQTT_PASSWORD.
func NewMQTTAnnouncerFromEnv(baseTopic string) (*MQTTAnnouncer, error) {
	host := getenv("MQTT_HOST", "localhost")
	port := getenvInt("MQTT_PORT", 1883)
	broker := fmt.Sprintf("tcp://%s:%d", host, port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(getenv("MQTT_CLIENT_ID", "cctvd"))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	if user := os.Getenv("MQTT_USERNAME"); user != "" {
		opts.SetUsername(user)
		opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}

	return &MQTTAnnouncer{
		client:    client,
		baseTopic: strings.TrimSuffix(baseTopic, "/"),
	}, nil
}

// AnnounceEvent publishes the event record as JSON to
// <base>/<camera_id>/<event_type>/events.
func (a *MQTTAnnouncer) AnnounceEvent(event *database.EventRecord) error {
	payload, err := json.Marshal(map[string]any{
		"event_id":       event.ID,
		"camera_id":      event.CameraID,
		"event_type":     event.EventType,
		"confidence":     event.Confidence,
		"frame_number":   event.FrameNumber,
		"bbox":           event.BBox(),
		"clip_path":      event.ClipPath,
		"thumbnail_path": event.ThumbnailPath,
		"captured_at":    event.CapturedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal event announce: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/%s/events", a.baseTopic, event.CameraID, event.EventType)
	token := a.client.Publish(topic, 1, false, payload)
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return fmt.Errorf("publish timeout to %s", topic)
	}
	return token.Error()
}

// AnnounceStatus publishes a worker status payload to
// <base>/<camera_id>/status.
func (a *MQTTAnnouncer) AnnounceStatus(cameraID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal status announce: %w", err)
	}
	topic := fmt.Sprintf("%s/%s/status", a.baseTopic, cameraID)
	token := a.client.Publish(topic, 1, true, raw)
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return fmt.Errorf("publish timeout to %s", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (a *MQTTAnnouncer) Close() {
	a.client.Disconnect(250)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
