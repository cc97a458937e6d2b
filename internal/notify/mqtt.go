package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wyh-tools/Course-Sentinel/internal/events"
)

// MQTT sends notifications by publishing JSON messages to an MQTT broker.
// Useful for feeding a home dashboard that watches the grab progress.
type MQTT struct {
	broker   string
	topic    string
	clientID string
	username string
	password string
	qos      byte
}

// NewMQTT creates an MQTT notifier.
func NewMQTT(broker, topic, clientID, username, password string, qos int) *MQTT {
	q := byte(qos)
	if q > 2 {
		q = 0
	}
	if clientID == "" {
		clientID = "course-sentinel"
	}
	return &MQTT{
		broker:   broker,
		topic:    topic,
		clientID: clientID,
		username: username,
		password: password,
		qos:      q,
	}
}

// Name returns the provider name for logging.
func (m *MQTT) Name() string { return "mqtt" }

// Send publishes an event as a JSON payload to the configured MQTT topic.
func (m *MQTT) Send(ctx context.Context, event events.Event) error {
	opts := mqtt.NewClientOptions().
		SetClientID(m.clientID).
		AddBroker(m.broker).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(10 * time.Second)
	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if tok.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	defer client.Disconnect(250)

	payload := mqttPayload{
		Kind:            string(event.Kind),
		CourseName:      event.CourseName,
		Teacher:         event.Teacher,
		TeachingClassID: event.TeachingClassID,
		Remain:          event.Remain,
		Message:         event.Message,
		Timestamp:       event.Timestamp.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	pub := client.Publish(m.topic, m.qos, false, body)
	if !pub.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt publish timeout")
	}
	if pub.Error() != nil {
		return fmt.Errorf("mqtt publish: %w", pub.Error())
	}
	return nil
}

type mqttPayload struct {
	Kind            string `json:"kind"`
	CourseName      string `json:"course_name,omitempty"`
	Teacher         string `json:"teacher,omitempty"`
	TeachingClassID string `json:"teaching_class_id,omitempty"`
	Remain          int    `json:"remain,omitempty"`
	Message         string `json:"message,omitempty"`
	Timestamp       string `json:"timestamp"`
}
