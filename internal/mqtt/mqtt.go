// Package mqtt publishes measurement documents and point clouds to a
// broker and maps control-topic commands onto the measurement engine.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/depth-data/distance.report/internal/frame"
	"github.com/depth-data/distance.report/internal/measure"
	"github.com/depth-data/distance.report/internal/monitoring"
)

// Topics used by the service. The control topic accepts the commands
// "start", "stop" and "get_pointcloud".
const (
	TopicMeasurements = "hps3d/measurements"
	TopicStatus       = "hps3d/measurements/status"
	TopicControl      = "hps3d/control"
	TopicPointcloud   = "hps3d/pointcloud"
)

const connectTimeout = 5 * time.Second

// Controller is the slice of the measurement engine the control topic
// drives.
type Controller interface {
	Start()
	Stop()
	Active() bool
	RequestPointcloud()
}

// Bridge connects the measurement engine to an MQTT broker.
type Bridge struct {
	client     paho.Client
	controller Controller
}

// NewBridge builds a bridge with its paho client configured but not yet
// connected. clientID should be stable per installation so the broker can
// track the session.
func NewBridge(brokerURL, clientID string, controller Controller) *Bridge {
	b := &Bridge{controller: controller}

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			monitoring.Logf("mqtt connection lost: %v", err)
		})
	b.client = paho.NewClient(opts)
	return b
}

// Connect establishes the broker session. A failed connect is not fatal to
// the daemon; the HTTP API keeps working and paho retries in the
// background once the first connect succeeds.
func (b *Bridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Connected reports whether the broker session is up.
func (b *Bridge) Connected() bool {
	return b.client.IsConnectionOpen()
}

// Close publishes nothing further and tears down the session.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

// onConnect runs on every (re)connect: resubscribes the control topic and
// announces the current state.
func (b *Bridge) onConnect(c paho.Client) {
	monitoring.Logf("mqtt connected, subscribing %s", TopicControl)
	if token := c.Subscribe(TopicControl, 0, b.handleControl); token.Wait() && token.Error() != nil {
		monitoring.Logf("mqtt subscribe %s failed: %v", TopicControl, token.Error())
	}
	b.publishJSON(TopicStatus, map[string]interface{}{
		"status": "connected",
		"active": b.controller.Active(),
	})
}

// handleControl dispatches control commands. Unknown payloads are logged
// and ignored.
func (b *Bridge) handleControl(_ paho.Client, msg paho.Message) {
	b.dispatchCommand(string(msg.Payload()))
}

func (b *Bridge) dispatchCommand(payload string) {
	switch strings.TrimSpace(payload) {
	case "start":
		monitoring.Logf("measurement start requested via mqtt")
		b.controller.Start()
	case "stop":
		monitoring.Logf("measurement stop requested via mqtt")
		b.controller.Stop()
	case "get_pointcloud":
		monitoring.Logf("pointcloud requested via mqtt")
		b.controller.RequestPointcloud()
	default:
		monitoring.Logf("mqtt control: unknown command %q", payload)
	}
}

// PublishSnapshot sends one measurement document.
func (b *Bridge) PublishSnapshot(s measure.Snapshot) {
	b.publishJSON(TopicMeasurements, measure.BuildDocument(s))
}

// PublishCloud sends one point cloud.
func (b *Bridge) PublishCloud(c *frame.Cloud) {
	b.publishJSON(TopicPointcloud, c)
}

func (b *Bridge) publishJSON(topic string, v interface{}) {
	if !b.client.IsConnectionOpen() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("mqtt marshal for %s: %v", topic, err)
		return
	}
	token := b.client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		monitoring.Logf("mqtt publish %s failed: %v", topic, err)
	}
}

// SnapshotSource is the slice of the engine the forwarding loop consumes.
type SnapshotSource interface {
	Subscribe() (string, <-chan measure.Snapshot)
	Unsubscribe(string)
	SubscribeClouds() (string, <-chan *frame.Cloud)
	UnsubscribeClouds(string)
}

// Forward pumps engine snapshots and point clouds to the broker until ctx
// is cancelled.
func (b *Bridge) Forward(ctx context.Context, src SnapshotSource) {
	snapID, snaps := src.Subscribe()
	defer src.Unsubscribe(snapID)
	cloudID, clouds := src.SubscribeClouds()
	defer src.UnsubscribeClouds(cloudID)

	for {
		select {
		case s := <-snaps:
			b.PublishSnapshot(s)
		case c := <-clouds:
			b.PublishCloud(c)
		case <-ctx.Done():
			return
		}
	}
}
