// Package mqtt connects the indexer to the MQTT bus. Record changes are
// published as events and other services can query the index with a
// request/response exchange keyed by a correlation ID.
package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

const (
	requestPrefix  = "modlogs/request/"
	responsePrefix = "modlogs/response/"
)

// ErrTimeout is returned when the broker doesn't acknowledge in time.
var ErrTimeout = errors.New("mqtt: operation timed out")

// MqttRequest represents an MQTT request message
type MqttRequest struct {
	CorrelationID string                 `json:"correlationId"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// MqttResponse represents an MQTT response message
type MqttResponse struct {
	CorrelationID string      `json:"correlationId"`
	Data          interface{} `json:"data"`
	Error         string      `json:"error,omitempty"`
}

// RequestHandler is a function type for handling MQTT requests
type RequestHandler func(payload map[string]interface{}) (interface{}, error)

// Options configures the broker connection
type Options struct {
	Host     string
	Port     string
	Username string
	Password string
	ClientID string
	// Timeout bounds every wait on the broker. Defaults to 5s.
	Timeout time.Duration
}

// MqttCommunicator handles MQTT communication
type MqttCommunicator struct {
	client   mqtt.Client
	clientID string
	timeout  time.Duration
}

var (
	communicator *MqttCommunicator
	once         sync.Once
)

// Init initializes the global MQTT communicator
func Init(opts Options) *MqttCommunicator {
	once.Do(func() {
		communicator = NewMqttCommunicator(opts)
	})
	return communicator
}

// Get returns the global MQTT communicator
func Get() *MqttCommunicator {
	return communicator
}

// NewMqttCommunicator creates a communicator and starts connecting. If the
// broker can't be reached within the timeout, paho keeps retrying in the
// background.
func NewMqttCommunicator(o Options) *MqttCommunicator {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}

	mc := &MqttCommunicator{clientID: o.ClientID, timeout: o.Timeout}
	uniqueID := fmt.Sprintf("%s_%s", o.ClientID, uuid.New().String())

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", o.Host, o.Port)).
		SetClientID(uniqueID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Success(fmt.Sprintf("Conectado al broker MQTT como %s", o.ClientID), "MQTT")
		}).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Error(fmt.Sprintf("Conexión MQTT perdida: %v", err), "MQTT")
		})

	mc.client = mqtt.NewClient(opts)

	token := mc.client.Connect()
	if !token.WaitTimeout(o.Timeout) {
		logger.Warn("El broker MQTT no responde, se seguirá reintentando en segundo plano.", "MQTT")
	} else if token.Error() != nil {
		logger.Error(fmt.Sprintf("Error de conexión MQTT: %v", token.Error()), "MQTT")
	}
	return mc
}

// Destroy closes the MQTT connection
func (mc *MqttCommunicator) Destroy() {
	if mc.client != nil && mc.client.IsConnected() {
		mc.client.Disconnect(250)
		logger.System("Conexión MQTT cerrada exitosamente.", "MQTT")
		return
	}
	logger.Warn("El cliente MQTT no estaba conectado, no se necesita cerrar.", "MQTT")
}

// IsConnected returns true if connected to the broker
func (mc *MqttCommunicator) IsConnected() bool {
	return mc.client != nil && mc.client.IsConnected()
}

func (mc *MqttCommunicator) wait(t mqtt.Token) error {
	if !t.WaitTimeout(mc.timeout) {
		return ErrTimeout
	}
	return t.Error()
}

// Publish sends a JSON message to a topic
func (mc *MqttCommunicator) Publish(topic string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return mc.wait(mc.client.Publish(topic, 0, false, jsonData))
}

// On serves requests published on modlogs/request/<name>. The response goes
// to modlogs/response/<name>/<correlationId>.
func (mc *MqttCommunicator) On(name string, callback RequestHandler) error {
	topic := requestPrefix + name

	token := mc.client.Subscribe(topic, 0, func(c mqtt.Client, msg mqtt.Message) {
		var request MqttRequest
		if err := json.Unmarshal(msg.Payload(), &request); err != nil {
			logger.Error(fmt.Sprintf("Error parsing MQTT request: %v", err), "MQTT")
			return
		}
		if request.CorrelationID == "" {
			logger.Warn("Petición MQTT sin correlationId descartada en "+msg.Topic(), "MQTT")
			return
		}

		actual := strings.TrimPrefix(msg.Topic(), requestPrefix)
		response := serve(callback, actual, request)
		if err := mc.Publish(responsePrefix+actual+"/"+request.CorrelationID, response); err != nil {
			logger.Error(fmt.Sprintf("Error respondiendo a %s: %v", actual, err), "MQTT")
		}
	})
	if err := mc.wait(token); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	logger.System("Atendiendo peticiones MQTT en "+topic, "MQTT")
	return nil
}

// serve runs a handler and wraps its outcome in a response
func serve(callback RequestHandler, topic string, request MqttRequest) MqttResponse {
	payload := request.Payload
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["_topic"] = topic

	data, err := callback(payload)
	if err != nil {
		return MqttResponse{CorrelationID: request.CorrelationID, Error: err.Error()}
	}
	return MqttResponse{CorrelationID: request.CorrelationID, Data: data}
}
