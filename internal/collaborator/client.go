package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/config"
	"github.com/hearth-security/hearth-server/internal/models"
)

// Service names carried in service tokens
const (
	ServiceName            = "device-gateway"
	ApplicationServiceName = "application-server"
)

// Client calls the application server's internal API on behalf of the
// gateway. Non-2xx responses are mapped onto the apperr taxonomy.
type Client struct {
	baseURL    string
	service    string
	auth       *auth.ServiceAuth
	httpClient *http.Client
}

// NewClient creates a collaborator client
func NewClient(cfg *config.CollaboratorConfig, serviceAuth *auth.ServiceAuth) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		service: ServiceName,
		auth:    serviceAuth,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// CommandClient posts node commands to the gateway's command endpoint. The
// application server uses it when NATS is not configured.
type CommandClient struct {
	client *Client
}

// NewCommandClient creates a command client for cfg.GatewayURL
func NewCommandClient(cfg *config.CollaboratorConfig, serviceAuth *auth.ServiceAuth) *CommandClient {
	return &CommandClient{
		client: &Client{
			baseURL: cfg.GatewayURL,
			service: ApplicationServiceName,
			auth:    serviceAuth,
			httpClient: &http.Client{
				Timeout: cfg.Timeout,
			},
		},
	}
}

// SendCommand delivers cmd to the session of its hub
func (c *CommandClient) SendCommand(ctx context.Context, cmd *models.NodeCommand) error {
	return c.client.do(ctx, http.MethodPost, "/internal/commands", cmd, nil)
}

// ReportDiscovery reports that hub saw serial and returns its adoption status
func (c *Client) ReportDiscovery(ctx context.Context, hub, serial models.SerialID) (*models.DiscoveryStatus, error) {
	path := "/pending_devices/" + serial.String() + "/discovery?hubSerialId=" + url.QueryEscape(hub.String())

	var out models.DiscoveryStatus
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Introduce binds a public key to a pending device
func (c *Client) Introduce(ctx context.Context, serial models.SerialID, publicKeyPEM string) error {
	body := models.IntroduceRequest{PublicKeyPEM: publicKeyPEM}
	return c.do(ctx, http.MethodPost, "/pending_devices/"+serial.String()+"/introduce", body, nil)
}

// Acknowledge records the adoption acknowledgement for serial
func (c *Client) Acknowledge(ctx context.Context, serial models.SerialID, hub *models.SerialID) error {
	body := models.AcknowledgeRequest{HubSerialID: hub}
	return c.do(ctx, http.MethodPost, "/pending_devices/"+serial.String()+"/acknowledge", body, nil)
}

// Adopt passes the shared secret of a node the hub already paired to a
// user-authorized adoption
func (c *Client) Adopt(ctx context.Context, hub models.SerialID, pendingID uuid.UUID, serial models.SerialID, sharedSecret string) error {
	body := models.AdoptRequest{HubSerialID: hub.String(), SerialID: serial.String(), SharedSecret: sharedSecret}
	return c.do(ctx, http.MethodPost, "/pending_devices/"+pendingID.String()+"/adopt", body, nil)
}

// GetDevice returns the public key bound to serial
func (c *Client) GetDevice(ctx context.Context, serial models.SerialID) (*models.DeviceKey, error) {
	var out models.DeviceKey
	if err := c.do(ctx, http.MethodGet, "/devices/"+serial.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTelemetry merges a telemetry report into the device metadata
func (c *Client) UpdateTelemetry(ctx context.Context, serial models.SerialID, update models.TelemetryUpdate) error {
	return c.do(ctx, http.MethodPatch, "/devices/"+serial.String()+"/telemetry", update, nil)
}

// RelayMessage forwards a message hub received from node
func (c *Client) RelayMessage(ctx context.Context, hub, node models.SerialID, message string) error {
	body := models.RelayRequest{SerialID: node.String(), Message: message}
	return c.do(ctx, http.MethodPost, "/devices/"+hub.String()+"/message", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	token, err := c.auth.GenerateServiceToken(c.service)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if statusErr := apperr.FromStatus(resp.StatusCode); statusErr != nil {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)

		log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("error", e.Error).
			Msg("Collaborator call failed")

		return fmt.Errorf("%s %s: %w: %s", method, path, statusErr, e.Error)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
