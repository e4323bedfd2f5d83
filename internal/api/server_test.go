package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-security/hearth-server/internal/adoption"
	"github.com/hearth-security/hearth-server/internal/alarm"
	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/config"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/storage"
	"github.com/hearth-security/hearth-server/pkg/crypto"
)

const (
	hubSerial    = "0100000000000001"
	sensorSerial = "0200000000000001"
)

const testConfig = `
jwt:
  secret: test-user-secret
internal:
  secret: test-internal-secret
api:
  allowed_origins: ["*"]
`

type recordingSender struct {
	mu   sync.Mutex
	cmds []*models.NodeCommand
}

func (r *recordingSender) SendCommand(ctx context.Context, cmd *models.NodeCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recordingSender) commands() []*models.NodeCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.NodeCommand(nil), r.cmds...)
}

type testServer struct {
	t       *testing.T
	store   *storage.MemoryStore
	sender  *recordingSender
	http    *httptest.Server
	admin   string
	service string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	sender := &recordingSender{}

	dispatcher := alarm.NewDispatcher(sender, 1, 16, time.Second)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	server := NewRESTServer(cfg, store, adoption.NewService(store, sender), alarm.NewEngine(store, dispatcher, nil))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	admin, err := auth.NewJWTManager(&cfg.JWT).GenerateToken(uuid.New(), nil, true)
	require.NoError(t, err)
	service, err := auth.NewServiceAuth(&cfg.Internal).GenerateServiceToken("device-gateway")
	require.NoError(t, err)

	return &testServer{t: t, store: store, sender: sender, http: ts, admin: admin, service: service}
}

func (s *testServer) userToken(spaceID uuid.UUID) string {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(s.t, err)
	token, err := auth.NewJWTManager(&cfg.JWT).GenerateToken(uuid.New(), &spaceID, false)
	require.NoError(s.t, err)
	return token
}

// do sends a request and decodes a JSON response into out when out is set
func (s *testServer) do(method, path, token string, body, out interface{}) int {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.http.URL+path, reader)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) createSpace(name string) *models.Space {
	s.t.Helper()
	var space models.Space
	status := s.do(http.MethodPost, "/api/v1/spaces", s.admin, map[string]string{"name": name}, &space)
	require.Equal(s.t, http.StatusCreated, status)
	return &space
}

func publicKeyPEM(t *testing.T) string {
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	pem, err := crypto.MarshalPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	return pem
}

// introduce runs the gateway side of hello for serial
func (s *testServer) introduce(serial, hub string) {
	s.t.Helper()
	status := s.do(http.MethodPost, "/internal/v1/pending_devices/"+serial+"/introduce", s.service,
		models.IntroduceRequest{PublicKeyPEM: publicKeyPEM(s.t)}, nil)
	require.Equal(s.t, http.StatusNoContent, status)

	hubID, err := models.ParseSerialID(hub)
	require.NoError(s.t, err)
	status = s.do(http.MethodPost, "/internal/v1/pending_devices/"+serial+"/acknowledge", s.service,
		models.AcknowledgeRequest{HubSerialID: &hubID}, nil)
	require.Equal(s.t, http.StatusNoContent, status)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var body map[string]interface{}
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/health", "", nil, &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	space := s.createSpace("Home")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/spaces/"+space.ID.String(), "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/spaces/"+space.ID.String(), s.service, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/internal/v1/devices/"+hubSerial, "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/internal/v1/devices/"+hubSerial, s.admin, nil, nil))

	// only admins create spaces
	token := s.userToken(space.ID)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/spaces", token, map[string]string{"name": "x"}, nil))
}

func TestSpaceIsolation(t *testing.T) {
	s := newTestServer(t)
	home := s.createSpace("Home")
	office := s.createSpace("Office")

	token := s.userToken(home.ID)

	var got models.Space
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/spaces/"+home.ID.String(), token, nil, &got))
	assert.Equal(t, "Home", got.Name)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/spaces/"+office.ID.String(), token, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/spaces/"+office.ID.String()+"/arm", token, nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/spaces/not-a-uuid", token, nil, nil))
}

func TestAdoptionAndAlarmOverHTTP(t *testing.T) {
	s := newTestServer(t)
	space := s.createSpace("Home")
	token := s.userToken(space.ID)
	spacePath := "/api/v1/spaces/" + space.ID.String()

	// user registers the hub, which then says hello
	var hubPending models.PendingDevice
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, spacePath+"/hubs", token,
		map[string]string{"serialId": hubSerial}, &hubPending))
	assert.Equal(t, models.AdoptionPendingIntroduce, hubPending.State)

	s.introduce(hubSerial, hubSerial)

	var hub models.Device
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/pending_devices/"+hubPending.ID.String()+"/confirm", token,
		map[string]string{"name": "Hub"}, &hub))
	assert.Equal(t, hubSerial, hub.SerialID.String())

	// the hub discovers an entry sensor
	var status models.DiscoveryStatus
	require.Equal(t, http.StatusOK, s.do(http.MethodGet,
		"/internal/v1/pending_devices/"+sensorSerial+"/discovery?hubSerialId="+hubSerial, s.service, nil, &status))
	assert.Equal(t, models.AdoptionAutoDiscovered, status.State)
	require.NotNil(t, status.PendingDeviceID)

	var listed struct {
		PendingDevices []*models.PendingDevice `json:"pendingDevices"`
		Total          int                     `json:"total"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, spacePath+"/pending_devices", token, nil, &listed))
	assert.Equal(t, 1, listed.Total)

	pendingPath := "/api/v1/pending_devices/" + status.PendingDeviceID.String()
	var pending models.PendingDevice
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, pendingPath+"/adopt_request", token, nil, &pending))
	assert.Equal(t, models.AdoptionPendingIntroduce, pending.State)

	cmds := s.sender.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CommandEnableNodeAdoption, cmds[0].Type)
	assert.Equal(t, hubSerial, cmds[0].HubSerialID.String())

	// confirming before the sensor introduced itself is a conflict
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, pendingPath+"/confirm", token,
		map[string]string{"name": "Front Door"}, nil))

	s.introduce(sensorSerial, hubSerial)

	var sensor models.Device
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, pendingPath+"/confirm", token,
		map[string]string{"name": "Front Door"}, &sensor))
	assert.Equal(t, hubSerial, sensor.HubSerialID.String())

	var key models.DeviceKey
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/internal/v1/devices/"+sensorSerial, s.service, nil, &key))
	assert.True(t, key.Trusted)

	// arm, then the hub relays the door opening
	var armed models.Space
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, spacePath+"/arm", token, nil, &armed))
	assert.True(t, armed.Armed)

	msg := fmt.Sprintf("state;%s;%d;false", sensorSerial, time.Now().Unix())
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/internal/v1/devices/"+hubSerial+"/message", s.service,
		models.RelayRequest{SerialID: sensorSerial, Message: msg}, nil))

	var current models.Space
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, spacePath, token, nil, &current))
	assert.True(t, current.SirenActive)

	var events struct {
		Events []*models.EventLog `json:"events"`
		Total  int64              `json:"total"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, spacePath+"/events?type=SIREN_ACTIVATED", token, nil, &events))
	require.Equal(t, int64(1), events.Total)
	assert.Equal(t, models.EventLevelCritical, events.Events[0].Level)

	var disarmed models.Space
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, spacePath+"/disarm", token, nil, &disarmed))
	assert.False(t, disarmed.Armed)
	assert.False(t, disarmed.SirenActive)
}

// adoptHub registers serial in a space and runs it through hello and confirm
func (s *testServer) adoptHub(space *models.Space, serial string) {
	s.t.Helper()
	token := s.userToken(space.ID)

	var pending models.PendingDevice
	require.Equal(s.t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/spaces/"+space.ID.String()+"/hubs", token,
		map[string]string{"serialId": serial}, &pending))
	s.introduce(serial, serial)
	require.Equal(s.t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/pending_devices/"+pending.ID.String()+"/confirm", token,
		map[string]string{"name": "Hub"}, nil))
}

func TestPairedAdoptionOverHTTP(t *testing.T) {
	s := newTestServer(t)
	home := s.createSpace("Home")
	office := s.createSpace("Office")
	const officeHub = "0100000000000002"
	s.adoptHub(home, hubSerial)
	s.adoptHub(office, officeHub)

	var status models.DiscoveryStatus
	require.Equal(t, http.StatusOK, s.do(http.MethodGet,
		"/internal/v1/pending_devices/"+sensorSerial+"/discovery?hubSerialId="+hubSerial, s.service, nil, &status))
	require.NotNil(t, status.PendingDeviceID)

	// the office hub can neither see nor adopt the home sensor
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet,
		"/internal/v1/pending_devices/"+sensorSerial+"/discovery?hubSerialId="+officeHub, s.service, nil, nil))

	adoptPath := "/internal/v1/pending_devices/" + status.PendingDeviceID.String() + "/adopt"
	req := models.AdoptRequest{HubSerialID: officeHub, SerialID: sensorSerial, SharedSecret: "injected"}
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, adoptPath, s.service, req, nil))

	// the discovering hub still waits for the user
	req = models.AdoptRequest{HubSerialID: hubSerial, SerialID: sensorSerial, SharedSecret: "pairing-secret"}
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, adoptPath, s.service, req, nil))
	assert.Empty(t, s.sender.commands())

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/pending_devices/"+status.PendingDeviceID.String()+"/adopt_request",
		s.userToken(home.ID), nil, nil))

	var pending models.PendingDevice
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, adoptPath, s.service, req, &pending))
	assert.Equal(t, models.AdoptionPendingIntroduce, pending.State)

	cmds := s.sender.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, hubSerial, cmds[1].HubSerialID.String())
	assert.Equal(t, "pairing-secret", cmds[1].SharedSecret)
}

func TestInternalBadInput(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet,
		"/internal/v1/pending_devices/"+sensorSerial+"/discovery?hubSerialId=zz", s.service, nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/internal/v1/devices/nothex", s.service, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/internal/v1/devices/"+sensorSerial, s.service, nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/internal/v1/pending_devices/"+sensorSerial+"/introduce", s.service,
		models.IntroduceRequest{PublicKeyPEM: "not a key"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/internal/v1/devices/"+hubSerial+"/message", s.service,
		models.RelayRequest{SerialID: sensorSerial}, nil))
}

func TestUpdateDeviceSettings(t *testing.T) {
	s := newTestServer(t)
	space := s.createSpace("Home")
	token := s.userToken(space.ID)

	var hubPending models.PendingDevice
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/spaces/"+space.ID.String()+"/hubs", token,
		map[string]string{"serialId": hubSerial}, &hubPending))
	s.introduce(hubSerial, hubSerial)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/pending_devices/"+hubPending.ID.String()+"/confirm", token,
		map[string]string{"name": "Hub"}, nil))

	var device models.Device
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/api/v1/devices/"+hubSerial, token,
		map[string]string{"name": "Hallway hub", "description": "upstairs"}, &device))
	assert.Equal(t, "Hallway hub", device.Name)
	assert.Equal(t, "upstairs", device.Description)

	other := s.userToken(uuid.New())
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/devices/"+hubSerial, other, nil, nil))
}
