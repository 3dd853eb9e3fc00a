package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tirilo-fleet-backend/config"
	"tirilo-fleet-backend/internal/api"
	"tirilo-fleet-backend/internal/cmdqueue"
	"tirilo-fleet-backend/internal/db"
	"tirilo-fleet-backend/internal/fleet"
	"tirilo-fleet-backend/internal/maintenance"
	"tirilo-fleet-backend/internal/model"
	"tirilo-fleet-backend/internal/registry"
	"tirilo-fleet-backend/internal/telemetry"
)

// setupTestServer builds the full HTTP stack over an in-memory database.
func setupTestServer(t *testing.T, name string) (*gorm.DB, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(testDB))

	tel := telemetry.NewStore(testDB)
	reg := registry.New(testDB, tel, 2*time.Minute)
	queue := cmdqueue.New(testDB, 100, 16*1024)
	maint := maintenance.New(testDB, nil)
	svc := fleet.New(testDB, reg, queue, tel, maint, 2*time.Minute, 10)

	serverCfg := &config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTLSeconds: 1,
	}
	router := api.NewRouter(svc, serverCfg, &webpush.Options{VAPIDPublicKey: "test-public-key"})
	return testDB, router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestCommandLifecycle walks a command from enqueue through agent poll to
// ack, over the HTTP surface, and verifies the delivery guarantees along
// the way.
func TestCommandLifecycle(t *testing.T) {
	testDB, router := setupTestServer(t, "integration_commands")

	// Register the robot. The mac is sent in dashed lower case and must
	// come back normalized.
	w := doJSON(t, router, http.MethodPost, "/api/robots", gin.H{
		"macAddress": "aa-bb-cc-55-00-01",
		"name":       "Reception Tirilo",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var robot model.Robot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))
	assert.Equal(t, "AA:BB:CC:55:00:01", robot.MACAddress)

	// Enqueue two commands.
	w = doJSON(t, router, http.MethodPost, "/api/commands", gin.H{
		"macAddress": "AA:BB:CC:55:00:01",
		"type":       "speak",
		"params":     gin.H{"text": "welcome"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first model.Command
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, model.CommandPending, first.Status)

	w = doJSON(t, router, http.MethodPost, "/api/commands", gin.H{
		"macAddress": "AA:BB:CC:55:00:01",
		"type":       "play",
		"params":     gin.H{"game": "colors"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var second model.Command
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	// An unknown command type is rejected with a validation error.
	w = doJSON(t, router, http.MethodPost, "/api/commands", gin.H{
		"macAddress": "AA:BB:CC:55:00:01",
		"type":       "levitate",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The agent polls and receives both, oldest first, already dispatched.
	w = doJSON(t, router, http.MethodPost, "/api/agent/AA:BB:CC:55:00:01/poll", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pollResp struct {
		Commands []model.Command `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pollResp))
	require.Len(t, pollResp.Commands, 2)
	assert.Equal(t, first.ID, pollResp.Commands[0].ID)
	assert.Equal(t, second.ID, pollResp.Commands[1].ID)
	for _, cmd := range pollResp.Commands {
		assert.Equal(t, model.CommandDispatched, cmd.Status)
	}

	// Ack the first as executed.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/commands/%d/ack", first.ID), gin.H{"outcome": "executed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var acked model.Command
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acked))
	assert.Equal(t, model.CommandExecuted, acked.Status)

	// A duplicate ack from a network retry is a harmless no-op.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/commands/%d/ack", first.ID), gin.H{"outcome": "errored"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acked))
	assert.Equal(t, model.CommandExecuted, acked.Status, "the first terminal outcome wins")

	// A dispatched command cannot be cancelled.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/commands/%d/cancel", second.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// History shows all commands for the device.
	w = doJSON(t, router, http.MethodGet, "/api/commands?mac=AA:BB:CC:55:00:01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []model.Command
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Len(t, history, 2)

	// The database agrees with the transport.
	var stored model.Command
	require.NoError(t, testDB.First(&stored, first.ID).Error)
	assert.Equal(t, model.CommandExecuted, stored.Status)
	require.NotNil(t, stored.AckedAt)
}

// TestMaintenanceLifecycle registers a robot, runs an order through the
// workshop and releases the robot, all over HTTP.
func TestMaintenanceLifecycle(t *testing.T) {
	testDB, router := setupTestServer(t, "integration_maintenance")

	w := doJSON(t, router, http.MethodPost, "/api/robots", gin.H{
		"macAddress": "AA:BB:CC:55:00:02",
		"name":       "Ward Tirilo",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var robot model.Robot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))

	// Open a corrective order and pull the robot out of service.
	w = doJSON(t, router, http.MethodPost, "/api/maintenance", gin.H{
		"robotId":           robot.ID,
		"type":              "corrective",
		"reportedDefect":    "speaker crackles",
		"updateRobotStatus": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order model.MaintenanceOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, model.OrderOpen, order.Status)

	var stored model.Robot
	require.NoError(t, testDB.First(&stored, "id = ?", robot.ID).Error)
	assert.Equal(t, model.StatusInMaintenance, stored.OperationalStatus)

	// A second order while one is active is a conflict.
	w = doJSON(t, router, http.MethodPost, "/api/maintenance", gin.H{
		"robotId": robot.ID,
		"type":    "preventive",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Walk the order through the shop.
	w = doJSON(t, router, http.MethodPatch, "/api/maintenance/"+order.ID, gin.H{
		"status":             "in_repair",
		"technicalDiagnosis": "cracked speaker membrane",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Compound close: order done, robot back in service.
	w = doJSON(t, router, http.MethodPost, "/api/maintenance/"+order.ID+"/close", gin.H{
		"robotId": robot.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var closed model.MaintenanceOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &closed))
	assert.Equal(t, model.OrderDone, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	require.NoError(t, testDB.First(&stored, "id = ?", robot.ID).Error)
	assert.Equal(t, model.StatusAvailable, stored.OperationalStatus)

	// The robot's maintenance history shows the completed order.
	w = doJSON(t, router, http.MethodGet, "/api/robots/"+robot.ID+"/maintenance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []model.MaintenanceOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
}

// TestTelemetryAndAgentBootstrap covers the device-facing surface:
// telemetry ingestion, derived presence and the boot-time config read.
func TestTelemetryAndAgentBootstrap(t *testing.T) {
	testDB, router := setupTestServer(t, "integration_telemetry")

	// The clinic's AI personality is configured up front.
	w := doJSON(t, router, http.MethodPut, "/api/clinics/clinic-7/ai-config", gin.H{
		"personalityPrompt": "You are a calm clinic assistant.",
		"voiceEngine":       "neural-en-us",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var firstRow model.ClinicAIConfig
	require.NoError(t, testDB.First(&firstRow, "clinic_id = ?", "clinic-7").Error)

	// A second PUT for the same clinic replaces the config in place.
	w = doJSON(t, router, http.MethodPut, "/api/clinics/clinic-7/ai-config", gin.H{
		"personalityPrompt": "You are a playful clinic assistant.",
		"voiceEngine":       "neural-pt-br",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var putResp model.ClinicAIConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &putResp))
	assert.Equal(t, "You are a playful clinic assistant.", putResp.PersonalityPrompt)
	assert.Equal(t, "neural-pt-br", putResp.VoiceEngine)

	var count int64
	require.NoError(t, testDB.Model(&model.ClinicAIConfig{}).Where("clinic_id = ?", "clinic-7").Count(&count).Error)
	assert.EqualValues(t, 1, count, "overwrite must not insert a second row")
	var secondRow model.ClinicAIConfig
	require.NoError(t, testDB.First(&secondRow, "clinic_id = ?", "clinic-7").Error)
	assert.Equal(t, firstRow.ID, secondRow.ID)
	assert.Equal(t, "You are a playful clinic assistant.", secondRow.PersonalityPrompt)
	assert.Equal(t, "neural-pt-br", secondRow.VoiceEngine)

	w = doJSON(t, router, http.MethodPost, "/api/robots", gin.H{
		"macAddress": "AA:BB:CC:55:00:03",
		"name":       "Lobby Tirilo",
		"clinicId":   "clinic-7",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Telemetry for a device that just played a round.
	w = doJSON(t, router, http.MethodPost, "/api/telemetry", gin.H{
		"macAddress": "AA:BB:CC:55:00:03",
		"activity":   "game_round",
		"result":     "won",
		"details":    gin.H{"game": "colors", "score": 5},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Presence derives online from the fresh report.
	w = doJSON(t, router, http.MethodGet, "/api/telemetry/AA:BB:CC:55:00:03/online", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var presence struct {
		Online        bool       `json:"online"`
		LastSeen      *time.Time `json:"lastSeen"`
		WindowSeconds int        `json:"windowSeconds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &presence))
	assert.True(t, presence.Online)
	require.NotNil(t, presence.LastSeen)
	assert.Equal(t, 120, presence.WindowSeconds)

	// A never-seen device reads offline, not as an error.
	w = doJSON(t, router, http.MethodGet, "/api/telemetry/AA:BB:CC:55:00:FF/online", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &presence))
	assert.False(t, presence.Online)
	assert.Nil(t, presence.LastSeen)

	// The agent bootstrap read joins the robot record with its clinic's
	// AI config.
	w = doJSON(t, router, http.MethodGet, "/api/agent/aa-bb-cc-55-00-03", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var boot struct {
		Robot    *model.Robot          `json:"robot"`
		AIConfig *model.ClinicAIConfig `json:"aiConfig"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &boot))
	require.NotNil(t, boot.Robot)
	assert.Equal(t, "Lobby Tirilo", boot.Robot.Name)
	require.NotNil(t, boot.AIConfig)
	assert.Equal(t, "neural-pt-br", boot.AIConfig.VoiceEngine)

	// An unknown device is a 404 on bootstrap.
	w = doJSON(t, router, http.MethodGet, "/api/agent/AA:BB:CC:55:00:FE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestKillSwitchVisibleToAgent flips the blocked flag and verifies the
// agent sees it on its next bootstrap read while commands keep flowing.
func TestKillSwitchVisibleToAgent(t *testing.T) {
	_, router := setupTestServer(t, "integration_killswitch")

	w := doJSON(t, router, http.MethodPost, "/api/robots", gin.H{
		"macAddress": "AA:BB:CC:55:00:04",
		"name":       "Blocked Tirilo",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var robot model.Robot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))

	w = doJSON(t, router, http.MethodPost, "/api/robots/"+robot.ID+"/block", gin.H{"blocked": true})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/agent/AA:BB:CC:55:00:04", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var boot struct {
		Robot *model.Robot `json:"robot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &boot))
	require.NotNil(t, boot.Robot)
	assert.True(t, boot.Robot.Blocked)

	// Blocking is enforced at the device edge; the engine still queues
	// commands for a blocked robot.
	w = doJSON(t, router, http.MethodPost, "/api/commands", gin.H{
		"macAddress": "AA:BB:CC:55:00:04",
		"type":       "stop",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

// TestListCacheInvalidatedOnWrite primes the robot list cache and then
// registers a robot. The next list read must show the new robot right away
// rather than replaying the cached empty list until the TTL runs out.
func TestListCacheInvalidatedOnWrite(t *testing.T) {
	_, router := setupTestServer(t, "integration_cache")

	w := doJSON(t, router, http.MethodGet, "/api/robots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var robots []registry.RobotStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robots))
	assert.Empty(t, robots)

	// Warm the cache with a second identical read.
	w = doJSON(t, router, http.MethodGet, "/api/robots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	w = doJSON(t, router, http.MethodPost, "/api/robots", gin.H{
		"macAddress": "AA:BB:CC:55:00:05",
		"name":       "Fresh Tirilo",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/robots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"), "the write must have flushed the cached list")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robots))
	require.Len(t, robots, 1)
	assert.Equal(t, "Fresh Tirilo", robots[0].Name)
}
