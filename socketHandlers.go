package main

import (
	"context"
	"log"
	"log/slog"
	"sync"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"

	"drone-sentry/db"
	"drone-sentry/models"
	"drone-sentry/sentry"
	"drone-sentry/utils"
)

// socketController bridges the detector and the monitor clients: it answers
// socket commands and broadcasts status and detection events. It implements
// sentry.EventSink.
type socketController struct {
	detector *sentry.Detector
	store    db.Client

	mu     sync.RWMutex
	server *socketio.Server
}

func newSocketController(detector *sentry.Detector, store db.Client) *socketController {
	return &socketController{detector: detector, store: store}
}

// attach wires the broadcast server in once it exists.
func (c *socketController) attach(server *socketio.Server) {
	c.mu.Lock()
	c.server = server
	c.mu.Unlock()
}

func (c *socketController) broadcast(event string, payload interface{}) {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		server.BroadcastToNamespace("/", event, payload)
	}
}

// PublishDetection pushes a detection event to every connected client.
func (c *socketController) PublishDetection(detection models.Detection) {
	c.broadcast("detectionAlert", detection)
}

// broadcastStatus pushes the current snapshot to every connected client.
func (c *socketController) broadcastStatus() {
	c.broadcast("status", c.detector.Snapshot())
}

func (c *socketController) emitStatus(socket socketio.Conn) {
	socket.Emit("status", c.detector.Snapshot())
}

func (c *socketController) handleRequestStatus(socket socketio.Conn) {
	c.emitStatus(socket)
}

func (c *socketController) handleSetMuted(socket socketio.Conn, muted bool) {
	log.Printf("setMuted received from %s: %v\n", socket.ID(), muted)
	c.detector.SetMuted(muted)
	c.broadcastStatus()
}

func (c *socketController) handleSetMonitor(socket socketio.Conn, enabled bool) {
	log.Printf("setMonitor received from %s: %v\n", socket.ID(), enabled)
	c.detector.SetMonitor(enabled)
	c.broadcastStatus()
}

func (c *socketController) handleRequestCalibration(socket socketio.Conn) {
	log.Printf("requestCalibration received from %s\n", socket.ID())
	c.detector.RequestCalibration()
	c.emitStatus(socket)
}

func (c *socketController) handleRequestDetections(socket socketio.Conn) {
	logger := utils.GetLogger()
	ctx := context.Background()

	if c.store == nil {
		socket.Emit("detections", []models.Detection{})
		return
	}

	detectionsList, err := c.store.GetAllDetections()
	if err != nil {
		logger.ErrorContext(ctx, "failed to load detections", slog.Any("error", xerrors.New(err)))
		socket.Emit("detections", []models.Detection{})
		return
	}

	socket.Emit("detections", detectionsList)
}
