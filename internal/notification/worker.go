package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"tirilo-fleet-backend/internal/model"
)

// AlertKind classifies a fleet alert.
type AlertKind string

const (
	// AlertOffline fires on the online -> offline presence edge.
	AlertOffline AlertKind = "offline"
	// AlertReconcile fires when a compound write partially failed and an
	// operator has to reconcile robot and order state by hand.
	AlertReconcile AlertKind = "reconcile"
)

// Alert is one notification job for the worker pool.
type Alert struct {
	RobotID string
	Kind    AlertKind
	Message string
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans fleet alerts out to the operators subscribed to the
// affected robot.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case alert := <-wp.jobs:
			wp.sendAlertsForRobot(ctx, alert)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a job to the worker pool without blocking the caller; if
// the queue is saturated the alert is dropped with a log line, since alerts
// are advisory and the underlying state remains queryable.
func (wp *WorkerPool) Dispatch(alert Alert) {
	select {
	case wp.jobs <- alert:
	default:
		log.Printf("Alert queue full, dropping %s alert for robot %s", alert.Kind, alert.RobotID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

// SetSender replaces the push transport, for testing.
func (wp *WorkerPool) SetSender(s Sender) {
	wp.sender = s
}

// sendAlertsForRobot fetches subscriptions watching the robot and pushes
// the alert to each of them.
func (wp *WorkerPool) sendAlertsForRobot(ctx context.Context, alert Alert) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_robot_mapping srm ON srm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("srm.robot_id = ?", alert.RobotID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for robot %s: %v", alert.RobotID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	message := alert.Message
	if message == "" {
		var robot model.Robot
		label := alert.RobotID
		if err := wp.db.WithContext(ctx).Select("name").Where("id = ?", alert.RobotID).First(&robot).Error; err != nil {
			log.Printf("Error fetching robot %s: %v", alert.RobotID, err)
		} else if robot.Name != "" {
			label = robot.Name
		}
		switch alert.Kind {
		case AlertOffline:
			message = fmt.Sprintf("Robot %s stopped reporting telemetry", label)
		case AlertReconcile:
			message = fmt.Sprintf("Robot %s needs manual reconciliation", label)
		}
	}

	log.Printf("Sending %d %s alerts for robot %s", len(subscriptions), alert.Kind, alert.RobotID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
