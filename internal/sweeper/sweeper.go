// Package sweeper is the engine's only background loop. Each cycle it
// requeues dispatched commands whose visibility timeout elapsed without an
// ack, and walks the fleet's presence to alert operators on the
// online -> offline edge.
package sweeper

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"tirilo-fleet-backend/config"
	"tirilo-fleet-backend/internal/cmdqueue"
	"tirilo-fleet-backend/internal/model"
	"tirilo-fleet-backend/internal/notification"
	"tirilo-fleet-backend/internal/telemetry"
)

// Service runs the periodic sweep.
type Service struct {
	cfg       *config.Config
	db        *gorm.DB
	queue     *cmdqueue.Queue
	telemetry *telemetry.Store
	pool      *notification.WorkerPool

	// online is the presence observed in the previous cycle, keyed by
	// robot id. The first cycle only primes it so a restart does not
	// fire an alert for every robot that was already offline.
	online map[string]bool
	primed bool
}

// NewService creates the sweeper. pool may be nil to disable alerts.
func NewService(cfg *config.Config, db *gorm.DB, queue *cmdqueue.Queue, tel *telemetry.Store, pool *notification.WorkerPool) *Service {
	return &Service{
		cfg:       cfg,
		db:        db,
		queue:     queue,
		telemetry: tel,
		pool:      pool,
		online:    make(map[string]bool),
	}
}

// Run executes sweep cycles until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Println("Starting sweeper service...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Queue.SweepInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper service shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Queue.SweepInterval)
		}
	}
}

// SweepOnce performs a single sweep cycle.
func (s *Service) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	requeued, err := s.queue.RequeueExpired(ctx, s.cfg.Queue.VisibilityTimeout, now)
	if err != nil {
		log.Printf("Error requeueing expired commands: %v", err)
	} else if requeued > 0 {
		log.Printf("Requeued %d commands stuck in dispatched for over %s", requeued, s.cfg.Queue.VisibilityTimeout)
	}

	s.sweepPresence(ctx, now)
}

func (s *Service) sweepPresence(ctx context.Context, now time.Time) {
	var robots []model.Robot
	if err := s.db.WithContext(ctx).Find(&robots).Error; err != nil {
		log.Printf("Error listing robots for presence sweep: %v", err)
		return
	}

	current := make(map[string]bool, len(robots))
	for _, robot := range robots {
		online, _, err := s.telemetry.IsOnline(ctx, robot.MACAddress, s.cfg.Presence.Window, now)
		if err != nil {
			log.Printf("Error deriving presence for %s: %v", robot.MACAddress, err)
			continue
		}
		current[robot.ID] = online

		if s.primed && s.online[robot.ID] && !online && s.pool != nil {
			log.Printf("Robot %s (%s) went offline", robot.ID, robot.MACAddress)
			s.pool.Dispatch(notification.Alert{
				RobotID: robot.ID,
				Kind:    notification.AlertOffline,
			})
		}
	}

	s.online = current
	s.primed = true
}
