// internal/di/container.go
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"attendance-relay/internal/api"
	"attendance-relay/internal/config"
	"attendance-relay/internal/database"
	"attendance-relay/internal/delivery"
	"attendance-relay/internal/device"
	"attendance-relay/internal/driver"
	"attendance-relay/internal/models"
	"attendance-relay/internal/redis"
	"attendance-relay/internal/session"
	"attendance-relay/internal/store"
	"attendance-relay/internal/supervisor"
	"attendance-relay/internal/transport"
	"attendance-relay/internal/utils"
	"attendance-relay/internal/zkteco"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// recentLogTTL bounds how long a quiet device's mirrored recent logs live.
const recentLogTTL = 24 * time.Hour

// Container 의존성 주입 컨테이너
type Container struct {
	Config  *config.Config
	Devices []models.Device

	// Core Services
	Store    *store.FailedEventStore
	Delivery *delivery.Client
	Index    *session.RecentLogIndex

	// Optional sinks
	DB    *gorm.DB
	Redis *goredis.Client

	Supervisor *supervisor.Supervisor
	APIServer  *http.Server

	recorders session.Recorders
	mirror    session.Mirror
}

// NewContainer 새로운 컨테이너 생성
func NewContainer(cfg *config.Config) (*Container, error) {
	return newContainer(cfg, zkteco.NewDriver())
}

func newContainer(cfg *config.Config, drv driver.Driver) (*Container, error) {
	c := &Container{Config: cfg}

	// 1. 핵심 서비스들 초기화
	if err := c.initCoreServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to init core services: %w", err)
	}

	// 2. 인프라 서비스들 초기화 (실패해도 계속 진행)
	c.initInfraServices(cfg)

	// 3. 장치 세션 초기화
	c.initSessions(cfg, drv)

	// 4. 조회 API 초기화
	if cfg.HTTPAddr != "" {
		c.APIServer = api.NewServer(cfg.HTTPAddr, api.NewHandler(c.Supervisor, c.Store))
	}

	return c, nil
}

// initCoreServices 핵심 서비스들 초기화
func (c *Container) initCoreServices(cfg *config.Config) error {
	failed, err := store.NewFailedEventStore(cfg.FailedLogsFile)
	if err != nil {
		return err
	}
	c.Store = failed

	mt, destination, err := transport.New(cfg)
	if err != nil {
		return err
	}
	c.Delivery = delivery.NewClient(mt, destination, cfg.DeliveryTimeout)

	utils.Logger.WithFields(logrus.Fields{
		"transport":   mt.GetTransportType(),
		"destination": destination,
		"failed_logs": failed.Path(),
	}).Info("Delivery configured")
	return nil
}

// initInfraServices 인프라 서비스들 초기화
func (c *Container) initInfraServices(cfg *config.Config) {
	if cfg.DBHost != "" {
		db, err := database.NewPostgresDB(cfg)
		if err != nil {
			utils.Logger.WithError(err).Warn("Database unavailable, status history disabled")
		} else {
			c.DB = db
			c.recorders = append(c.recorders, device.NewStatusManager(db))
		}
	}

	if cfg.RedisHost != "" {
		client, err := redis.NewRedisClient(cfg)
		if err != nil {
			utils.Logger.WithError(err).Warn("Redis unavailable, recent log mirror disabled")
		} else {
			c.Redis = client
			c.mirror = redis.NewRecentLogMirror(client, recentLogTTL)
			c.recorders = append(c.recorders, redis.NewStatusPublisher(client))
		}
	}
}

// initSessions builds one session per configured device. A devices file that
// cannot be loaded yields an empty fleet.
func (c *Container) initSessions(cfg *config.Config, drv driver.Driver) {
	devices, err := device.LoadDevices(cfg.DevicesFile)
	if err != nil {
		utils.Logger.WithError(err).Error("Load devices error")
		devices = nil
	}
	c.Devices = devices

	c.Index = session.NewRecentLogIndex(cfg.RecentLogLimit, c.mirror)

	opts := session.Options{
		Port:             cfg.DevicePort,
		ConnectTimeout:   cfg.ConnectTimeout,
		CaptureTimeout:   cfg.CaptureTimeout,
		IdleBackoff:      cfg.IdleBackoff,
		PollInterval:     cfg.PollInterval,
		ReconnectBackoff: cfg.ReconnectBackoff,
	}

	var recorder session.StatusRecorder
	if len(c.recorders) > 0 {
		recorder = c.recorders
	}

	sessions := make([]supervisor.Session, 0, len(devices))
	for _, d := range devices {
		sessions = append(sessions, session.New(d, session.Deps{
			Driver:   drv,
			Sender:   c.Delivery,
			Queue:    c.Store,
			Index:    c.Index,
			Recorder: recorder,
		}, opts))
	}

	c.Supervisor = supervisor.New(sessions, supervisor.Options{SweepInterval: cfg.SweepInterval})
	utils.Logger.WithField("devices", len(devices)).Info("Device sessions created")
}

// Start 장치 세션, 재전송 스윕, 조회 API 시작
func (c *Container) Start(ctx context.Context) {
	if c.APIServer != nil {
		go func() {
			utils.Logger.WithField("addr", c.APIServer.Addr).Info("Starting HTTP server")
			if err := c.APIServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				utils.Logger.WithError(err).Error("HTTP server failed")
			}
		}()
	}

	c.Supervisor.Start(ctx)
}

// Shutdown disconnects every device, waits up to timeout for the capture
// loops to return, and releases the remaining resources. The caller cancels
// the context given to Start first.
func (c *Container) Shutdown(timeout time.Duration) {
	utils.Logger.Info("Shutting down gracefully...")

	supervisor.Shutdown(c.Supervisor.Sessions())
	if !c.Supervisor.Wait(timeout) {
		utils.Logger.Warn("Capture loops did not stop in time")
	}

	if c.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := c.APIServer.Shutdown(ctx); err != nil {
			utils.Logger.WithError(err).Warn("HTTP server shutdown error")
		}
		cancel()
	}

	c.Cleanup()
}

// Cleanup 리소스 정리
func (c *Container) Cleanup() {
	if c.Delivery != nil {
		if err := c.Delivery.Close(); err != nil {
			utils.Logger.WithError(err).Warn("Delivery transport close failed")
		}
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	utils.Logger.Info("Container cleanup completed")
}
