// cmd/attendance-sink/main.go is a stand-in for the upstream attendance API.
// FAIL_RATE (0..1) rejects that share of requests with 503 so the relay's
// failed-log path can be exercised.
package main

import (
	"math/rand"
	"net/http"
	"os"
	"strconv"

	"attendance-relay/internal/delivery"
	"attendance-relay/internal/utils"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	godotenv.Load()
	utils.SetupLogger(getEnv("LOG_LEVEL", "info"))

	failRate, err := strconv.ParseFloat(getEnv("FAIL_RATE", "0"), 64)
	if err != nil || failRate < 0 || failRate > 1 {
		utils.Logger.Fatalf("FAIL_RATE must be between 0 and 1, got %q", os.Getenv("FAIL_RATE"))
	}

	e := newServer(failRate, rand.Float64)

	addr := getEnv("SINK_ADDR", ":8000")
	utils.Logger.WithFields(logrus.Fields{"addr": addr, "fail_rate": failRate}).Info("Attendance sink listening")
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		utils.Logger.WithError(err).Fatal("Attendance sink failed")
	}
}

func newServer(failRate float64, roll func() float64) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.POST("/api/attendances", func(c echo.Context) error {
		var payload delivery.Payload
		if err := c.Bind(&payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
		if payload.UserID == "" || payload.Timestamp == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "user_id and timestamp are required")
		}

		entry := utils.Logger.WithFields(logrus.Fields{
			"request_id": c.Request().Header.Get("X-Request-ID"),
			"device_id":  payload.DeviceID,
			"user_id":    payload.UserID,
			"timestamp":  payload.Timestamp,
			"status":     payload.Status,
		})

		if roll() < failRate {
			entry.Warn("Rejecting attendance")
			return echo.NewHTTPError(http.StatusServiceUnavailable, "simulated outage")
		}

		entry.Info("Attendance received")
		return c.JSON(http.StatusOK, map[string]string{"result": "ok"})
	})

	return e
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
