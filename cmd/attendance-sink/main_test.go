package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func post(e http.Handler, body string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/attendances", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestSinkAcceptsAttendance(t *testing.T) {
	e := newServer(0, func() float64 { return 0.5 })

	assert.Equal(t, http.StatusOK, post(e, `{"device_id":1,"user_id":"7","timestamp":"2024-01-01 09:00:00","status":1}`))
	assert.Equal(t, http.StatusBadRequest, post(e, `{"device_id":1}`))
	assert.Equal(t, http.StatusBadRequest, post(e, `{not json`))
}

func TestSinkSimulatesOutage(t *testing.T) {
	e := newServer(0.5, func() float64 { return 0.1 })

	assert.Equal(t, http.StatusServiceUnavailable, post(e, `{"device_id":1,"user_id":"7","timestamp":"2024-01-01 09:00:00","status":1}`))
}
