package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockMetricsRecorder is a mock implementation of out.MetricsRecorder.
type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) RecordRun(operation string, success bool, duration time.Duration) {
	m.Called(operation, success, duration)
}

func (m *MockMetricsRecorder) RecordRollback(success bool) {
	m.Called(success)
}

func (m *MockMetricsRecorder) RecordSignatures(action string, count int) {
	m.Called(action, count)
}
