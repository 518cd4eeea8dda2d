package sheets

import (
	"context"
	"sync"

	"github.com/davidbanez/park-angel-settlement/internal/report"
)

// MockExporter is a mock implementation of ReportExporter for testing.
type MockExporter struct {
	ExportFunc      func(ctx context.Context, r *report.SettlementReport) error
	LastReport      *report.SettlementReport
	ExportCallCount int
	mu              sync.Mutex
}

// NewMockExporter creates a new mock exporter.
func NewMockExporter() *MockExporter {
	return &MockExporter{}
}

// Export implements the ReportExporter interface.
func (m *MockExporter) Export(ctx context.Context, r *report.SettlementReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExportCallCount++
	m.LastReport = r

	if m.ExportFunc != nil {
		return m.ExportFunc(ctx, r)
	}
	return nil
}

// Reset clears all recorded calls.
func (m *MockExporter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExportCallCount = 0
	m.LastReport = nil
}
