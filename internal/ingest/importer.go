package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// ImportResult summarizes one import.
type ImportResult struct {
	Parsed   int
	Inserted int
	Skipped  int
}

// Importer loads parsed transactions into the engine's read model.
// Re-importing the same file is a no-op: already-known transaction ids are
// skipped, never overwritten.
type Importer struct {
	storage service.Storage
	auditor service.AuditLogger
}

// NewImporter creates a transaction importer.
func NewImporter(storage service.Storage, auditor service.AuditLogger) *Importer {
	return &Importer{storage: storage, auditor: auditor}
}

// ImportFile imports the transaction CSV at path.
func (i *Importer) ImportFile(ctx context.Context, path, actorID string) (*ImportResult, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	result, err := i.Import(ctx, f, actorID)
	if err != nil {
		return nil, err
	}

	i.auditor.Log(ctx, path, model.EntityTransaction, "import", actorID, map[string]any{
		"parsed":   result.Parsed,
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
	})

	return result, nil
}

// Import parses and stores transactions from r.
func (i *Importer) Import(ctx context.Context, r io.Reader, actorID string) (*ImportResult, error) {
	transactions, err := ParseTransactionsCSV(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transactions: %w", err)
	}
	if len(transactions) == 0 {
		return &ImportResult{}, nil
	}

	inserted, err := i.storage.SaveTransactions(ctx, transactions)
	if err != nil {
		return nil, fmt.Errorf("failed to store transactions: %w", err)
	}

	result := &ImportResult{
		Parsed:   len(transactions),
		Inserted: inserted,
		Skipped:  len(transactions) - inserted,
	}

	slog.Info("Imported transactions",
		"parsed", result.Parsed,
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"actor", actorID)

	return result, nil
}
