package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"sapo/internal/core"
	"sapo/internal/log"
)

// SnapshotVersion is written into every export.
const SnapshotVersion = "1.0"

// Snapshot is the export file format.
type Snapshot struct {
	Transactions  []core.Transaction  `json:"transactions"`
	Investments   []core.Investment   `json:"investments"`
	MaterialGoods []core.MaterialGood `json:"materialGoods"`
	ExportDate    time.Time           `json:"exportDate"`
	Version       string              `json:"version"`
}

// snapshotFile is the import side of Snapshot. A nil field means the
// collection was absent (or null) in the file and must be left alone.
type snapshotFile struct {
	Transactions  *[]core.Transaction  `json:"transactions"`
	Investments   *[]core.Investment   `json:"investments"`
	MaterialGoods *[]core.MaterialGood `json:"materialGoods"`
}

// BackupFilename returns the conventional name of an export taken at now.
func BackupFilename(now time.Time) string {
	return "sapo-tracker-backup-" + now.Format(core.DateFormat) + ".json"
}

// ExportSnapshot captures the current state. Nothing is written.
func (l *Ledger) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	txs, invs, goods, err := l.all(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Transactions:  txs,
		Investments:   invs,
		MaterialGoods: goods,
		ExportDate:    l.Now().UTC(),
		Version:       SnapshotVersion,
	}, nil
}

// WriteSnapshot exports the ledger as indented JSON.
func (l *Ledger) WriteSnapshot(ctx context.Context, w io.Writer) error {
	snap, err := l.ExportSnapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	l.logger.InfoContext(ctx, "Snapshot exported",
		log.FieldOperation, log.OpExport,
		"transactions", len(snap.Transactions),
		"investments", len(snap.Investments),
		"material_goods", len(snap.MaterialGoods))
	return nil
}

// ImportSnapshot replaces every collection present in data and returns the
// ones it replaced. A file that does not decode yields *core.ParseError and
// nothing is written.
func (l *Ledger) ImportSnapshot(ctx context.Context, data []byte) ([]Collection, error) {
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &core.ParseError{Source: "snapshot", Err: err}
	}

	var replaced []Collection
	if file.Transactions != nil {
		if err := save(ctx, l, Transactions, *file.Transactions); err != nil {
			return replaced, err
		}
		replaced = append(replaced, Transactions)
	}
	if file.Investments != nil {
		if err := save(ctx, l, Investments, *file.Investments); err != nil {
			return replaced, err
		}
		replaced = append(replaced, Investments)
	}
	if file.MaterialGoods != nil {
		if err := save(ctx, l, MaterialGoods, *file.MaterialGoods); err != nil {
			return replaced, err
		}
		replaced = append(replaced, MaterialGoods)
	}

	l.logger.InfoContext(ctx, "Snapshot imported",
		log.FieldOperation, log.OpImport,
		"collections", fmt.Sprint(replaced))
	return replaced, nil
}
