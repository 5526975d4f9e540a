package journal

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// Writer records orders that reached a terminal status into the local
// order journal. The journal is an audit trail; failures are logged and
// surfaced but never interfere with subscription delivery.
type Writer struct {
	db      *pgxpool.Pool
	logger  *zap.Logger
	service string
}

// NewWriter constructs a journal writer. service identifies the SDK consumer
// writing the record.
func NewWriter(db *pgxpool.Pool, logger *zap.Logger, service string) *Writer {
	return &Writer{
		db:      db,
		logger:  logger,
		service: service,
	}
}

// RecordTerminal inserts or updates the journal row for a terminal order.
func (w *Writer) RecordTerminal(ctx context.Context, order *model.Order) error {
	if order == nil {
		return nil
	}

	const query = `
		INSERT INTO sdk.t_order_journal (
			s_id_order,
			s_id_account,
			s_symbol,
			s_instrument_type,
			s_side,
			s_status,
			s_type,
			dec_quantity,
			dec_filled_quantity,
			dec_average_price,
			s_reject_reason,
			dt_created,
			dt_updated,
			s_service
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (s_id_order)
		DO UPDATE SET
			s_status = EXCLUDED.s_status,
			dec_filled_quantity = EXCLUDED.dec_filled_quantity,
			dec_average_price = EXCLUDED.dec_average_price,
			s_reject_reason = EXCLUDED.s_reject_reason,
			dt_updated = EXCLUDED.dt_updated;
	`

	_, err := w.db.Exec(ctx, query,
		order.OrderID,
		order.AccountID,
		order.Instrument.Symbol,
		order.Instrument.Type,
		order.Side,
		order.Status,
		order.Type,
		order.Quantity,
		order.FilledQuantity,
		order.AveragePrice,
		order.RejectReason,
		order.CreatedAt,
		order.UpdatedAt,
		w.service,
	)
	if err != nil {
		w.logger.Error("journal.record_failed",
			zap.String("order_id", order.OrderID),
			zap.String("account_id", order.AccountID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Info("journal.terminal_order_recorded",
		zap.String("order_id", order.OrderID),
		zap.String("status", string(order.Status)),
		zap.String("symbol", order.Instrument.Symbol),
	)
	return nil
}
