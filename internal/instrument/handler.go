package instrument

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"automation-core/internal/store"
)

const eventSelect = "SELECT id, trace_id, span_id, parent_span_id, event_type, source, component, action, entity, record_id, duration_ms, status, metadata, created_at FROM _events"

// EventHandler exposes REST endpoints for querying stored events.
type EventHandler struct {
	store *store.Store
}

func NewEventHandler(s *store.Store) *EventHandler {
	return &EventHandler{store: s}
}

// List handles GET /api/_events with optional source, component, action,
// event_type, trace_id and status filters.
func (h *EventHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pb := h.store.Dialect.NewParamBuilder()

	var conditions []string
	for _, col := range []string{"source", "component", "action", "event_type", "trace_id", "status"} {
		if v := c.Query(col); v != "" {
			conditions = append(conditions, fmt.Sprintf("%s = %s", col, pb.Add(v)))
		}
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 100 {
		perPage = 100
	}

	orderBy := "created_at DESC"
	if c.Query("sort") == "created_at" {
		orderBy = "created_at ASC"
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countRows, err := store.QueryRows(ctx, h.store.DB, "SELECT COUNT(*) AS count FROM _events"+whereClause, pb.Params()...)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	total := 0
	if len(countRows) > 0 {
		total = toInt(countRows[0]["count"])
	}

	dataSQL := fmt.Sprintf("%s%s ORDER BY %s LIMIT %s OFFSET %s",
		eventSelect, whereClause, orderBy, pb.Add(perPage), pb.Add((page-1)*perPage))
	rows, err := store.QueryRows(ctx, h.store.DB, dataSQL, pb.Params()...)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"pagination": fiber.Map{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTrace handles GET /api/_events/trace/:traceId and returns every span
// of one trace in start order.
func (h *EventHandler) GetTrace(c *fiber.Ctx) error {
	traceID := c.Params("traceId")
	pb := h.store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(c.UserContext(), h.store.DB,
		fmt.Sprintf("%s WHERE trace_id = %s ORDER BY created_at ASC", eventSelect, pb.Add(traceID)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("get trace: %w", err)
	}
	if len(rows) == 0 {
		return c.Status(404).JSON(fiber.Map{"error": fiber.Map{"code": "NOT_FOUND", "message": "Trace not found: " + traceID}})
	}

	var totalDurationMs any
	for _, row := range rows {
		if row["parent_span_id"] == nil {
			totalDurationMs = row["duration_ms"]
			break
		}
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"trace_id":          traceID,
			"spans":             rows,
			"total_duration_ms": totalDurationMs,
		},
	})
}

// toInt safely converts various numeric types to int.
func toInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		n, _ := strconv.Atoi(val)
		return n
	default:
		return 0
	}
}
