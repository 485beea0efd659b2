package collections

import (
	"encoding/json"
	"errors"
	"time"

	"sync-bridge/core/logger"
	"sync-bridge/core/mirror"
	"sync-bridge/core/utils"
	"sync-bridge/feature/collections/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the mirrored collections.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the collection routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/collections")
	group.Get("/", h.HandleListCollections)
	group.Get("/:table", h.HandleGetSnapshot)
	group.Get("/:table/records/:key", h.HandleGetRecord)
	group.Post("/:table/records", h.HandleInsertRecords)
	group.Put("/:table/records", h.HandleUpdateRecords)
	group.Delete("/:table/records", h.HandleDeleteRecords)
	group.Post("/:table/refetch", h.HandleRefetch)
	group.Post("/:table/await", h.HandleAwait)
}

// session resolves the :table parameter. On a miss the 404 response is
// already written; callers just return the error.
func (h *Handler) session(c *fiber.Ctx) (*mirror.Session, error) {
	table := c.Params("table")
	sess, ok := h.service.Session(table)
	if !ok {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown collection: " + table,
		})
	}
	return sess, nil
}

// HandleListCollections returns the stats of every running session.
// @Summary List Collections
// @Description List every mirrored collection with its sync state and counters.
// @Tags collections
// @Produce json
// @Success 200 {array} mirror.Stats "Session stats"
// @Router /collections [get]
func (h *Handler) HandleListCollections(c *fiber.Ctx) error {
	return c.JSON(h.service.Summaries())
}

// HandleGetSnapshot returns the full reactive view of one collection.
// @Summary Get Collection Snapshot
// @Description Get the current reactive view of a mirrored table. Pass pretty=1 for indented JSON.
// @Tags collections
// @Produce json
// @Param table path string true "Mirrored table name"
// @Param pretty query bool false "Indent the response"
// @Success 200 {object} models.SnapshotResponse "Snapshot"
// @Failure 404 {object} map[string]string "Unknown collection"
// @Router /collections/{table} [get]
func (h *Handler) HandleGetSnapshot(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}

	coll := sess.Collection()
	resp := models.SnapshotResponse{
		Table: sess.Table(),
		Ready: coll.Ready(),
		Rows:  coll.Snapshot(),
	}
	resp.Records = len(resp.Rows)

	if utils.ToBool(c.Query("pretty")) {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(out)
	}
	return c.JSON(resp)
}

// HandleGetRecord returns a single record from the reactive view.
// @Summary Get Record
// @Description Get one record of a mirrored table by key.
// @Tags collections
// @Produce json
// @Param table path string true "Mirrored table name"
// @Param key path string true "Record key"
// @Success 200 {object} models.RecordResponse "Record"
// @Failure 404 {object} map[string]string "Unknown collection or key"
// @Router /collections/{table}/records/{key} [get]
func (h *Handler) HandleGetRecord(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}

	key := c.Params("key")
	payload, ok := sess.Collection().Get(key)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown key: " + key,
		})
	}
	return c.JSON(models.RecordResponse{Key: key, Payload: payload})
}

// HandleInsertRecords persists a batch of new records.
// @Summary Insert Records
// @Description Insert a batch of records in one transaction and apply them to the view.
// @Tags collections
// @Accept json
// @Produce json
// @Param batch body []models.Mutation true "Records to insert (key + payload)"
// @Success 200 {object} models.MutationResponse "Batch accepted"
// @Failure 400 {object} map[string]string "Malformed body"
// @Failure 500 {object} map[string]string "Transaction failed"
// @Router /collections/{table}/records [post]
func (h *Handler) HandleInsertRecords(c *fiber.Ctx) error {
	return h.handleMutation(c, "insert")
}

// HandleUpdateRecords persists a batch of record updates using the
// session's update mode.
// @Summary Update Records
// @Description Update a batch of records in one transaction. Replace-mode sessions take payload, merge-mode sessions take changes.
// @Tags collections
// @Accept json
// @Produce json
// @Param batch body []models.Mutation true "Records to update"
// @Success 200 {object} models.MutationResponse "Batch accepted"
// @Failure 400 {object} map[string]string "Malformed body"
// @Failure 500 {object} map[string]string "Transaction failed"
// @Router /collections/{table}/records [put]
func (h *Handler) HandleUpdateRecords(c *fiber.Ctx) error {
	return h.handleMutation(c, "update")
}

// HandleDeleteRecords removes a batch of records.
// @Summary Delete Records
// @Description Delete a batch of records in one transaction and drop them from the view.
// @Tags collections
// @Accept json
// @Produce json
// @Param batch body []models.Mutation true "Records to delete (key only)"
// @Success 200 {object} models.MutationResponse "Batch accepted"
// @Failure 400 {object} map[string]string "Malformed body"
// @Failure 500 {object} map[string]string "Transaction failed"
// @Router /collections/{table}/records [delete]
func (h *Handler) HandleDeleteRecords(c *fiber.Ctx) error {
	return h.handleMutation(c, "delete")
}

func (h *Handler) handleMutation(c *fiber.Ctx, kind string) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	l := logger.WithRayID(h.service.logger, c)

	var body []models.Mutation
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "malformed mutation batch: " + err.Error(),
		})
	}

	muts := make([]mirror.Mutation, 0, len(body))
	for _, m := range body {
		muts = append(muts, mirror.Mutation{Key: m.Key, Payload: m.Payload, Changes: m.Changes})
	}

	ctx := c.Context()
	switch kind {
	case "insert":
		err = sess.OnInsert(ctx, muts)
	case "update":
		err = sess.OnUpdate(ctx, muts)
	default:
		err = sess.OnDelete(ctx, muts)
	}
	if err != nil {
		if errors.Is(err, mirror.ErrStopped) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		l.Error("Mutation batch failed",
			zap.String("table", sess.Table()),
			zap.String("kind", kind),
			zap.Int("size", len(muts)),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(models.MutationResponse{Count: len(muts)})
}

// HandleRefetch runs a manual reconciliation pass against the engine.
// @Summary Refetch Collection
// @Description Re-scan the storage table and reconcile the reactive view against it.
// @Tags collections
// @Produce json
// @Param table path string true "Mirrored table name"
// @Success 200 {object} models.RefetchResponse "Pass finished"
// @Failure 404 {object} map[string]string "Unknown collection"
// @Failure 500 {object} map[string]string "Pass failed"
// @Router /collections/{table}/refetch [post]
func (h *Handler) HandleRefetch(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	l := logger.WithRayID(h.service.logger, c)

	if err := sess.Refetch(c.Context()); err != nil {
		if errors.Is(err, mirror.ErrStopped) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		l.Error("Manual refetch failed",
			zap.String("table", sess.Table()),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(models.RefetchResponse{
		Table:   sess.Table(),
		Records: sess.Collection().Len(),
	})
}

// HandleAwait blocks until the given keys have entered the reactive view.
// @Summary Await Keys
// @Description Wait until every listed key has been observed entering the view, or time out.
// @Tags collections
// @Accept json
// @Produce json
// @Param request body models.AwaitRequest true "Keys and optional timeout"
// @Success 200 {object} models.AwaitResponse "All keys observed"
// @Failure 400 {object} map[string]string "Malformed body"
// @Failure 408 {object} map[string]string "Timed out"
// @Router /collections/{table}/await [post]
func (h *Handler) HandleAwait(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}

	var req models.AwaitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "malformed await request: " + err.Error(),
		})
	}
	if len(req.Keys) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "await request has no keys",
		})
	}

	timeout := time.Duration(utils.ToInt(req.TimeoutMS)) * time.Millisecond
	if timeout <= 0 {
		timeout = h.service.AwaitTimeout()
	}

	if err := sess.Await(c.Context(), req.Keys, timeout); err != nil {
		if errors.Is(err, mirror.ErrAwaitTimeout) {
			return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{"error": err.Error()})
		}
		if errors.Is(err, mirror.ErrStopped) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(models.AwaitResponse{Observed: req.Keys})
}
