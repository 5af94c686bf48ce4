package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mchiang0610/continue/db"
	"github.com/mchiang0610/continue/log"
	"github.com/mchiang0610/continue/session"
)

var sessionsLogger = log.GetLogger("ApiSessions")

// CreateSessionRequest is the body of POST /api/sessions
type CreateSessionRequest struct {
	ControllerID string `json:"controllerId"`
	SessionID    string `json:"sessionId,omitempty"`
}

// PersistedSessionInfo is one entry of GET /api/sessions/persisted.
// Index fields are absent when the snapshot was written by another process
// and has not been indexed.
type PersistedSessionInfo struct {
	ID               string `json:"id"`
	InMemory         bool   `json:"inMemory"`
	Indexed          bool   `json:"indexed"`
	FirstPersistedAt int64  `json:"firstPersistedAt,omitempty"`
	LastPersistedAt  int64  `json:"lastPersistedAt,omitempty"`
	PersistCount     int64  `json:"persistCount,omitempty"`
	SizeBytes        int64  `json:"sizeBytes,omitempty"`
}

func (p *PersistedSessionInfo) fill(row db.PersistedSession) {
	p.Indexed = true
	p.FirstPersistedAt = row.FirstPersistedAt
	p.LastPersistedAt = row.LastPersistedAt
	p.PersistCount = row.PersistCount
	p.SizeBytes = row.SizeBytes
}

// ListSessions handles GET /api/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	RespondList(c, h.server.Sessions().ListSessions(), nil)
}

// CreateSession handles POST /api/sessions.
// The controller must be a connected IDE; it becomes the session's owner.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	if req.ControllerID == "" {
		RespondValidationError(c, "validation failed", []ErrorDetail{
			{Field: "controllerId", Message: "controllerId is required", Code: "required"},
		})
		return
	}

	conn, ok := h.server.IDEHub().Get(req.ControllerID)
	if !ok {
		RespondNotFound(c, "controller "+req.ControllerID+" is not connected")
		return
	}

	s, err := h.server.IDE().OpenGUI(c.Request.Context(), conn, req.SessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	RespondCreated(c, h.server.Sessions().Describe(s), "/api/sessions/"+s.ID)
}

// GetSession handles GET /api/sessions/:id. A persisted session whose
// controller is still bound to it is resumed.
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.server.Sessions().GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondSessionError(c, err)
		return
	}
	RespondData(c, h.server.Sessions().Describe(s))
}

// DeleteSession handles DELETE /api/sessions/:id. The snapshot stays on disk.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.server.Sessions().RemoveSession(c.Request.Context(), c.Param("id")); err != nil {
		respondSessionError(c, err)
		return
	}
	RespondNoContent(c)
}

// PersistSession handles POST /api/sessions/:id/persist
func (h *Handlers) PersistSession(c *gin.Context) {
	if err := h.server.Sessions().PersistSession(c.Request.Context(), c.Param("id")); err != nil {
		respondSessionError(c, err)
		return
	}
	RespondNoContent(c)
}

// ListPersistedSessions handles GET /api/sessions/persisted?limit=&offset=
func (h *Handlers) ListPersistedSessions(c *gin.Context) {
	ids, err := h.server.Sessions().ListPersisted()
	if err != nil {
		respondSessionError(c, err)
		return
	}

	rows, err := h.server.DB().ListPersisted()
	if err != nil {
		// The snapshot files are authoritative; serve them without metadata
		sessionsLogger.Warn().Err(err).Msg("failed to read persisted session index")
		rows = nil
	}
	index := make(map[string]db.PersistedSession, len(rows))
	for _, row := range rows {
		index[row.ID] = row
	}

	inMemory := make(map[string]bool)
	for _, info := range h.server.Sessions().ListSessions() {
		inMemory[info.ID] = true
	}

	items := make([]PersistedSessionInfo, 0, len(ids))
	for _, id := range ids {
		item := PersistedSessionInfo{ID: id, InMemory: inMemory[id]}
		if row, ok := index[id]; ok {
			item.fill(row)
		}
		items = append(items, item)
	}

	limit, offset, ok := parsePage(c)
	if !ok {
		return
	}
	total := len(items)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	RespondList(c, items[offset:end], &Pagination{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
	})
}

// GetPersistedSession handles GET /api/sessions/persisted/:id
func (h *Handlers) GetPersistedSession(c *gin.Context) {
	id := c.Param("id")
	if err := session.ValidateID(id); err != nil {
		respondSessionError(c, err)
		return
	}
	exists, err := h.server.Store().Exists(id)
	if err != nil {
		respondSessionError(c, err)
		return
	}
	if !exists {
		RespondNotFound(c, "no persisted snapshot for "+id)
		return
	}

	_, inMemory := h.server.Sessions().Lookup(id)
	item := PersistedSessionInfo{ID: id, InMemory: inMemory}
	row, err := h.server.DB().GetPersisted(id)
	if err != nil {
		sessionsLogger.Warn().Err(err).Str("sessionId", id).Msg("failed to read persisted session index")
	}
	if row != nil {
		item.fill(*row)
	}
	RespondData(c, item)
}

// DiscardPersistedSession handles DELETE /api/sessions/persisted/:id.
// A running session is left alone.
func (h *Handlers) DiscardPersistedSession(c *gin.Context) {
	if err := h.server.Sessions().DiscardSnapshot(c.Param("id")); err != nil {
		respondSessionError(c, err)
		return
	}
	RespondNoContent(c)
}

// parsePage reads limit and offset. limit 0 means no limit.
func parsePage(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			RespondValidationError(c, "validation failed", []ErrorDetail{
				{Field: "limit", Message: "limit must be a non-negative integer"},
			})
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			RespondValidationError(c, "validation failed", []ErrorDetail{
				{Field: "offset", Message: "offset must be a non-negative integer"},
			})
			return 0, 0, false
		}
	}
	return limit, offset, true
}

// ListControllers handles GET /api/controllers
func (h *Handlers) ListControllers(c *gin.Context) {
	RespondList(c, h.server.IDEHub().IDs(), nil)
}
