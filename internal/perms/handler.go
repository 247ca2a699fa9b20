package perms

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/citadel-pam/citadel/internal/platform/httpx"
)

// TaskEnqueuer schedules background work after administrative operations.
// A nil enqueuer disables scheduling.
type TaskEnqueuer interface {
	EnqueueCacheExpire(ctx context.Context) error
}

// Handler exposes the engine's query surface over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	enqueuer  TaskEnqueuer
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, enqueuer TaskEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

// MountRoutes registers the permission query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/nodes", h.listNodes)
		r.Get("/nodes/children", h.listNodeChildren)
		r.Get("/nodes/children/tree", h.listNodeChildrenTree)
		r.Get("/nodes/{nodeID}/assets", h.listNodeAssets)
		r.Get("/assets", h.listAssets)
		r.Get("/assets/{assetID}/system-users", h.listAssetSystemUsers)
	})
	r.Get("/validate", h.validatePermission)
	r.Get("/actions", h.getActions)
	r.Post("/cache/refresh", h.refreshCache)
}

func (h *Handler) listNodes(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	policy := ParseCachePolicy(r.URL.Query().Get("cache_policy"))
	nodes, err := h.service.GetNodes(r.Context(), userID, policy)
	if err != nil {
		h.respondError(w, "list granted nodes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	q := r.URL.Query()
	filter := AssetFilter{
		Hostname: q.Get("hostname"),
		IP:       q.Get("ip"),
		Subtree:  boolParam(q.Get("all")),
	}
	if raw := q.Get("node"); raw != "" {
		nodeID, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", "node must be a valid uuid")
			return
		}
		filter.NodeID = nodeID
	}
	policy := ParseCachePolicy(q.Get("cache_policy"))
	grants, err := h.service.GetAssets(r.Context(), userID, filter, policy)
	if err != nil {
		h.respondError(w, "list granted assets", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assetViews(grants))
}

func (h *Handler) listNodeAssets(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	nodeID, err := pathUUID(r, "nodeID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	q := r.URL.Query()
	policy := ParseCachePolicy(q.Get("cache_policy"))
	grants, err := h.service.GetNodeAssets(r.Context(), userID, nodeID, boolParam(q.Get("all")), policy)
	if err != nil {
		h.respondError(w, "list node assets", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assetViews(grants))
}

func (h *Handler) listNodeChildren(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	q := r.URL.Query()
	var nodeID uuid.UUID
	if raw := q.Get("id"); raw != "" {
		nodeID, err = uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", "id must be a valid uuid")
			return
		}
	}
	policy := ParseCachePolicy(q.Get("cache_policy"))
	children, _, err := h.service.NodeChildren(r.Context(), userID, q.Get("key"), nodeID, policy)
	if err != nil {
		h.respondError(w, "list node children", err)
		return
	}
	nodes := make([]Node, 0, len(children))
	for _, child := range children {
		nodes = append(nodes, child.Node)
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) listNodeChildrenTree(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	q := r.URL.Query()
	var nodeID uuid.UUID
	if raw := q.Get("id"); raw != "" {
		nodeID, err = uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", "id must be a valid uuid")
			return
		}
	}
	policy := ParseCachePolicy(q.Get("cache_policy"))
	views, err := h.service.NodeChildrenTree(r.Context(), userID, q.Get("key"), nodeID, boolParam(q.Get("assets")), policy)
	if err != nil {
		h.respondError(w, "materialize node tree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) listAssetSystemUsers(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	assetID, err := pathUUID(r, "assetID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", err.Error())
		return
	}
	policy := ParseCachePolicy(r.URL.Query().Get("cache_policy"))
	sysUsers, err := h.service.GetAssetSystemUsers(r.Context(), userID, assetID, policy)
	if err != nil {
		h.respondError(w, "list asset system users", err)
		return
	}
	views := make([]systemUserView, 0, len(sysUsers))
	for _, su := range sysUsers {
		views = append(views, newSystemUserView(su))
	}
	httpx.JSON(w, http.StatusOK, views)
}

type permissionQuery struct {
	UserID       string `validate:"required,uuid"`
	AssetID      string `validate:"required,uuid"`
	SystemUserID string `validate:"required,uuid"`
	ActionName   string
	CachePolicy  string
}

func (h *Handler) parsePermissionQuery(r *http.Request) (permissionQuery, error) {
	q := r.URL.Query()
	pq := permissionQuery{
		UserID:       q.Get("user_id"),
		AssetID:      q.Get("asset_id"),
		SystemUserID: q.Get("system_user_id"),
		ActionName:   q.Get("action_name"),
		CachePolicy:  q.Get("cache_policy"),
	}
	if err := h.validator.Struct(pq); err != nil {
		return pq, err
	}
	return pq, nil
}

func (h *Handler) validatePermission(w http.ResponseWriter, r *http.Request) {
	pq, err := h.parsePermissionQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "user_id, asset_id and system_user_id must be valid uuids")
		return
	}
	ok, err := h.service.ValidateAssetPermission(
		r.Context(),
		uuid.MustParse(pq.UserID),
		uuid.MustParse(pq.AssetID),
		uuid.MustParse(pq.SystemUserID),
		pq.ActionName,
		ParseCachePolicy(pq.CachePolicy),
	)
	if err != nil {
		h.respondError(w, "validate asset permission", err)
		return
	}
	if !ok {
		httpx.JSON(w, http.StatusForbidden, map[string]bool{"msg": false})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"msg": true})
}

func (h *Handler) getActions(w http.ResponseWriter, r *http.Request) {
	pq, err := h.parsePermissionQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "user_id, asset_id and system_user_id must be valid uuids")
		return
	}
	actions, err := h.service.AssetActions(
		r.Context(),
		uuid.MustParse(pq.UserID),
		uuid.MustParse(pq.AssetID),
		uuid.MustParse(pq.SystemUserID),
		ParseCachePolicy(pq.CachePolicy),
	)
	if err != nil {
		h.respondError(w, "get asset actions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"actions":         actions,
		"actions_display": actions.Names(),
	})
}

func (h *Handler) refreshCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ExpireAllCache(r.Context()); err != nil {
		h.respondError(w, "expire permission cache", err)
		return
	}
	if h.enqueuer != nil {
		if err := h.enqueuer.EnqueueCacheExpire(r.Context()); err != nil {
			h.logger.Warn("enqueue cache expire broadcast", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"msg": true})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

type assetView struct {
	ID          uuid.UUID           `json:"id"`
	Hostname    string              `json:"hostname"`
	IP          string              `json:"ip"`
	SystemUsers map[string][]string `json:"system_users"`
}

func assetViews(grants []AssetGrant) []assetView {
	views := make([]assetView, 0, len(grants))
	for _, grant := range grants {
		su := make(map[string][]string, len(grant.SystemUsers))
		for id, actions := range grant.SystemUsers {
			su[id.String()] = actions.Names()
		}
		views = append(views, assetView{
			ID:          grant.Asset.ID,
			Hostname:    grant.Asset.Hostname,
			IP:          grant.Asset.IP,
			SystemUsers: su,
		})
	}
	return views
}

type systemUserView struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Priority int       `json:"priority"`
	Actions  []string  `json:"actions"`
}

func newSystemUserView(su SystemUserActions) systemUserView {
	return systemUserView{
		ID:       su.SystemUser.ID,
		Name:     su.SystemUser.Name,
		Username: su.SystemUser.Username,
		Priority: su.SystemUser.Priority,
		Actions:  su.Actions.Names(),
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func boolParam(raw string) bool {
	return raw == "1" || raw == "true"
}
