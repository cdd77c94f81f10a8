package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/notify"
)

const maxBodySize = 16 << 10

// Boards hands out the shared board of a workspace.
type Boards interface {
	Board(ctx context.Context, workspaceID string) (*board.Board, error)
}

type MovementHistory interface {
	ListMovements(ctx context.Context, workspaceID, taskID string) ([]domain.MovementRecord, error)
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Boards    Boards
	Members   domain.MembershipResolver
	Movements MovementHistory
	Sessions  *Sessions
	Auth      Authenticator
	Logger    *log.Logger
	// Heartbeat is the interval of keep-alive comments on /stream.
	Heartbeat time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	authed := requireUser(d.Auth)

	e.GET("/healthz", healthz())
	e.GET("/stream", streamToasts(d.Sessions, d.Heartbeat, d.Logger), authed)

	g := e.Group("/api", authed)
	g.GET("/workspaces/:workspaceId/board", getBoard(d.Boards, d.Members))
	g.POST("/workspaces/:workspaceId/tasks/:taskId/move", postMove(d.Boards, d.Members, d.Logger))
	g.GET("/workspaces/:workspaceId/tasks/:taskId/movements", getMovements(d.Movements, d.Members))
	g.GET("/notifications", getNotifications(d.Sessions))
	g.POST("/notifications/read", postNotificationsRead(d.Sessions))
	g.DELETE("/toasts/:toastId", deleteToast(d.Sessions))
}

type boardResponse struct {
	Workspace domain.Workspace `json:"workspace"`
	Columns   []board.Column   `json:"columns"`
}

type moveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type moveFailedResponse struct {
	Error      string           `json:"error"`
	Phase      domain.MovePhase `json:"phase"`
	RestoredTo domain.Stage     `json:"restoredTo"`
}

type notificationsResponse struct {
	Items  []notify.HistoryItem `json:"items"`
	Unread int                  `json:"unread"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type markReadResponse struct {
	Marked int `json:"marked"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// authorizeWorkspace writes the error response and returns false when the
// user is not a member of the workspace.
func authorizeWorkspace(c echo.Context, members domain.MembershipResolver, workspaceID string) bool {
	memberships, err := members.WorkspacesForUser(c.Request().Context(), userID(c))
	if err != nil {
		c.Logger().Error(err)
		_ = c.String(http.StatusInternalServerError, "unable to resolve memberships")
		return false
	}
	for _, m := range memberships {
		if m.WorkspaceID == workspaceID {
			return true
		}
	}
	_ = c.String(http.StatusForbidden, "not a member of this workspace")
	return false
}

func boardError(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return c.String(http.StatusNotFound, "workspace not found")
	}
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, err.Error())
}

func getBoard(boards Boards, members domain.MembershipResolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		workspaceID := c.Param("workspaceId")
		if !authorizeWorkspace(c, members, workspaceID) {
			return nil
		}
		b, err := boards.Board(c.Request().Context(), workspaceID)
		if err != nil {
			return boardError(c, err)
		}
		return c.JSON(http.StatusOK, boardResponse{Workspace: b.Workspace(), Columns: b.Snapshot()})
	}
}

func postMove(boards Boards, members domain.MembershipResolver, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		workspaceID, taskID := c.Param("workspaceId"), c.Param("taskId")
		metrics := newMoveRequestMetrics(logger, workspaceID, taskID)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		if !authorizeWorkspace(c, members, workspaceID) {
			metrics.SetErrorStage("membership")
			return nil
		}

		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
		dec.DisallowUnknownFields()
		var req moveRequest
		if derr := dec.Decode(&req); derr != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		metrics.SetTransition(req.From, req.To)
		from, ferr := domain.ParseStage(req.From)
		to, terr := domain.ParseStage(req.To)
		if perr := errors.Join(ferr, terr); perr != nil {
			metrics.SetErrorStage("stage")
			return c.String(http.StatusBadRequest, perr.Error())
		}

		ctx := c.Request().Context()
		loadStart := time.Now()
		b, berr := boards.Board(ctx, workspaceID)
		metrics.ObserveLoad(time.Since(loadStart))
		if berr != nil {
			metrics.SetErrorStage("load")
			return boardError(c, berr)
		}

		moveStart := time.Now()
		merr := b.Move(ctx, taskID, from, to, userID(c))
		metrics.ObserveMove(time.Since(moveStart))
		if merr == nil {
			return c.NoContent(http.StatusNoContent)
		}

		var failed *domain.MoveFailedError
		switch {
		case errors.As(merr, &failed):
			metrics.SetErrorStage("write")
			metrics.SetRollback(string(failed.Phase), string(failed.RestoredTo))
			return c.JSON(http.StatusConflict, moveFailedResponse{
				Error:      merr.Error(),
				Phase:      failed.Phase,
				RestoredTo: failed.RestoredTo,
			})
		case errors.Is(merr, domain.ErrPermissionDenied):
			metrics.SetErrorStage("permission")
			return c.String(http.StatusForbidden, merr.Error())
		case errors.Is(merr, domain.ErrNotFound):
			metrics.SetErrorStage("task")
			return c.String(http.StatusNotFound, merr.Error())
		case errors.Is(merr, domain.ErrInvalidMove):
			metrics.SetErrorStage("validation")
			return c.String(http.StatusBadRequest, merr.Error())
		case errors.Is(merr, board.ErrClosed):
			metrics.SetErrorStage("closed")
			return c.String(http.StatusServiceUnavailable, merr.Error())
		default:
			metrics.SetErrorStage("move")
			c.Logger().Error(merr)
			return c.String(http.StatusInternalServerError, merr.Error())
		}
	}
}

func getMovements(movements MovementHistory, members domain.MembershipResolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		workspaceID := c.Param("workspaceId")
		if !authorizeWorkspace(c, members, workspaceID) {
			return nil
		}
		recs, err := movements.ListMovements(c.Request().Context(), workspaceID, c.Param("taskId"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if recs == nil {
			recs = []domain.MovementRecord{}
		}
		return c.JSON(http.StatusOK, recs)
	}
}

func getNotifications(sessions *Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		svc, err := sessions.Lookup(userID(c))
		if err != nil {
			return c.JSON(http.StatusOK, notificationsResponse{Items: []notify.HistoryItem{}})
		}
		h := svc.History()
		return c.JSON(http.StatusOK, notificationsResponse{Items: h.List(), Unread: h.Unread()})
	}
}

func postNotificationsRead(sessions *Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		svc, err := sessions.Lookup(userID(c))
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		var req markReadRequest
		if c.Request().ContentLength != 0 {
			dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
			dec.DisallowUnknownFields()
			if derr := dec.Decode(&req); derr != nil && !errors.Is(derr, io.EOF) {
				return c.String(http.StatusBadRequest, "invalid body")
			}
		}
		return c.JSON(http.StatusOK, markReadResponse{Marked: svc.History().MarkRead(req.IDs...)})
	}
}

func deleteToast(sessions *Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		svc, err := sessions.Lookup(userID(c))
		if err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		if !svc.Toasts().Dismiss(c.Param("toastId")) {
			return c.String(http.StatusNotFound, "toast not found")
		}
		return c.NoContent(http.StatusNoContent)
	}
}
