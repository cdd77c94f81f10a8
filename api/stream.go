package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/notify"
)

const defaultHeartbeat = 25 * time.Second

// streamToasts holds a notification session open for the lifetime of the
// request and writes every toast change as a server-sent event.
func streamToasts(sessions *Sessions, heartbeat time.Duration, logger *log.Logger) echo.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(c echo.Context) error {
		uid := userID(c)
		ctx := c.Request().Context()

		svc, err := sessions.Acquire(ctx, uid)
		if err != nil {
			logger.WithError(err).WithField("user", uid).Warn("unable to start notification session")
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		defer sessions.Release(uid)

		toasts := svc.Toasts()
		changes, unsubscribe := toasts.Subscribe()
		defer unsubscribe()

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		res.WriteHeader(http.StatusOK)
		if _, err := res.Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		for _, t := range toasts.Active() {
			if err := writeToastEvent(res, notify.ToastChange{State: t.State, Toast: t}); err != nil {
				return nil
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := res.Write([]byte(":hb\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case change, ok := <-changes:
				if !ok {
					return nil
				}
				if err := writeToastEvent(res, change); err != nil {
					logger.WithError(err).WithField("user", uid).Debug("stream closed")
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeToastEvent(res *echo.Response, change notify.ToastChange) error {
	data, err := sonic.Marshal(change)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+32)
	buf = append(buf, "event: toast\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = res.Write(buf)
	return err
}
