package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/ripple/coalesce"
	"github.com/xraph/ripple/hook"
)

// HookResponse summarizes the side effects dispatched for a mutation.
type HookResponse struct {
	Skip          bool           `json:"skip"`
	Changed       []string       `json:"changed"`
	Tags          []string       `json:"tags"`
	Recompute     []coalesce.Key `json:"recompute"`
	Notifications int            `json:"notifications"`
}

// handleHook accepts a mutation from the content store. It answers 202
// even when no side effect applies; the write already committed.
func (a *API) handleHook(c *gin.Context) {
	if a.hookSecret != "" {
		got := c.GetHeader(HookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.hookSecret)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid hook secret")
			return
		}
	}

	var m hook.Mutation
	if err := c.ShouldBindJSON(&m); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if m.Collection == "" || m.Operation == "" {
		abort(c, http.StatusBadRequest, "collection and operation are required")
		return
	}

	d := a.hooks.Handle(c.Request.Context(), m)
	a.logger.Debug("hook received",
		slog.String("collection", m.Collection),
		slog.String("operation", string(m.Operation)),
		slog.Bool("skip", d.Skip),
	)

	c.JSON(http.StatusAccepted, HookResponse{
		Skip:          d.Skip,
		Changed:       d.Changed,
		Tags:          d.Tags,
		Recompute:     d.Recompute,
		Notifications: len(d.Notifications),
	})
}
