package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow/stream"
)

// events streams lifecycle events as server-sent events. Topics come from
// repeated ?topic= parameters and default to the firehose.
func (a *API) events(c *gin.Context) {
	topics := c.QueryArray("topic")
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	broker := a.eng.Stream()
	sub, err := broker.Subscribe(topics...)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	defer broker.Remove(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case evt, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		}
	})
}

func (a *API) streamStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.eng.Stream().Stats())
}
