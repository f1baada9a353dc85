package apierr

import (
	"log"

	"github.com/gin-gonic/gin"
)

type errorDTO struct {
	Error struct {
		Code          Code   `json:"code"`
		Message       string `json:"message"`
		Reason        string `json:"reason,omitempty"`
		BlockingCount int64  `json:"blocking_count,omitempty"`
	} `json:"error"`
}

func Body(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func BodyFrom(err error) errorDTO {
	e := From(err)
	b := Body(e.Code, e.Message)
	b.Error.Reason = e.Reason
	b.Error.BlockingCount = e.BlockingCount
	return b
}

// Respond はエラーをステータス付きJSONで返す。5xx は原因をログに残す
func Respond(c *gin.Context, err error) {
	status := ToHTTPStatus(err)
	if status >= 500 {
		log.Printf("[ERROR] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, BodyFrom(err))
}

func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(400, Body(CodeInvalidArgument, msg))
}
