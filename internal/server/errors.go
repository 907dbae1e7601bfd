package server

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/workspace"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string      `json:"error"`
	Kind     faults.Kind `json:"kind"`
	Position *int        `json:"position,omitempty"`
	TempDir  string      `json:"temp_dir,omitempty"`
	WorkCopy string      `json:"work_copy,omitempty"`
}

// statusOf maps an error kind to an HTTP status.
func statusOf(k faults.Kind) int {
	switch k {
	case faults.KindValidation, faults.KindSecurity:
		return http.StatusBadRequest
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError aborts c with the structured body for err. extra, when set,
// supplies the session id.
func writeError(c *gin.Context, err error, extra *ErrorResponse) {
	resp := ErrorResponse{}
	if extra != nil {
		resp = *extra
	}
	resp.Error = err.Error()
	resp.Kind = faults.KindOf(err)
	if pos, ok := faults.PositionOf(err); ok {
		resp.Position = &pos
	}
	var runErr *workspace.RunError
	if errors.As(err, &runErr) && runErr.WorkCopy != "" {
		resp.WorkCopy = filepath.Base(runErr.WorkCopy)
	}
	c.AbortWithStatusJSON(statusOf(resp.Kind), resp)
}
