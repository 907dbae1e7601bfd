package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/ports"
)

// DownloadRequest asks for ports to be added to a session's design.
type DownloadRequest struct {
	TempDir string       `json:"temp_dir" binding:"required"`
	Ports   []ports.Spec `json:"ports" binding:"required,min=1"`
}

// CommonComponentsRequest asks which components touch every listed net.
type CommonComponentsRequest struct {
	TempDir string   `json:"temp_dir" binding:"required"`
	Nets    []string `json:"nets" binding:"required,min=1"`
}

// UploadResponse is returned by /upload.
type UploadResponse struct {
	Info    *index.Snapshot `json:"info"`
	Stats   index.Stats     `json:"stats"`
	TempDir string          `json:"temp_dir"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.metrics.Uploads.WithLabelValues(string(faults.KindValidation)).Inc()
			writeError(c, faults.Validationf("upload exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
			return
		}
		writeError(c, faults.Validationf("no file part"), nil)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(c, faults.Validationf("no selected file"), nil)
		return
	}

	sess, snap, err := s.ws.CreateSession(c.Request.Context(), header.Filename, file)
	if err != nil {
		s.metrics.Uploads.WithLabelValues(string(faults.KindOf(err))).Inc()
		s.log(c).Error("upload failed", "filename", header.Filename, "error", err)
		writeError(c, err, nil)
		return
	}
	s.metrics.Uploads.WithLabelValues("ok").Inc()
	s.log(c).Info("upload indexed", "session_id", sess.ID, "design", sess.DesignPath)
	c.JSON(http.StatusOK, UploadResponse{Info: snap, Stats: snap.Stats(), TempDir: sess.ID})
}

func (s *Server) handleDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, faults.Wrap(faults.KindValidation, err, "missing ports configuration or temporary directory"), nil)
		return
	}
	logger := s.log(c).With("session_id", req.TempDir)

	start := time.Now()
	res, err := s.ws.Resolve(c.Request.Context(), req.TempDir, req.Ports)
	if err != nil {
		s.metrics.ObserveRun(string(faults.KindOf(err)), 0, time.Since(start))
		logger.Error("download failed", "error", err)
		writeError(c, err, &ErrorResponse{TempDir: req.TempDir})
		return
	}
	s.metrics.ObserveRun("ok", res.Terminals, time.Since(start))
	logger.Info("download ready", "archive", res.DownloadName, "ports", len(res.Ports))
	c.FileAttachment(res.Archive, res.DownloadName)
}

func (s *Server) handleCommonComponents(c *gin.Context) {
	var req CommonComponentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, faults.Wrap(faults.KindValidation, err, "missing temp_dir or nets list"), nil)
		return
	}
	comps, err := s.ws.CommonComponents(req.TempDir, req.Nets)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	s.metrics.Queries.Inc()
	c.JSON(http.StatusOK, gin.H{"components": comps})
}

func (s *Server) handleSessions(c *gin.Context) {
	list, err := s.ws.Sessions()
	if err != nil {
		writeError(c, err, nil)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, sess := range list {
		out = append(out, gin.H{
			"temp_dir":          sess.ID,
			"design_path":       sess.DesignPath,
			"original_filename": sess.OriginalFilename,
			"engine":            sess.Engine,
			"created_at":        sess.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleIndex(c *gin.Context) {
	snap, err := s.ws.Snapshot(c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	data, err := index.Marshal(snap)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) handleRemove(c *gin.Context) {
	if err := s.ws.Remove(c.Param("id")); err != nil {
		writeError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}
