package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceEDB/internal/config"
	"github.com/OpenTraceLab/OpenTraceEDB/internal/logging"
	"github.com/OpenTraceLab/OpenTraceEDB/internal/metrics"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design/kicad"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupServer(t *testing.T) *Server {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), kicad.NewEngine(), index.NewMemoryStore(),
		workspace.WithLogger(logging.Discard()))
	require.NoError(t, err)
	cfg := config.Default().Server
	cfg.MaxUploadBytes = 1 << 20
	return New(cfg, ws, metrics.New(), logging.Discard())
}

func demoZip(t *testing.T) []byte {
	t.Helper()
	board, err := os.ReadFile(filepath.Join("..", "..", "pkg", "design", "kicad", "testdata", "demo", "demo.kicad_pcb"))
	require.NoError(t, err)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("demo/demo.kicad_pcb")
	require.NoError(t, err)
	_, err = w.Write(board)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func uploadDemo(t *testing.T, s *Server) string {
	t.Helper()
	w := serve(s, uploadRequest(t, "demo.zip", demoZip(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Info    map[string]json.RawMessage `json:"info"`
		Stats   index.Stats                `json:"stats"`
		TempDir string                     `json:"temp_dir"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Info, "net_pins")
	assert.Equal(t, 3, resp.Stats.Components)
	require.NotEmpty(t, resp.TempDir)
	return resp.TempDir
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	s := setupServer(t)
	w := serve(s, httptest.NewRequest(http.MethodOptions, "/download", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestUploadRejects(t *testing.T) {
	s := setupServer(t)

	w := serve(s, uploadRequest(t, "board.tar", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", string(decodeError(t, w).Kind))

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(nil))
	w = serve(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, _ := zw.Create("../../evil.txt")
	fw.Write([]byte("x"))
	zw.Close()
	w = serve(s, uploadRequest(t, "evil.zip", buf.Bytes()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "security", string(decodeError(t, w).Kind))
}

func TestCommonComponents(t *testing.T) {
	s := setupServer(t)
	id := uploadDemo(t, s)

	tests := []struct {
		name string
		nets []string
		want string
	}{
		{"shared", []string{"GND", "CLK"}, `{"components":["U1"]}`},
		{"single", []string{"CLK"}, `{"components":["R1","U1"]}`},
		{"unknown net", []string{"NOPE"}, `{"components":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, jsonRequest(t, http.MethodPost, "/api/common_components",
				gin.H{"temp_dir": id, "nets": tt.nets}))
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}

	w := serve(s, jsonRequest(t, http.MethodPost, "/api/common_components", gin.H{"temp_dir": id}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownload(t *testing.T) {
	s := setupServer(t)
	id := uploadDemo(t, s)

	w := serve(s, jsonRequest(t, http.MethodPost, "/download", gin.H{
		"temp_dir": id,
		"ports": []gin.H{
			{"port_name": "P1", "pos": "(U1, CLK)", "neg": "(U1, GND)", "z0": 50},
			{"port_name": "P2", "pos": "(R1, CLK)", "neg": "(U1, GND)"},
		},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "demo.zip")

	body := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"demo.kicad_pcb", kicad.PortsFile}, names)
}

func TestDownloadErrors(t *testing.T) {
	s := setupServer(t)
	id := uploadDemo(t, s)

	w := serve(s, jsonRequest(t, http.MethodPost, "/download", gin.H{"temp_dir": id}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, jsonRequest(t, http.MethodPost, "/download", gin.H{
		"temp_dir": "6f1c1e0a-3c55-4b6e-9a51-2f0d5c7b9e11",
		"ports":    []gin.H{{"port_name": "P1", "pos": "(U1,CLK)", "neg": "(U1,GND)"}},
	}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, jsonRequest(t, http.MethodPost, "/download", gin.H{
		"temp_dir": id,
		"ports": []gin.H{
			{"port_name": "P1", "pos": "(U1,CLK)", "neg": "(U1,GND)"},
			{"port_name": "P2", "pos": "(U9,CLK)", "neg": "(U1,GND)"},
		},
	}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeError(t, w)
	require.NotNil(t, resp.Position)
	assert.Equal(t, 1, *resp.Position)
	assert.Equal(t, id, resp.TempDir)
	assert.Contains(t, resp.Error, "U9")

	w = serve(s, jsonRequest(t, http.MethodPost, "/download", gin.H{
		"temp_dir": id,
		"ports":    []gin.H{{"port_name": "P1", "pos": "U1 CLK", "neg": "(U1,GND)"}},
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", string(decodeError(t, w).Kind))
}

func TestSessionIndexAndRemove(t *testing.T) {
	s := setupServer(t)
	id := uploadDemo(t, s)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/index", nil))
	require.Equal(t, http.StatusOK, w.Code)
	snap, err := index.Unmarshal(w.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, snap.HasNet("+3V3"))

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = serve(s, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/index", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", string(decodeError(t, w).Kind))
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	uploadDemo(t, s)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `otedb_uploads_total{result="ok"} 1`)
	assert.Contains(t, w.Body.String(), `otedb_http_requests_total{code="200",route="/upload"} 1`)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf("validation"))
	assert.Equal(t, http.StatusBadRequest, statusOf("security"))
	assert.Equal(t, http.StatusNotFound, statusOf("not_found"))
	assert.Equal(t, http.StatusConflict, statusOf("conflict"))
	assert.Equal(t, http.StatusInternalServerError, statusOf("engine"))
}
