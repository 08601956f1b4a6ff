package web

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/source"
	"image-compressor-go/internal/statistics"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *statistics.Statistics) {
	t.Helper()
	cfg := config.DefaultConfig()
	log := logger.Discard()
	stats := statistics.NewStatistics()
	comp := compressor.NewDefaultCompressor(compressor.NewJPEGEncoder(imaging.Lanczos), log)
	fetcher := source.NewFetcher(cfg.Fetch.Timeout, cfg.MaxFetchBytes(), cfg.Fetch.UserAgent)
	return NewServer(cfg, log, comp, fetcher, stats), stats
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartBody builds a /compress form. A nil file omits the image part.
func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postCompress(t *testing.T, s *Server, fields map[string]string, file []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp.Error
}

func TestCompressUploadedFile(t *testing.T) {
	s, stats := newTestServer(t)

	rec := postCompress(t, s, map[string]string{"percent": "50", "quality": "70"}, samplePNG(t, 80, 40))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="compressed.jpg"`, rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get("X-Original-Size"))
	assert.NotEmpty(t, rec.Header().Get("X-Compressed-Size"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 20, cfg.Height)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.Requested)
	assert.Equal(t, int64(1), snap.ServerCompressions)
}

func TestCompressDefaultsParams(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postCompress(t, s, nil, samplePNG(t, 30, 10))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Width)
	assert.Equal(t, 10, cfg.Height)
}

func TestCompressImageURL(t *testing.T) {
	img := samplePNG(t, 60, 60)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cat.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer origin.Close()

	s, _ := newTestServer(t)

	t.Run("downloads and compresses", func(t *testing.T) {
		rec := postCompress(t, s, map[string]string{"percent": "10", "image_url": origin.URL + "/cat.png"}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 6, cfg.Width)
	})

	t.Run("upstream 404 is a bad gateway", func(t *testing.T) {
		rec := postCompress(t, s, map[string]string{"image_url": origin.URL + "/missing.png"}, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.NotEmpty(t, decodeError(t, rec))
	})

	t.Run("file wins over url", func(t *testing.T) {
		rec := postCompress(t, s, map[string]string{"image_url": origin.URL + "/missing.png"}, samplePNG(t, 8, 8))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestCompressRejectsBadRequests(t *testing.T) {
	s, stats := newTestServer(t)

	tests := []struct {
		name       string
		fields     map[string]string
		file       []byte
		wantStatus int
		wantError  string
	}{
		{
			name:       "no image",
			fields:     map[string]string{"percent": "50"},
			wantStatus: http.StatusBadRequest,
			wantError:  "no image provided",
		},
		{
			name:       "percent out of range",
			fields:     map[string]string{"percent": "0"},
			file:       samplePNG(t, 4, 4),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "quality not a number",
			fields:     map[string]string{"quality": "high"},
			file:       samplePNG(t, 4, 4),
			wantStatus: http.StatusBadRequest,
			wantError:  "quality must be an integer",
		},
		{
			name:       "not an image",
			file:       []byte("definitely not pixels"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "url scheme not supported",
			fields:     map[string]string{"image_url": "ftp://example.com/a.png"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCompress(t, s, tt.fields, tt.file)
			assert.Equal(t, tt.wantStatus, rec.Code)
			msg := decodeError(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}

	assert.Equal(t, int64(len(tests)), stats.Snapshot().Failed)
}

func TestCompressRejectsNonMultipart(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/compress", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompressPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/compress", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Compressed-Size")
}

func TestCompressMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/compress", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusAndStatistics(t *testing.T) {
	s, _ := newTestServer(t)
	postCompress(t, s, nil, samplePNG(t, 4, 4))

	t.Run("status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				InFlight      int64             `json:"in_flight"`
				MaxUpload     int64             `json:"max_upload"`
				DefaultParams compressor.Params `json:"default_params"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Zero(t, resp.Data.InFlight)
		assert.Equal(t, int64(20<<20), resp.Data.MaxUpload)
		assert.Equal(t, compressor.DefaultParams(), resp.Data.DefaultParams)
	})

	t.Run("statistics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool                `json:"success"`
			Message string              `json:"message"`
			Data    statistics.Snapshot `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Contains(t, resp.Message, "Image Compressor Statistics Summary")
		assert.Equal(t, int64(1), resp.Data.Succeeded)
	})
}

func TestIndexPage(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `action="/compress"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(source.ErrTooLarge))
	assert.Equal(t, http.StatusBadGateway, statusFor(&source.FetchError{URL: "http://x", StatusCode: 500}))
	assert.Equal(t, http.StatusBadRequest, statusFor(errNoImage))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

// pngHeader is a PNG signature and IHDR chunk with no pixel data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := make([]byte, 4+13)
	copy(chunk, "IHDR")
	binary.BigEndian.PutUint32(chunk[4:], w)
	binary.BigEndian.PutUint32(chunk[8:], h)
	chunk[12], chunk[13] = 8, 2
	binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestCompressOversizedDimensions(t *testing.T) {
	s, stats := newTestServer(t)

	rec := postCompress(t, s, nil, pngHeader(40000, 40000))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decodeError(t, rec), "40000x40000")
	assert.Equal(t, int64(1), stats.Snapshot().Failed)
}

func TestCompressUploadTooLarge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.MaxUploadMB = 1
	log := logger.Discard()
	comp := compressor.NewDefaultCompressor(compressor.NewJPEGEncoder(imaging.Lanczos), log)
	s := NewServer(cfg, log, comp, source.NewFetcher(0, 0, ""), statistics.NewStatistics())

	oversized := bytes.Repeat([]byte{0xAB}, 2<<20)

	t.Run("declared length", func(t *testing.T) {
		rec := postCompress(t, s, nil, oversized)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "upload too large", decodeError(t, rec))
	})

	t.Run("streamed body", func(t *testing.T) {
		body, contentType := multipartBody(t, nil, oversized)
		req := httptest.NewRequest(http.MethodPost, "/compress", body)
		req.Header.Set("Content-Type", contentType)
		req.ContentLength = -1
		rec := httptest.NewRecorder()

		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "upload too large", decodeError(t, rec))
	})
}

func TestWebSocketBroadcastsCompressEvents(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		s.wsMutex.RLock()
		defer s.wsMutex.RUnlock()
		return len(s.wsClients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	postCompress(t, s, map[string]string{"percent": "50"}, samplePNG(t, 20, 20))
	postCompress(t, s, nil, nil)

	var got []WSMessage
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		got = append(got, msg)
	}

	assert.Equal(t, "compress_started", got[0].Type)
	assert.Equal(t, "compress_completed", got[1].Type)
	assert.Equal(t, "compress_error", got[2].Type)

	completed, ok := got[1].Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(10), completed["width"])

	failed, ok := got[2].Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "no image provided", failed["error"])
	assert.Equal(t, float64(http.StatusBadRequest), failed["status"])
}
