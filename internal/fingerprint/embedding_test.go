package fingerprint

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func TestEmbeddingClient_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("expected multipart request, got %s", r.Header.Get("Content-Type"))
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 3,
			"faces": []map[string]any{
				{"bbox": []float64{10, 10, 50, 60}, "det_score": 0.98},
				{"bbox": []float64{5, 5, 5, 9}, "det_score": 0.5}, // degenerate, dropped
				{"bbox": []float64{70, 10, 90, 40}, "det_score": 0.7},
			},
		})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL+"/", 4)
	dets, err := client.Detect(context.Background(), testImage(100, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].X1 != 10 || dets[0].Y2 != 60 || dets[0].Score != 0.98 {
		t.Errorf("unexpected first detection %+v", dets[0])
	}
}

func TestEmbeddingClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face-crop" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			return
		}
		img, _, err := image.Decode(file)
		if err != nil {
			t.Errorf("decoding upload: %v", err)
			return
		}
		if img.Bounds().Dx() != defaultInputSize || img.Bounds().Dy() != defaultInputSize {
			t.Errorf("expected crop scaled to %d, got %v", defaultInputSize, img.Bounds())
		}
		json.NewEncoder(w).Encode(map[string]any{
			"dim":       4,
			"embedding": []float32{0, 3, 0, 4},
		})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL, 4)
	fp, err := client.Embed(context.Background(), testImage(40, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Fingerprint{0, 0.6, 0, 0.8}
	for i := range want {
		if d := fp[i] - want[i]; d > 1e-6 || d < -1e-6 {
			t.Fatalf("Embed() = %v, want %v", fp, want)
		}
	}
}

func TestEmbeddingClient_EmbedErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload any
	}{
		{"server error", http.StatusInternalServerError, map[string]string{"detail": "boom"}},
		{"empty embedding", http.StatusOK, map[string]any{"embedding": []float32{}}},
		{"wrong dimension", http.StatusOK, map[string]any{"embedding": []float32{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.payload)
			}))
			defer server.Close()

			client := NewEmbeddingClient(server.URL, 4)
			if _, err := client.Embed(context.Background(), testImage(8, 8)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCrop(t *testing.T) {
	img := testImage(100, 80)

	tests := []struct {
		name    string
		box     [4]float64
		w, h    int
		wantErr bool
	}{
		{"inside", [4]float64{10, 20, 40, 60}, 30, 40, false},
		{"clipped to bounds", [4]float64{90, 70, 150, 120}, 10, 10, false},
		{"whole image for zero box", [4]float64{0, 0, 0, 0}, 100, 80, false},
		{"outside", [4]float64{200, 200, 300, 300}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box := boxOf(tt.box)
			out, err := Crop(img, box)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Bounds().Dx() != tt.w || out.Bounds().Dy() != tt.h {
				t.Errorf("expected %dx%d, got %v", tt.w, tt.h, out.Bounds())
			}
		})
	}
}

func TestCropRect_ClipsNegativeOrigin(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	got := CropRect(bounds, boxOf([4]float64{-20, -30, 50, 40}))
	if want := image.Rect(0, 0, 50, 40); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func boxOf(v [4]float64) facematch.Box {
	return facematch.Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
}
