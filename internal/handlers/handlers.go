package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Brownie44l1/plant-disease-api/internal/acquire"
	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/device"
	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/report"
)

// maxUpload bounds multipart bodies (10MB).
const maxUpload = 10 << 20

type Handler struct {
	session      *app.Session
	bridge       *device.Bridge
	baseCtx      context.Context
	historyLimit int

	mu      sync.Mutex
	actions map[uuid.UUID]*actionStatus
}

type actionStatus struct {
	ID        uuid.UUID    `json:"id"`
	Source    acquire.Kind `json:"source"`
	State     string       `json:"state"`
	Text      string       `json:"text,omitempty"`
	Notice    string       `json:"notice,omitempty"`
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

type detectionResponse struct {
	Outcome    report.Outcome `json:"outcome"`
	Class      string         `json:"class,omitempty"`
	Confidence float64        `json:"confidence"`
	Cause      string         `json:"cause,omitempty"`
	Cure       string         `json:"cure,omitempty"`
	Message    string         `json:"message"`
}

// NewHandler serves session. Background actions run under baseCtx, which
// should live as long as the server.
func NewHandler(ctx context.Context, session *app.Session, bridge *device.Bridge, historyLimit int) *Handler {
	return &Handler{
		session:      session,
		bridge:       bridge,
		baseCtx:      ctx,
		historyLimit: historyLimit,
		actions:      make(map[uuid.UUID]*actionStatus),
	}
}

// Router returns all routes with CORS enabled.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/display", h.Display).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/display/image", h.DisplayImage).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/actions/{kind:gallery|camera}", h.StartAction).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/actions/{id}", h.ActionStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/requests", h.PendingRequests).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/requests/picker", h.ResolvePicker).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/requests/permission", h.ResolvePermission).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/requests/camera", h.ResolveCamera).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/predict", h.Predict).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/predict/image", h.PredictFromImage).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/history", h.History).Methods(http.MethodGet, http.MethodOptions)
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.session.InitErr(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  apperrors.UserMessage(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Display(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Display()
	resp := map[string]any{
		"text":      snap.Text,
		"notice":    snap.Notice,
		"has_image": snap.Image != nil,
	}
	if !snap.UpdatedAt.IsZero() {
		resp["updated_at"] = snap.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DisplayImage(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Display()
	if snap.Image == nil {
		http.Error(w, "No image displayed", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := imaging.Encode(w, snap.Image, imaging.PNG); err != nil {
		log.Printf("Failed to encode displayed image: %v", err)
	}
}

func (h *Handler) StartAction(w http.ResponseWriter, r *http.Request) {
	kind := acquire.Kind(mux.Vars(r)["kind"])

	id, done, err := h.session.Start(h.baseCtx, kind)
	if err != nil {
		if errors.Is(err, app.ErrBusy) {
			http.Error(w, "Another action is in progress", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}

	status := &actionStatus{ID: id, Source: kind, State: "running", StartedAt: time.Now()}
	h.mu.Lock()
	h.actions[id] = status
	h.mu.Unlock()

	go h.collect(status, done)

	log.Printf("Started %s action %s", kind, id)
	writeJSON(w, http.StatusAccepted, map[string]any{"action_id": id})
}

func (h *Handler) collect(status *actionStatus, done <-chan app.Result) {
	res := <-done

	h.mu.Lock()
	defer h.mu.Unlock()
	status.State = "done"
	status.Text = res.Text
	status.Notice = res.Notice
	if res.Err != nil {
		status.Error = apperrors.UserMessage(res.Err)
	}
}

func (h *Handler) ActionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid action id", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	status, ok := h.actions[id]
	var snapshot actionStatus
	if ok {
		snapshot = *status
	}
	h.mu.Unlock()

	if !ok {
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	pending := h.bridge.Pending()
	if pending == nil {
		pending = []device.PendingRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// ResolvePicker answers the picker with the uploaded "image" part. A request
// without one cancels the pick.
func (h *Handler) ResolvePicker(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.bridge.ResolvePicker(data)
	if err != nil {
		http.Error(w, "No pending picker request", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "cancelled": len(data) == 0})
}

func (h *Handler) ResolvePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Granted bool `json:"granted"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id, err := h.bridge.ResolvePermission(req.Granted)
	if err != nil {
		http.Error(w, "No pending permission request", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "granted": req.Granted})
}

// ResolveCamera answers the capture request with the uploaded "image" part.
// A request without one cancels the capture; an undecodable one fails it.
func (h *Handler) ResolveCamera(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var img image.Image
	var captureErr error
	if len(data) > 0 {
		img, captureErr = imaging.Decode(bytes.NewReader(data))
		if captureErr != nil {
			img = nil
			captureErr = fmt.Errorf("decode frame: %w", captureErr)
		}
	}

	id, err := h.bridge.ResolveCamera(img, captureErr)
	if err != nil {
		http.Error(w, "No pending camera request", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "cancelled": len(data) == 0})
}

// Predict runs the model on a raw, already preprocessed input.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.session.InitErr(); err != nil {
		http.Error(w, "Model unavailable: "+apperrors.UserMessage(err), http.StatusServiceUnavailable)
		return
	}

	spec := h.session.Spec()
	if len(req.Image) != spec.Size() {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", spec.Size(), len(req.Image)),
			http.StatusBadRequest)
		return
	}

	tensor := model.Tensor{Spec: spec, Float32: req.Image}
	if spec.DataType == model.DataTypeUint8 {
		tensor.Float32 = nil
		tensor.Uint8 = make([]uint8, len(req.Image))
		for i, v := range req.Image {
			tensor.Uint8[i] = uint8(min(max(v, 0), 255))
		}
	}

	probs, err := h.session.RunTensor(tensor)
	if err != nil {
		log.Printf("Prediction error: %v", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, model.PredictionResponse{Probabilities: probs, Spec: spec})
}

// PredictFromImage classifies an uploaded image without changing the display.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	log.Printf("Received file: %s, size: %d bytes", header.Filename, header.Size)

	img, err := acquire.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG, GIF, BMP, TIFF", http.StatusBadRequest)
		return
	}

	rep, err := h.session.Classify(r.Context(), img)
	if err != nil {
		log.Printf("Prediction error: %v", err)
		status := http.StatusInternalServerError
		if apperrors.GetCategory(err) == apperrors.CategoryInitialization {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "Prediction failed: "+apperrors.UserMessage(err), status)
		return
	}

	resp := detectionResponse{Outcome: rep.Outcome, Confidence: rep.Confidence, Message: rep.Text()}
	if rep.Index >= 0 {
		resp.Class = rep.Entry.Name
	}
	if rep.Outcome == report.OutcomeDetected {
		resp.Cause = rep.Entry.Cause
		resp.Cure = rep.Entry.Cure
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := h.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.session.History(r.Context(), limit)
	if err != nil {
		log.Printf("History error: %v", err)
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// readUpload returns the bytes of the "image" form file, or nil when the
// request carries none.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	defer file.Close()

	return io.ReadAll(io.LimitReader(file, maxUpload))
}
