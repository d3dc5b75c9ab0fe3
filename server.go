package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"flaketransfer/config"
	"flaketransfer/lib"
	"flaketransfer/lib/interaction"
	"flaketransfer/lib/motion"
	"flaketransfer/lib/thermal"
	"flaketransfer/lib/worker"

	"github.com/golang/geo/r2"
)

// commandTimeout bounds one manual motion command.
const commandTimeout = 5 * time.Second

const staticDir = "./static"

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	mux.HandleFunc("/", a.handleIndex)
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/mode", post(a.handleMode))
	mux.HandleFunc("/gesture", post(a.handleGesture))
	mux.HandleFunc("/zoom", post(a.handleZoom))
	mux.HandleFunc("/copy", post(a.handleCopy))
	mux.HandleFunc("/track", post(a.handleTrack))
	mux.HandleFunc("/reset", post(a.handleReset))
	mux.HandleFunc("/align", post(a.handleRun(a.startAlign)))
	mux.HandleFunc("/autofocus", post(a.handleRun(a.startAutofocus)))
	mux.HandleFunc("/calibrate", post(a.handleRun(a.startCalibrate)))
	mux.HandleFunc("/setpoint", post(a.handleRun(a.startSetPoint)))
	mux.HandleFunc("/stop", post(a.handleStop))
	mux.HandleFunc("/move", post(a.handleMove))
	mux.HandleFunc("/home", post(a.handleHome))
	mux.HandleFunc("/push", post(a.handlePush))
	mux.HandleFunc("/heater", post(a.handleHeater))
	mux.HandleFunc("/params", a.handleParams)
	mux.HandleFunc("/preset", post(a.handlePreset))
	mux.HandleFunc("/correction", a.handleCorrection)
	mux.HandleFunc("/capture", post(a.handleCapture))
	return mux
}

func (a *app) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	html, err := os.ReadFile(filepath.Join(staticDir, "index.html"))
	if err != nil {
		a.logger.Error("read index", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write(html); err != nil {
		a.logger.Warn("write index", "err", err)
	}
}

// post rejects other methods and parses the form before calling h.
func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form data", http.StatusBadRequest)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// fail maps err onto a status code and writes it.
func (a *app) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, worker.ErrBusy), errors.Is(err, thermal.ErrRunning),
		errors.Is(err, interaction.ErrTrackerActive):
		code = http.StatusConflict
	case errors.Is(err, motion.ErrNotConnected):
		code = http.StatusServiceUnavailable
	case errors.Is(err, motion.ErrUnknownAxis), errors.Is(err, config.ErrUnknownSection),
		errors.Is(err, config.ErrUnknownParam), errors.Is(err, config.ErrUnknownPreset),
		errors.Is(err, config.ErrInvalidValue),
		errors.Is(err, interaction.ErrNotClosed), errors.Is(err, interaction.ErrEmptyFrame):
		code = http.StatusBadRequest
	}
	a.logger.Warn("request failed", "err", err, "code", code)
	http.Error(w, fmt.Sprintf("Error: %v", err), code)
}

func formFloat(r *http.Request, key string) (float64, error) {
	v, err := strconv.ParseFloat(r.FormValue(key), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

type runStatus struct {
	Name  string `json:"name"`
	RunID string `json:"run_id"`
}

type lastRun struct {
	Name     string    `json:"name"`
	RunID    string    `json:"run_id"`
	Error    string    `json:"error,omitempty"`
	Canceled bool      `json:"canceled"`
	Ended    time.Time `json:"ended"`
}

type statusResponse struct {
	Mode       string               `json:"mode"`
	Zoom       float64              `json:"zoom"`
	Frames     uint64               `json:"frames"`
	Tracking   bool                 `json:"tracking"`
	Active     *runStatus           `json:"active,omitempty"`
	Last       *lastRun             `json:"last,omitempty"`
	Heater     *thermal.Status      `json:"heater,omitempty"`
	Uniformity *float64             `json:"uniformity,omitempty"`
	Connected  map[string]bool      `json:"connected"`
	Notices    []interaction.Notice `json:"notices"`
}

func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.ctrl.Snapshot()
	resp := statusResponse{
		Mode:      snap.Mode.String(),
		Zoom:      snap.View.Zoom,
		Frames:    a.camera.FrameCount(),
		Tracking:  snap.TrackingActive,
		Connected: make(map[string]bool, len(motion.Axes)),
		Notices:   a.notices.Recent(),
	}
	if name, id, ok := a.worker.Active(); ok {
		resp.Active = &runStatus{Name: name, RunID: id}
	}
	if last := a.worker.Last(); last.RunID != "" {
		lr := &lastRun{Name: last.Name, RunID: last.RunID, Canceled: last.Canceled, Ended: last.Ended}
		if last.Err != nil {
			lr.Error = last.Err.Error()
		}
		resp.Last = lr
	}
	if a.heater != nil {
		st := a.heater.Status()
		resp.Heater = &st
	}
	if box, ok := a.ctrl.TargetBox(); ok {
		if u, ok := a.camera.Uniformity(box); ok {
			resp.Uniformity = &u
		}
	}
	for _, axis := range motion.Axes {
		resp.Connected[string(axis)] = a.rig.IsConnected(axis)
	}
	writeJSON(w, resp)
}

func (a *app) handleMode(w http.ResponseWriter, r *http.Request) {
	m, err := interaction.ParseMode(r.FormValue("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.ctrl.SetMode(m)
	fmt.Fprintf(w, "Mode %s", m)
}

func (a *app) handleGesture(w http.ResponseWriter, r *http.Request) {
	kind, err := interaction.ParseGestureKind(r.FormValue("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g := interaction.Gesture{Kind: kind}
	if r.FormValue("button") == "right" {
		g.Button = interaction.ButtonRight
	}
	if kind == interaction.Wheel {
		g.Delta, err = strconv.Atoi(r.FormValue("delta"))
		if err != nil {
			http.Error(w, "delta: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	x, errX := formFloat(r, "x")
	y, errY := formFloat(r, "y")
	if err := errors.Join(errX, errY); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.Pos = r2.Point{X: x, Y: y}

	if err := a.ctrl.HandleGesture(g); err != nil {
		a.fail(w, err)
		return
	}
	fmt.Fprint(w, "OK")
}

func (a *app) handleZoom(w http.ResponseWriter, r *http.Request) {
	steps, err := strconv.Atoi(r.FormValue("steps"))
	if err != nil {
		http.Error(w, "steps: "+err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "Zoom %.1f", a.ctrl.ZoomBy(steps))
}

func (a *app) handleCopy(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.CopyDrawing(); err != nil {
		a.fail(w, err)
		return
	}
	fmt.Fprint(w, "Drawing copied to tracking")
}

func (a *app) handleTrack(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.StartTracking(); err != nil {
		a.fail(w, err)
		return
	}
	fmt.Fprint(w, "Tracking started")
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	a.ctrl.ResetTracking()
	fmt.Fprint(w, "Tracking reset")
}

// handleRun starts a worker job and replies with its run ID.
func (a *app) handleRun(start func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := start()
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, map[string]string{"run_id": id})
	}
}

func (a *app) handleStop(w http.ResponseWriter, r *http.Request) {
	a.worker.Stop()
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	a.stopMotors(ctx)
	fmt.Fprint(w, "Stopped")
}

func (a *app) handleMove(w http.ResponseWriter, r *http.Request) {
	axis, err := motion.ParseAxis(r.FormValue("axis"))
	if err != nil {
		a.fail(w, err)
		return
	}
	dir := motion.Forward
	switch r.FormValue("dir") {
	case "forward", "":
	case "reverse":
		dir = motion.Reverse
	default:
		http.Error(w, "Unknown direction", http.StatusBadRequest)
		return
	}
	small := r.FormValue("small") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	magnitude, err := a.jog(ctx, axis, dir, small)
	if err != nil {
		a.fail(w, err)
		return
	}
	fmt.Fprintf(w, "Moved %s %s by %d", axis, dir, magnitude)
}

func (a *app) handleHome(w http.ResponseWriter, r *http.Request) {
	axis, err := motion.ParseAxis(r.FormValue("axis"))
	if err != nil {
		a.fail(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := a.rig.Home(ctx, axis); err != nil {
		a.fail(w, err)
		return
	}
	fmt.Fprintf(w, "Homing %s", axis)
}

func (a *app) handlePush(w http.ResponseWriter, r *http.Request) {
	dz, err := formFloat(r, "dz")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := a.pushStamp(ctx, dz); err != nil {
		a.fail(w, err)
		return
	}
	fmt.Fprintf(w, "Stamp pushed by %.0f", 0.9*dz)
}

func (a *app) handleHeater(w http.ResponseWriter, r *http.Request) {
	if a.heater == nil {
		http.Error(w, "Heater not connected", http.StatusServiceUnavailable)
		return
	}
	switch r.FormValue("action") {
	case "start":
		sp, err := formFloat(r, "setpoint")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.heater.Start(sp); err != nil {
			a.fail(w, err)
			return
		}
		fmt.Fprintf(w, "Heating to %.1f", sp)
	case "stop":
		a.heater.Stop()
		fmt.Fprint(w, "Heater off")
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
	}
}

func (a *app) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.params.All())
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form data", http.StatusBadRequest)
			return
		}
		section, key := r.FormValue("section"), r.FormValue("key")
		value, err := formFloat(r, "value")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.params.Set(section, key, value); err != nil {
			a.fail(w, err)
			return
		}
		if section == config.SectionCamera {
			a.ctrl.SetMicronsPerPixel(micronsPerPixel(a.params))
		}
		if err := a.params.Save(); err != nil {
			a.fail(w, err)
			return
		}
		fmt.Fprintf(w, "%s.%s = %g", section, key, value)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *app) handlePreset(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if _, err := a.params.ApplyPreset(a.cfg.Presets, name); err != nil {
		a.fail(w, err)
		return
	}
	a.ctrl.SetMicronsPerPixel(micronsPerPixel(a.params))
	if err := a.params.Save(); err != nil {
		a.fail(w, err)
		return
	}
	a.notices.Push(fmt.Sprintf("Magnification set to %s.", name))
	fmt.Fprintf(w, "Preset %s", name)
}

func (a *app) handleCorrection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, a.camera.Corrector.Settings())
	case http.MethodPost:
		c := a.camera.Corrector.Settings()
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.camera.Corrector.Set(c)
		writeJSON(w, a.camera.Corrector.Settings())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *app) handleCapture(w http.ResponseWriter, r *http.Request) {
	dir := a.cfg.Camera.CaptureDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.fail(w, err)
		return
	}
	path := filepath.Join(dir, time.Now().Format("20060102-150405.000")+".png")
	if err := a.camera.Capture(path); err != nil {
		if errors.Is(err, lib.ErrNoFrame) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		a.fail(w, err)
		return
	}
	fmt.Fprint(w, path)
}
