// Package web exposes the mower's status and a small command surface over
// HTTP for the operator UI.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/mowtion/mower/robot"
)

// Options configure the HTTP server.
type Options struct {
	Port  int  `json:"port"`
	Pprof bool `json:"pprof"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// the client went away mid-write; nothing to do
		_ = err
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// NewMux builds the API routes for the given robot.
func NewMux(r *robot.Robot) *goji.Mux {
	mux := goji.NewMux()

	mux.HandleFunc(pat.Get("/api/status"), func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, r.Status(req.Context()))
	})

	mux.HandleFunc(pat.Get("/api/path"), func(w http.ResponseWriter, req *http.Request) {
		points := r.PathGeoPoints()
		out := make([]latLng, 0, len(points))
		for _, p := range points {
			out = append(out, latLng{Lat: p.Lat(), Lng: p.Lng()})
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc(pat.Post("/api/mow"), func(w http.ResponseWriter, req *http.Request) {
		if err := r.StartMowing(req.Context()); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": r.State().String()})
	})

	mux.HandleFunc(pat.Post("/api/home"), func(w http.ResponseWriter, req *http.Request) {
		if err := r.ReturnHome(req.Context()); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": r.State().String()})
	})

	mux.HandleFunc(pat.Post("/api/clear"), func(w http.ResponseWriter, req *http.Request) {
		var err error
		switch r.State() {
		case robot.StateError:
			err = r.ClearError()
		case robot.StateEmergencyStop:
			err = r.ClearEmergency(req.Context())
		default:
			err = errors.Errorf("nothing to clear (%s)", r.State())
		}
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": r.State().String()})
	})

	return mux
}

// RunWeb serves the API until the context is done.
func RunWeb(ctx context.Context, r *robot.Robot, options Options, logger golog.Logger) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", options.Port))
	if err != nil {
		return err
	}

	mux := NewMux(r)
	if options.Pprof {
		mux.HandleFunc(pat.New("/debug/pprof/"), pprof.Index)
		mux.HandleFunc(pat.New("/debug/pprof/cmdline"), pprof.Cmdline)
		mux.HandleFunc(pat.New("/debug/pprof/profile"), pprof.Profile)
		mux.HandleFunc(pat.New("/debug/pprof/symbol"), pprof.Symbol)
		mux.HandleFunc(pat.New("/debug/pprof/trace"), pprof.Trace)
	}

	httpServer := &http.Server{
		Addr:           listener.Addr().String(),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Handler:        mux,
	}

	goutils.PanicCapturingGo(func() {
		<-ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			logger.Errorw("error shutting down", "error", err)
		}
	})

	logger.Debugw("serving", "url", fmt.Sprintf("http://%s", listener.Addr().String()))
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
