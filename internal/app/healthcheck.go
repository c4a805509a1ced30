package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// statusReport is the body served by /status.
type statusReport struct {
	Measure string `json:"measure,omitempty"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Engine  string `json:"engine"`
	Running bool   `json:"running"`
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Status endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	report := a.statusReport()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		a.logger.Warn("Status not written.", "error", err)
	}
}

func (a *App) statusReport() statusReport {
	report := statusReport{Status: "IDLE", Engine: a.config.Engine}
	c := a.Controller()
	if c == nil {
		return report
	}
	status, message := c.Status()
	report.Status = status.String()
	report.Message = message
	report.Running = c.Engine().Running()
	if m := c.Measure(); m != nil {
		report.Measure = m.Name
		report.ID = m.ID.String()
	}
	return report
}

func (a *App) healthcheckMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", a.statusHandler)
	return mux
}

// startHealthcheckServer runs the health check HTTP server in the background.
func (a *App) startHealthcheckServer(ctx context.Context, port int) {
	a.logger.Debug("Configuring health check server.")
	addr := fmt.Sprintf(":%d", port)
	a.httpServer = &http.Server{
		Addr:        addr,
		Handler:     a.healthcheckMux(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		a.logger.Info("Health check server starting.", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Health check server failed unexpectedly.", "error", err)
		}
	}()
}

func (a *App) closeHealthcheckServer(ctx context.Context) {
	if a.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	a.logger.Debug("Shutting down health check server.")
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Health check server shutdown failed.", "error", err)
	}
}
