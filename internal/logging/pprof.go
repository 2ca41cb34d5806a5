package logging

import (
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof handlers on DefaultServeMux
)

const pprofAddr = "localhost:6060"

func startPprof() {
	go func() {
		log := ForComponent(CompCLI)
		log.Info("pprof_listen", slog.String("addr", pprofAddr))
		if err := http.ListenAndServe(pprofAddr, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("pprof_failed", slog.String("error", err.Error()))
		}
	}()
}
