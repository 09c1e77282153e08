// Package api assembles the relay's REST + WebSocket surface: trade group
// and member CRUD for the UI, connection/runtime introspection, and the
// event stream mutating endpoints push onto.
package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay/internal/api/handlers"
	"relay/internal/api/middleware"
	"relay/internal/api/ws"
	"relay/internal/config"
	"relay/internal/relaylog"
)

// Dependencies wires every service the HTTP surface talks to.
type Dependencies struct {
	Store     interface {
		handlers.TradeGroupStore
		handlers.MemberStore
		handlers.RuntimePortsStore
	}
	Conns  handlers.ConnManager
	Eval   handlers.Evaluator
	Config handlers.ConfigPublisher
	Hub    *ws.Hub
	Cfg    *config.Config
	Log    *relaylog.Logger
}

// SetupRoutes builds the full mux.Router: global middleware, the /api
// CRUD surface, the /ws event stream, /health, /metrics, and debug/pprof
// behind HTTP Basic Auth.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Log))
	router.Use(middleware.Logging(deps.Log))
	router.Use(middleware.CORS(deps.Cfg.Security.CORSAllowedOrigins))

	connHandler := handlers.NewConnectionsHandler(deps.Conns)
	tradeGroupsHandler := handlers.NewTradeGroupsHandler(deps.Store, deps.Eval, deps.Config, deps.Hub, deps.Log)
	membersHandler := handlers.NewMembersHandler(deps.Store, deps.Eval, deps.Config, deps.Hub, deps.Log)
	runtimeHandler := handlers.NewRuntimeHandler(deps.Store, prometheus.DefaultGatherer)

	apiRouter := router.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/connections", connHandler.GetConnections).Methods("GET")

	apiRouter.HandleFunc("/trade-groups", tradeGroupsHandler.ListTradeGroups).Methods("GET")
	apiRouter.HandleFunc("/trade-groups/{master}", tradeGroupsHandler.GetTradeGroup).Methods("GET")
	apiRouter.HandleFunc("/trade-groups/{master}", tradeGroupsHandler.UpdateTradeGroup).Methods("PUT")
	apiRouter.HandleFunc("/trade-groups/{master}/toggle", tradeGroupsHandler.ToggleTradeGroup).Methods("POST")
	apiRouter.HandleFunc("/trade-groups/{master}", tradeGroupsHandler.DeleteTradeGroup).Methods("DELETE")

	apiRouter.HandleFunc("/trade-groups/{master}/members", membersHandler.ListMembers).Methods("GET")
	apiRouter.HandleFunc("/trade-groups/{master}/members", membersHandler.CreateMember).Methods("POST")
	apiRouter.HandleFunc("/trade-groups/{master}/members/{slave}", membersHandler.UpdateMember).Methods("PUT")
	apiRouter.HandleFunc("/trade-groups/{master}/members/{slave}/toggle", membersHandler.ToggleMember).Methods("POST")
	apiRouter.HandleFunc("/trade-groups/{master}/members/{slave}", membersHandler.DeleteMember).Methods("DELETE")

	apiRouter.HandleFunc("/runtime-status-metrics", runtimeHandler.GetRuntimeStatusMetrics).Methods("GET")
	apiRouter.HandleFunc("/runtime-ports", runtimeHandler.GetRuntimePorts).Methods("GET")

	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(deps.Hub, deps.Cfg.Security.CORSAllowedOrigins, deps.Log, w, r)
	}).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	debugAuth := middleware.DebugAuth(deps.Cfg.Security.DebugUsername, deps.Cfg.Security.DebugPasswordHash)
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(debugAuth)
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("heap").ServeHTTP(w, r) })
	debug.HandleFunc("/goroutine", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("goroutine").ServeHTTP(w, r) })
	debug.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("block").ServeHTTP(w, r) })
	debug.HandleFunc("/threadcreate", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("threadcreate").ServeHTTP(w, r) })
	debug.HandleFunc("/mutex", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("mutex").ServeHTTP(w, r) })
	debug.HandleFunc("/allocs", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("allocs").ServeHTTP(w, r) })

	router.Handle("/debug/runtime", debugAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{`))
		w.Write([]byte(`"goroutines":` + itoa(runtime.NumGoroutine()) + `,`))
		w.Write([]byte(`"heap_alloc_mb":` + ftoa(float64(m.HeapAlloc)/1024/1024) + `,`))
		w.Write([]byte(`"heap_sys_mb":` + ftoa(float64(m.HeapSys)/1024/1024) + `,`))
		w.Write([]byte(`"num_gc":` + itoa(int(m.NumGC)) + `,`))
		w.Write([]byte(`"gc_pause_total_ms":` + ftoa(float64(m.PauseTotalNs)/1e6)))
		w.Write([]byte(`}`))
	}))).Methods("GET")

	return router
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

func ftoa(f float64) string {
	i := int(f * 100)
	whole := i / 100
	frac := i % 100
	if frac < 0 {
		frac = -frac
	}
	fracStr := itoa(frac)
	if len(fracStr) == 1 {
		fracStr = "0" + fracStr
	}
	return itoa(whole) + "." + fracStr
}
