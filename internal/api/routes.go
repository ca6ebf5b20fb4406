package api

import (
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tahcohcat/vocalize-web/internal/observe"
)

// Routes collects the handlers mounted by NewRouter. History, Events and
// Metrics may be nil.
type Routes struct {
	Speech  *SpeechHandler
	Catalog *CatalogHandler
	History *HistoryHandler
	Events  http.Handler
	Metrics *observe.Metrics

	StaticDir    string
	TemplatesDir string
}

func NewRouter(routes Routes) *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover)
	if routes.Metrics != nil {
		r.Use(observe.Middleware(routes.Metrics))
	}

	routes.Speech.RegisterRoutes(r)
	routes.Catalog.RegisterRoutes(r)
	if routes.History != nil {
		routes.History.RegisterRoutes(r)
	}
	if routes.Events != nil {
		r.Handle("/ws", routes.Events).Methods("GET")
	}
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if routes.StaticDir != "" {
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(routes.StaticDir))))
	}

	index := filepath.Join(routes.TemplatesDir, "index.html")
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	}).Methods("GET")

	return r
}
