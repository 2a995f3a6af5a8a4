package devapi

import (
	"log"
	"net/http"

	"github.com/louisbranch/adminhub/internal/platform/httpx"
	"github.com/louisbranch/adminhub/internal/services/devapi/storage"
)

type handler struct {
	store  storage.Store
	logger *log.Logger
}

// NewHandler returns the REST handler over store, wrapped with request id,
// request logging and panic recovery.
func NewHandler(store storage.Store, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{store: store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /changes", h.listChanges)
	mux.HandleFunc("GET /{resource}", h.listRecords)
	mux.HandleFunc("POST /{resource}", h.createRecord)
	mux.HandleFunc("GET /{resource}/{id}", h.getRecord)
	mux.HandleFunc("PATCH /{resource}/{id}", h.updateRecord)
	mux.HandleFunc("PUT /{resource}/{id}", h.replaceRecord)
	mux.HandleFunc("DELETE /{resource}/{id}", h.deleteRecord)
	mux.HandleFunc("GET /{parent}/{parentId}/{child}", h.listNested)
	mux.HandleFunc("POST /{parent}/{parentId}/{child}", h.createNested)

	return httpx.Chain(mux,
		httpx.RequestID(),
		httpx.RequestLogger(logger),
		httpx.RecoverPanic(logger),
	)
}
