package handlers

import (
	"net/http"

	"faststream-proxy/work/proxy"

	"github.com/gorilla/mux"
)

func HandleHome(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleHome(w, r)
	}
}

func HandleSetVideo(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleSetVideo(w, r)
	}
}

func HandleVideo(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleVideo(w, r)
	}
}

func HandleFast(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleFast(w, r)
	}
}

func HandleProxyPath(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		sp.HandleProxyPath(w, r, vars["url"])
	}
}

func HandleMX(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleMX(w, r)
	}
}

func HandleIsolationStatus(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleIsolationStatus(w, r)
	}
}

func HandleHealth(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleHealth(w, r)
	}
}

func HandleKeepalive(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleKeepalive(w, r)
	}
}

// HandleNotFound is the router fallback for unknown paths.
func HandleNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proxy.RenderError(w, http.StatusNotFound, "Page Not Found", "The requested resource could not be found.")
	}
}
