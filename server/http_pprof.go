// Debug tooling. Dumps named profile in response to HTTP request at
//
//	http(s)://<host-name>/<configured-path>/<profile-name>
//
// See godoc for the list of possible profile names: https://golang.org/pkg/runtime/pprof/#Profile

package main

import (
	"net/http"
	"path"
	"runtime/pprof"
	"strings"

	"github.com/veilchat/relay/server/logs"
)

var pprofHTTPRoot string

// Expose debug profiling at the given URL path.
func servePprof(mux *http.ServeMux, serveAt string) {
	if serveAt == "" || serveAt == "-" {
		return
	}

	pprofHTTPRoot = path.Clean("/"+serveAt) + "/"
	mux.HandleFunc(pprofHTTPRoot, profileHandler)

	logs.Info.Printf("pprof: profiling info exposed at '%s'", pprofHTTPRoot)
}

func profileHandler(wrt http.ResponseWriter, req *http.Request) {
	wrt.Header().Set("X-Content-Type-Options", "nosniff")
	wrt.Header().Set("Content-Type", "text/plain; charset=utf-8")

	profileName := strings.TrimPrefix(req.URL.Path, pprofHTTPRoot)

	profile := pprof.Lookup(profileName)
	if profile == nil {
		wrt.Header().Set("X-Go-Pprof", "1")
		http.Error(wrt, "Unknown profile '"+profileName+"'", http.StatusNotFound)
		return
	}

	// Respond with the requested profile.
	profile.WriteTo(wrt, 2)
}
