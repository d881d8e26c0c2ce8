/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization of the relay server.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"runtime"

	"github.com/gorilla/handlers"
	jcr "github.com/tinode/jsonco"

	"github.com/veilchat/relay/server/logs"
)

const (
	// currentVersion is the version of the relay, reported at startup and
	// over the stats endpoint.
	currentVersion = "0.4"

	// Default maximum size of a single inbound frame. Must comfortably fit
	// a base64-encoded file chunk. Can be overridden in the config.
	defaultMaxMessageSize = 1 << 20 // 1 MB
)

var globals struct {
	// Live sessions and the friendship relation between them.
	sessionStore *SessionStore

	// Maximum size of a single inbound frame.
	maxMessageSize int64

	// Value of the Strict-Transport-Security header, empty if disabled.
	tlsStrictMaxAge string

	// Channel of async stats updates.
	statsUpdate chan *varUpdate
}

type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// URL path the websocket endpoint is served at.
	WSPath string `json:"ws_path"`
	// URL path for exposing runtime stats, "-" to disable.
	ExpvarPath string `json:"expvar"`
	// URL path for internal profiling, "-" to disable.
	PprofPath string `json:"pprof_url"`
	// Write HTTP access log to stdout.
	AccessLog bool `json:"access_log"`
	// Maximum size of a single inbound frame in bytes.
	MaxMessageSize int64 `json:"max_message_size"`
	// Logger flags, comma separated.
	LogFlags string `json:"log_flags"`
	// TLS configuration.
	TLS *TlsConfig `json:"tls"`
}

func main() {
	executable, _ := os.Executable()

	var configfile = flag.String("config", "relay.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on.")
	flag.Parse()

	config := configType{
		Listen:         ":8765",
		WSPath:         "/ws",
		ExpvarPath:     "/stats/expvar",
		PprofPath:      "-",
		MaxMessageSize: defaultMaxMessageSize,
		LogFlags:       "stdFlags",
	}

	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatal("Failed to read config file: ", err)
	} else if err = json.NewDecoder(jcr.New(file)).Decode(&config); err != nil {
		logs.Err.Fatal("Failed to parse config file: ", err)
	} else {
		file.Close()
	}

	logs.Init(os.Stderr, config.LogFlags)
	logs.Info.Printf("Server v%s pid=%d started with processes: %d; %s",
		currentVersion, os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()), executable)
	logs.Info.Printf("Using config from '%s'", *configfile)

	if *listenOn != "" {
		config.Listen = *listenOn
	}

	globals.sessionStore = NewSessionStore()
	globals.maxMessageSize = config.MaxMessageSize
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.WSPath, serveWebSocket)
	mux.HandleFunc("/health", serveHealth)
	mux.HandleFunc("/", serveHealth)

	statsInit(mux, config.ExpvarPath)
	statsRegisterInt("Version")
	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("IncomingMessagesWebsockTotal")
	statsRegisterInt("OutgoingMessagesWebsockTotal")
	statsRegisterInt("RoutedMessagesTotal")
	statsRegisterInt("RejectedMessagesTotal")
	statsRegisterInt("IgnoredMessagesTotal")
	statsRegisterInt("MalformedMessagesTotal")
	statsRegisterInt("FriendshipsTotal")
	statsSet("Version", base10Version(parseVersion(currentVersion)))

	servePprof(mux, config.PprofPath)

	handler := http.Handler(mux)
	if config.AccessLog {
		handler = handlers.CombinedLoggingHandler(os.Stdout, handler)
	}

	if err := listenAndServe(config.Listen, handler, config.TLS, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
	logs.Info.Println("All done, good bye")
}
