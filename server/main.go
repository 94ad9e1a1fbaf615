// Setup & initialization of the relay server.

package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"runtime"

	gh "github.com/gorilla/handlers"
	"github.com/tinode/jsonco"

	"github.com/relaypad/relaypad/server/auth"
	"github.com/relaypad/relaypad/server/logs"
	"github.com/relaypad/relaypad/server/store"

	_ "github.com/relaypad/relaypad/server/db/mongodb"
	_ "github.com/relaypad/relaypad/server/db/mysql"
	_ "github.com/relaypad/relaypad/server/db/redis"
)

const (
	// Environment variable holding the URL-safe base64 HMAC signing key.
	// Provision it with the keygen utility.
	signingKeyEnv = "HMAC_KEY"

	// Default maximum size of a single inbound frame, bytes.
	defaultMaxMessageSize = 1 << 19 // 512K
)

var globals struct {
	// Topic registry and fanout.
	hub *Hub
	// Live sessions.
	sessionStore *SessionStore
	// Capability mint/verify.
	codec *auth.Codec

	// Maximum size of a single inbound frame.
	maxMessageSize int64
	// Trust the X-Forwarded-For header for client addresses.
	useXForwardedFor bool
	// Strict-Transport-Security max age, as a string; empty disables HSTS.
	tlsStrictMaxAge string

	// Channel for async expvar updates.
	statsUpdate chan *varUpdate
}

type configType struct {
	// Address:port to listen on.
	Listen string `json:"listen"`
	// URL path for exposing runtime stats, disabled if empty.
	Expvar string `json:"expvar"`
	// URL path for exposing Prometheus metrics, disabled if empty.
	Metrics string `json:"metrics"`
	// Maximum size of an inbound frame, bytes.
	MaxMessageSize int64 `json:"max_message_size"`
	// Enable websocket per message compression.
	WSCompression bool `json:"ws_compression"`
	// Trust the X-Forwarded-For header.
	UseXForwardedFor bool `json:"use_x_forwarded_for"`
	// Optional 16-byte key for making session IDs opaque. Random when
	// absent, which is fine unless IDs must be stable across restarts.
	SidKey []byte `json:"sid_key"`
	// TLS configuration, see http.go.
	TLS json.RawMessage `json:"tls"`
	// Snapshot storage configuration, see store.go.
	StoreConfig json.RawMessage `json:"store_config"`
}

func main() {
	logs.Init(os.Stderr, log.LstdFlags|log.Lshortfile)
	logs.Info.Printf("server pid=%d started with processes: %d",
		os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	configfile := flag.String("config", "./relaypad.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override address and port to listen on.")
	flag.Parse()

	logs.Info.Printf("using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatal("failed to read config file:", err)
	} else {
		// jsonco strips comments so the config can be annotated.
		jr := jsonco.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			logs.Err.Fatal("failed to parse config file:", err)
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}

	// The signing key comes from the environment, not the config file, so
	// the config can be checked in without the secret. Missing key is fatal:
	// minting unverifiable pairs helps no one.
	codec, err := auth.NewCodec(os.Getenv(signingKeyEnv))
	if err != nil {
		logs.Err.Fatalf("%s: %s; generate one with the keygen utility", signingKeyEnv, err)
	}
	globals.codec = codec

	if err := store.Open(config.StoreConfig); err != nil {
		logs.Err.Fatal("failed to open snapshot store:", err)
	}
	defer func() {
		store.Close()
		logs.Info.Println("closed snapshot store")
	}()
	logs.Info.Println("snapshot store:", store.GetAdapterName())

	globals.maxMessageSize = config.MaxMessageSize
	globals.useXForwardedFor = config.UseXForwardedFor
	upgrader.EnableCompression = config.WSCompression

	globals.hub = newHub()
	globals.sessionStore, err = NewSessionStore(globals.hub, config.SidKey)
	if err != nil {
		logs.Err.Fatal("failed to init session store:", err)
	}
	statsRegisterInt("LiveSessions")
	statsRegisterInt("TopicsMintedTotal")

	mux := http.NewServeMux()
	mux.HandleFunc("/", serve404)
	mux.Handle("/api/topics", gh.CompressHandler(http.HandlerFunc(serveTopicCreate)))
	mux.Handle("/api/topics/", gh.CompressHandler(http.HandlerFunc(serveTopic)))
	statsInit(mux, config.Expvar)
	statsInitPrometheus(mux, config.Metrics)

	if err := listenAndServe(hstsHandler(mux), config.Listen, config.TLS, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
	logs.Info.Println("all done, good bye")
}
