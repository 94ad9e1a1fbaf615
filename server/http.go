// Web server initialization and shutdown.

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/relaypad/relaypad/server/logs"
)

type tlsConfig struct {
	// Flag enabling TLS.
	Enabled bool `json:"enabled"`
	// Listen on port 80 and redirect plain HTTP to HTTPS.
	RedirectHTTP string `json:"http_redirect"`
	// Enable Strict-Transport-Security by setting max_age > 0.
	StrictMaxAge int `json:"strict_max_age"`
	// ACME autocert config, e.g. letsencrypt.org.
	Autocert *tlsAutocertConfig `json:"autocert"`
	// If Autocert is not defined, provide file names of static certificate and key.
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

type tlsAutocertConfig struct {
	// Domains to support by autocert.
	Domains []string `json:"domains"`
	// Name of directory where auto-certificates are cached.
	CertCache string `json:"cache"`
	// Contact email for letsencrypt.
	Email string `json:"email"`
}

func listenAndServe(handler http.Handler, addr string, tlsRaw json.RawMessage, stop <-chan bool) error {
	var tlsConf tlsConfig
	if len(tlsRaw) > 0 {
		if err := json.Unmarshal(tlsRaw, &tlsConf); err != nil {
			return errors.New("http: failed to parse tls config: " + err.Error())
		}
	}

	shuttingDown := false
	httpdone := make(chan bool)

	server := &http.Server{Addr: addr, Handler: handler}
	if tlsConf.Enabled {
		if tlsConf.StrictMaxAge > 0 {
			globals.tlsStrictMaxAge = strconv.Itoa(tlsConf.StrictMaxAge)
		}

		// If port is not specified, use the default https port.
		if server.Addr == "" {
			server.Addr = ":https"
		}

		server.TLSConfig = &tls.Config{}
		if tlsConf.Autocert != nil {
			certManager := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(tlsConf.Autocert.Domains...),
				Cache:      autocert.DirCache(tlsConf.Autocert.CertCache),
				Email:      tlsConf.Autocert.Email,
			}
			server.TLSConfig.GetCertificate = certManager.GetCertificate
			if tlsConf.CertFile != "" || tlsConf.KeyFile != "" {
				logs.Warn.Println("http: using autocert, static cert and key files are ignored")
				tlsConf.CertFile = ""
				tlsConf.KeyFile = ""
			}
		} else if tlsConf.CertFile == "" || tlsConf.KeyFile == "" {
			return errors.New("http: missing certificate or key file names")
		}
	}

	go func() {
		var err error
		if tlsConf.Enabled {
			if tlsConf.RedirectHTTP != "" {
				logs.Info.Printf("http: redirecting connections from [%s] to [%s]",
					tlsConf.RedirectHTTP, server.Addr)
				go http.ListenAndServe(tlsConf.RedirectHTTP, tlsRedirect(addr))
			}
			logs.Info.Printf("http: listening for HTTPS connections on [%s]", server.Addr)
			err = server.ListenAndServeTLS(tlsConf.CertFile, tlsConf.KeyFile)
		} else {
			logs.Info.Printf("http: listening for HTTP connections on [%s]", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil {
			if shuttingDown {
				logs.Info.Println("http: stopped")
			} else {
				logs.Err.Println("http: failed", err)
			}
		}
		httpdone <- true
	}()

loop:
	for {
		select {
		case <-stop:
			// Terminating: close the Accept-ing socket so no new
			// connections are possible, then unwind.
			shuttingDown = true
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := server.Shutdown(ctx); err != nil {
				cancel()
				return err
			}
			cancel()

			// Wait for the server to stop Accept()-ing connections.
			<-httpdone

			// Terminate all sessions.
			globals.sessionStore.Shutdown()

			// Shutdown the hub and wait for it to finish.
			hubdone := make(chan bool)
			globals.hub.shutdown <- hubdone
			<-hubdone

			statsShutdown()

			break loop

		case <-httpdone:
			break loop
		}
	}
	return nil
}

func signalHandler() <-chan bool {
	stop := make(chan bool)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		// Wait for a signal. Don't care which signal it is.
		sig := <-signchan
		logs.Info.Printf("signal received: '%s', shutting down", sig)
		stop <- true
	}()

	return stop
}

// Wrapper for http.Handler which optionally adds a Strict-Transport-Security
// header to the response.
func hstsHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		if globals.tlsStrictMaxAge != "" {
			wrt.Header().Set("Strict-Transport-Security", "max-age="+globals.tlsStrictMaxAge)
		}
		handler.ServeHTTP(wrt, req)
	})
}

func serve404(wrt http.ResponseWriter, req *http.Request) {
	http.Error(wrt, "Not Found", http.StatusNotFound)
}

// Redirect HTTP requests to HTTPS.
func tlsRedirect(toPort string) http.HandlerFunc {
	if toPort == ":443" || toPort == ":https" {
		toPort = ""
	}
	return func(wrt http.ResponseWriter, req *http.Request) {
		target := "https://" + strings.Split(req.Host, ":")[0] + toPort + req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		http.Redirect(wrt, req, target, http.StatusTemporaryRedirect)
	}
}
