package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"sapo/internal/log"
)

// ControlPath is where the HTTP control channel is mounted.
const ControlPath = "/__gateway/message"

// maxMessageBytes bounds a control message body.
const maxMessageBytes = 1 << 20

// NewProxy returns a reverse proxy onto origin whose outbound requests go
// through rt, normally a Registration.
func NewProxy(origin *url.URL, rt http.RoundTripper, logger *log.Logger) *httputil.ReverseProxy {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentGateway)
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WarnContext(r.Context(), "Upstream request failed",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldError, err.Error())
			http.Error(w, "Bad gateway", http.StatusBadGateway)
		},
	}
}

// ControlHandler serves POST requests carrying a JSON Message. The reply, if
// the message type has one, is written as JSON; otherwise 202 is returned.
func ControlHandler(h MessageHandler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentGateway)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
		if err != nil {
			http.Error(w, "Cannot read body", http.StatusBadRequest)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			http.Error(w, "Invalid control message", http.StatusBadRequest)
			return
		}

		reply := make(chan Reply, 1)
		if err := h.HandleMessage(r.Context(), msg, reply); err != nil {
			logger.ErrorContext(r.Context(), "Control message failed",
				log.FieldMessageType, string(msg.Type),
				log.FieldError, err.Error())
			w.Header().Set("Retry-After", "30")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		select {
		case rep := <-reply:
			writeJSON(w, http.StatusOK, rep)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	})
}

// NewHandler mounts the control endpoint next to the caching proxy.
func NewHandler(origin *url.URL, reg *Registration, logger *log.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(ControlPath, ControlHandler(reg, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if reg.Active() == nil {
			http.Error(w, "no active generation", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/", NewProxy(origin, reg, logger))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
