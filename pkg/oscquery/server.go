package oscquery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hypebeast/go-osc/osc"

	"github.com/rnbo-oscquery/runner/pkg/model"
	"github.com/rnbo-oscquery/runner/pkg/tree"
)

// Config fixes the two listening addresses per spec.md §6: TCP 1234 for the
// OSCQuery HTTP/WS control plane, UDP 5678 for OSC value traffic.
type Config struct {
	HTTPAddr string
	OSCAddr  string
	HTTPPort uint16
	OSCPort  uint16
}

// DefaultConfig matches spec.md's fixed ports.
func DefaultConfig() Config {
	return Config{HTTPAddr: ":1234", OSCAddr: ":5678", HTTPPort: 1234, OSCPort: 5678}
}

// ListenerStore is the subset of pkg/store used to persist OSC UDP listener
// registrations.
type ListenerStore interface {
	ListenerList() ([]model.Listener, error)
}

// Server is the OSCQuery control-plane: HTTP tree introspection, WebSocket
// value-change push, and a UDP OSC listener/sender for value get/set.
type Server struct {
	tree      *tree.Tree
	listeners ListenerStore
	cfg       Config
	log       logr.Logger

	router   *mux.Router
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]struct{}

	oscDispatcher *osc.StandardDispatcher
	oscSrv        *osc.Server

	clientsMu  sync.Mutex
	oscClients map[string]*osc.Client
}

// New constructs a Server bound to t. Incoming OSC messages read and write
// parameters through t directly; the controller is responsible for wiring
// value-changed callbacks back into Publish.
func New(t *tree.Tree, listeners ListenerStore, cfg Config, log logr.Logger) *Server {
	return &Server{
		tree:       t,
		listeners:  listeners,
		cfg:        cfg,
		log:        log.WithName("oscquery"),
		wsClients:  map[*websocket.Conn]struct{}{},
		oscClients: map[string]*osc.Client{},
	}
}

// Start begins serving HTTP and OSC; both listeners run in background
// goroutines and Start returns immediately.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/{path:.*}", s.handleHTTP)
	s.router = r
	s.httpSrv = &http.Server{Addr: s.cfg.HTTPAddr, Handler: r}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "oscquery http server stopped")
		}
	}()

	s.oscDispatcher = osc.NewStandardDispatcher()
	if err := s.oscDispatcher.AddMsgHandler("*", s.handleOSCMessage); err != nil {
		return fmt.Errorf("register osc handler: %w", err)
	}
	s.oscSrv = &osc.Server{Addr: s.cfg.OSCAddr, Dispatcher: s.oscDispatcher}
	go func() {
		if err := s.oscSrv.ListenAndServe(); err != nil {
			s.log.Error(err, "oscquery osc server stopped")
		}
	}()
	return nil
}

// Stop closes the HTTP server and the WebSocket clients; the OSC UDP server
// is not stopped.
func (s *Server) Stop() error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Close()
	}
	s.wsMu.Lock()
	for c := range s.wsClients {
		c.Close()
	}
	s.wsMu.Unlock()
	return err
}

// handleHTTP serves either a WebSocket upgrade or a plain OSCQuery JSON GET,
// matching the teacher's handlePingRequest dual-mode handler.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(mux.Vars(r)["path"], "/")

	if r.Header.Get("Connection") == "Upgrade" && r.Header.Get("Upgrade") == "websocket" {
		s.handleWebSocket(w, r)
		return
	}

	if r.URL.Query().Has("HOST_INFO") {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hostInfo{
			Name:         "rnbo-oscquery-runner",
			OSCPort:      int(s.cfg.OSCPort),
			OSCTransport: "UDP",
			OSCQueryWS:   true,
		})
		return
	}

	node, ok := s.tree.Lookup(path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projectNode(node, true))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "unable to upgrade to websocket")
		return
	}

	s.wsMu.Lock()
	s.wsClients[c] = struct{}{}
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, c)
		s.wsMu.Unlock()
		c.Close()
	}()

	for {
		_, _, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error(err, "websocket read error")
			}
			return
		}
	}
}

// Publish pushes a value change for path to every connected WebSocket
// client and to every registered OSC UDP listener.
func (s *Server) Publish(path string, value interface{}) {
	s.broadcastWS(path, value)
	s.sendOSC(path, value)
}

func (s *Server) broadcastWS(path string, value interface{}) {
	body, err := json.Marshal(struct {
		FullPath string        `json:"FULL_PATH"`
		Value    []interface{} `json:"VALUE"`
	}{FullPath: "/" + path, Value: []interface{}{value}})
	if err != nil {
		return
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for c := range s.wsClients {
		if err := c.WriteMessage(websocket.TextMessage, body); err != nil {
			go c.Close()
			delete(s.wsClients, c)
		}
	}
}

func (s *Server) sendOSC(path string, value interface{}) {
	listeners, err := s.listeners.ListenerList()
	if err != nil {
		return
	}
	msg := osc.NewMessage("/" + path)
	appendOSCArg(msg, value)

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for _, l := range listeners {
		key := fmt.Sprintf("%s:%d", l.IP, l.Port)
		client, ok := s.oscClients[key]
		if !ok {
			client = osc.NewClient(l.IP, int(l.Port))
			s.oscClients[key] = client
		}
		if err := client.Send(msg); err != nil {
			s.log.V(1).Info("osc send failed", "listener", key, "err", err)
		}
	}
}

func appendOSCArg(msg *osc.Message, value interface{}) {
	switch v := value.(type) {
	case float64:
		msg.Append(float32(v))
	case float32:
		msg.Append(v)
	case int:
		msg.Append(int32(v))
	case int32:
		msg.Append(v)
	case int64:
		msg.Append(int32(v))
	case bool:
		msg.Append(v)
	case string:
		msg.Append(v)
	case []interface{}:
		for _, e := range v {
			appendOSCArg(msg, e)
		}
	}
}

// handleOSCMessage routes an inbound OSC message to the matching tree
// parameter, ignoring unknown paths, get-only params and messages without
// arguments. Self-loop listeners are refused by IsSelfLoop when a listener
// is added, not here.
func (s *Server) handleOSCMessage(msg *osc.Message) {
	path := strings.TrimPrefix(msg.Address, "/")
	node, ok := s.tree.Lookup(path)
	if !ok || node.Param == nil {
		return
	}
	if node.Param.Access == tree.AccessGet {
		return
	}
	if len(msg.Arguments) == 0 {
		return
	}
	node.Param.Set(node, fromOSCArg(msg.Arguments[0]))
}

func fromOSCArg(arg interface{}) interface{} {
	switch v := arg.(type) {
	case float32:
		return float64(v)
	case int32:
		return int(v)
	default:
		return v
	}
}

// IsSelfLoop reports whether (ip, port) would register a listener pointed at
// this server's own control or value port over loopback.
func IsSelfLoop(ip string, port uint16, cfg Config) bool {
	if ip != "127.0.0.1" && ip != "::1" {
		return false
	}
	return port == cfg.HTTPPort || port == cfg.OSCPort
}
