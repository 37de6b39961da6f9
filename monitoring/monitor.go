// Package monitoring turns a running simulation into a small HTTP server
// that reports the clock and lifecycle state and can stop the run.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// Monitor serves the state of registered simulators. Handlers only call
// Now, State and Stop on a simulator; everything else is collected by a
// hook on the simulator's own goroutine.
type Monitor struct {
	portNumber int

	mu      sync.Mutex
	sims    map[string]*watched
	order   []string
	current *watched
}

type watched struct {
	sim         *sim.Simulator
	dispatched  atomic.Uint64
	warmedUp    atomic.Bool
	ended       atomic.Bool
	replication atomic.Value // string
}

// Func implements sim.Hook.
func (w *watched) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosReset:
		w.dispatched.Store(0)
		w.warmedUp.Store(false)
		w.ended.Store(false)
	case sim.HookPosAfterEvent:
		w.dispatched.Add(1)
	case sim.HookPosWarmup:
		w.warmedUp.Store(true)
	case sim.HookPosReplicationEnd:
		w.ended.Store(true)
	case sim.HookPosStateChange:
		if rep := w.sim.Replication(); rep != nil {
			w.replication.Store(rep.Name())
		}
	}
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{sims: make(map[string]*watched)}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random one.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}
	m.portNumber = portNumber
	return m
}

// RegisterSimulator starts watching s and makes it the current simulator.
// It must be called before s is initialized so the hook sees every event.
func (m *Monitor) RegisterSimulator(s *sim.Simulator) {
	w := &watched{sim: s}
	w.replication.Store("")
	s.AcceptHook(w)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sims[s.Name()]; !ok {
		m.order = append(m.order, s.Name())
	}
	m.sims[s.Name()] = w
	m.current = w
}

// Router returns the HTTP routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/now", m.now).Methods(http.MethodGet)
	r.HandleFunc("/api/state", m.state).Methods(http.MethodGet)
	r.HandleFunc("/api/stop", m.stop).Methods(http.MethodPost)
	r.HandleFunc("/api/simulators", m.listSimulators).Methods(http.MethodGet)
	r.HandleFunc("/api/simulators/{name}", m.state).Methods(http.MethodGet)
	r.HandleFunc("/api/simulators/{name}/stop", m.stop).Methods(http.MethodPost)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	return r
}

// StartServer listens on the configured port and serves in the background.
// It returns the URL of the server.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("monitor listen on %s: %w", actualPort, err)
	}

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		if err := http.Serve(listener, m.Router()); err != nil {
			logrus.Errorf("monitor server stopped: %v", err)
		}
	}()
	return url, nil
}

func (m *Monitor) lookup(w http.ResponseWriter, r *http.Request) *watched {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, ok := mux.Vars(r)["name"]
	if !ok {
		if m.current == nil {
			http.Error(w, "no simulator registered", http.StatusNotFound)
		}
		return m.current
	}
	ws, found := m.sims[name]
	if !found {
		http.Error(w, fmt.Sprintf("simulator %q not found", name), http.StatusNotFound)
		return nil
	}
	return ws
}

type nowRsp struct {
	Now int64 `json:"now"`
}

type stateRsp struct {
	Name        string `json:"name"`
	Replication string `json:"replication"`
	State       string `json:"state"`
	Now         int64  `json:"now"`
	Dispatched  uint64 `json:"dispatched"`
	WarmedUp    bool   `json:"warmed_up"`
	Ended       bool   `json:"ended"`
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func snapshot(ws *watched) stateRsp {
	return stateRsp{
		Name:        ws.sim.Name(),
		Replication: ws.replication.Load().(string),
		State:       ws.sim.State().String(),
		Now:         int64(ws.sim.Now()),
		Dispatched:  ws.dispatched.Load(),
		WarmedUp:    ws.warmedUp.Load(),
		Ended:       ws.ended.Load(),
	}
}

func (m *Monitor) now(w http.ResponseWriter, r *http.Request) {
	ws := m.lookup(w, r)
	if ws == nil {
		return
	}
	writeJSON(w, http.StatusOK, nowRsp{Now: int64(ws.sim.Now())})
}

func (m *Monitor) state(w http.ResponseWriter, r *http.Request) {
	ws := m.lookup(w, r)
	if ws == nil {
		return
	}
	writeJSON(w, http.StatusOK, snapshot(ws))
}

func (m *Monitor) listSimulators(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	sims := make([]*watched, 0, len(names))
	for _, n := range names {
		sims = append(sims, m.sims[n])
	}
	m.mu.Unlock()

	rsp := make([]stateRsp, 0, len(sims))
	for _, ws := range sims {
		rsp = append(rsp, snapshot(ws))
	}
	sort.SliceStable(rsp, func(i, j int) bool { return rsp[i].Name < rsp[j].Name })
	writeJSON(w, http.StatusOK, rsp)
}

func (m *Monitor) stop(w http.ResponseWriter, r *http.Request) {
	ws := m.lookup(w, r)
	if ws == nil {
		return
	}
	if err := ws.sim.Stop(); err != nil {
		if errors.Is(err, sim.ErrState) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot(ws))
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resourceRsp{CPUPercent: cpuPercent, MemorySize: memory.RSS})
}

// collectProfile samples the CPU for ?duration= (default 1s) and returns the
// parsed profile.
func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if d := r.URL.Query().Get("duration"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil || parsed < 0 {
			http.Error(w, fmt.Sprintf("bad duration %q", d), http.StatusBadRequest)
			return
		}
		duration = parsed
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	time.Sleep(duration)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logrus.Debugf("monitor: writing response: %v", err)
	}
}
