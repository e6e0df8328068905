// Command taskforged is the process entry point: it wires a Master, N
// worker threads, a CommandThread servicing the control plane, and the
// HTTP/WebSocket control transport, grounded on the teacher's
// control_plane/main.go wiring style (env-var driven config, log.Printf
// progress lines, a startup banner, http.HandleFunc route registration).
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itskum47/taskforge/audit"
	"github.com/itskum47/taskforge/balancer"
	"github.com/itskum47/taskforge/control"
	"github.com/itskum47/taskforge/control/transport"
	"github.com/itskum47/taskforge/observability"
	"github.com/itskum47/taskforge/runtime"
	"github.com/itskum47/taskforge/topology"
)

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	nThreads := envInt("TASKFORGE_THREADS", 4)
	httpAddr := os.Getenv("TASKFORGE_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":7070"
	}

	observability.Enable()
	master := runtime.NewMaster(nThreads)

	var coord audit.Coordinator = audit.NoopCoordinator{}
	var elector *audit.LeaderElector
	if redisAddr := os.Getenv("TASKFORGE_REDIS_ADDR"); redisAddr != "" {
		rc, err := audit.NewRedisCoordinator(context.Background(), redisAddr, os.Getenv("TASKFORGE_REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatalf("taskforged: connecting to redis for leader election: %v", err)
		}
		coord = rc
		log.Printf("taskforged: using redis at %s for HA leader election", redisAddr)
	} else {
		log.Println("taskforged: no TASKFORGE_REDIS_ADDR set, running in standalone leader mode")
	}

	nodeID := os.Getenv("TASKFORGE_NODE_ID")
	if nodeID == "" {
		hostname, _ := os.Hostname()
		nodeID = hostname
	}
	elector = audit.NewLeaderElector(coord, "taskforge:leader", nodeID, 15*time.Second)

	var auditLog audit.Log = audit.NoopLog{}
	if pgDSN := os.Getenv("TASKFORGE_POSTGRES_DSN"); pgDSN != "" {
		pl, err := audit.NewPostgresLog(context.Background(), pgDSN)
		if err != nil {
			log.Fatalf("taskforged: connecting to postgres for audit log: %v", err)
		}
		defer pl.Close()
		auditLog = pl
		log.Println("taskforged: durable audit log enabled via postgres")
	} else {
		log.Println("taskforged: no TASKFORGE_POSTGRES_DSN set, audit entries are discarded")
	}

	queue := control.NewMsgQueue()
	ct := control.NewCommandThread(queue, 50, 100)
	ct.SetAuditLog(auditLog)

	routers := make(map[string]*topology.Router)
	registerHandlers(ct, master, routers, auditLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go elector.Run(ctx)
	go ct.Run(ctx)

	api := transport.NewAPI(queue, ct)
	hub := transport.NewMetricsHub(func() transport.MetricsSnapshot {
		return snapshotMetrics(master, routers)
	}, time.Second)
	go hub.Run(ctx)

	mux := api.Mux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/metrics", hub.ServeHTTP)

	fmt.Println("==================================================")
	fmt.Println("taskforge runtime starting")
	fmt.Println("==================================================")
	fmt.Printf("Worker threads:   %d\n", nThreads)
	fmt.Printf("HTTP address:     %s\n", httpAddr)
	fmt.Println("==================================================")

	server := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("taskforged: http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("taskforged: shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	for _, wt := range master.Threads() {
		wt.Stop()
	}
}

func snapshotMetrics(master *runtime.Master, routers map[string]*topology.Router) transport.MetricsSnapshot {
	cpuLoad := make(map[string]float64)
	for _, wt := range master.Threads() {
		var total float64
		for _, t := range wt.SchedList().Tasks() {
			total += t.TaskLoad()
		}
		cpuLoad[strconv.Itoa(wt.ID)] = total
	}
	var names []string
	for name := range routers {
		names = append(names, name)
	}
	return transport.MetricsSnapshot{Routers: names, CPULoad: cpuLoad, Timestamp: time.Now()}
}

// registerHandlers wires the control command table: addnf, delnf, movenf,
// move_reset_nf, balance, newbalance, randombalance, dividebalance,
// global, addthread (spec.md §4.3).
func registerHandlers(ct *control.CommandThread, master *runtime.Master, routers map[string]*topology.Router, auditLog audit.Log) {
	ct.Register("addthread", func(ctx context.Context, arg string) error {
		n := 1
		fmt.Sscanf(arg, "%d", &n)
		master.AddThreads(n)
		return nil
	})

	ct.Register("addnf", func(ctx context.Context, arg string) error {
		name, topo, ok := cutSpace(arg)
		if !ok {
			return control.ErrBadArg("addnf", arg)
		}
		r, err := topology.NewRouter(name, topo, master)
		if err != nil {
			return err
		}
		if err := master.RegisterRouter(r); err != nil {
			return err
		}
		routers[name] = r
		return nil
	})

	ct.Register("delnf", func(ctx context.Context, arg string) error {
		name := strings.TrimSpace(arg)
		r, err := master.UnregisterRouter(name)
		if err != nil {
			return err
		}
		for _, t := range r.Tasks() {
			master.Thread(t.HomeThreadID()).Pending().Push(t, runtime.OpKill, 0)
		}
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			for _, reaped := range master.ReapUnused() {
				if reaped.Name() == name {
					delete(routers, name)
					return nil
				}
			}
			time.Sleep(time.Millisecond)
		}
		return fmt.Errorf("taskforged: router %q did not drain in time", name)
	})

	ct.Register("movenf", func(ctx context.Context, arg string) error {
		pairs, err := parseMovePairs(arg)
		if err != nil {
			return control.ErrBadArg("movenf", arg)
		}
		for _, p := range pairs {
			if err := applyMove(routers, p); err != nil {
				return err
			}
		}
		return nil
	})

	ct.Register("move_reset_nf", func(ctx context.Context, arg string) error {
		fields := strings.Fields(arg)
		if len(fields) < 1 {
			return control.ErrBadArg("move_reset_nf", arg)
		}
		resetName := fields[0]
		pairs, err := parseMovePairs(strings.Join(fields[1:], " "))
		if err != nil {
			return control.ErrBadArg("move_reset_nf", arg)
		}
		for _, p := range pairs {
			if err := applyMove(routers, p); err != nil {
				return err
			}
		}
		routerName, elementName, ok := strings.Cut(resetName, ".")
		if !ok {
			return control.ErrBadArg("move_reset_nf", arg)
		}
		r, ok := routers[routerName]
		if !ok {
			return fmt.Errorf("taskforged: router %q not found", routerName)
		}
		r.ResetElement(elementName)
		return nil
	})

	// balance is the legacy entry point: its argument is ignored and it
	// always starts at thread 1, running the exact same rate-weighted
	// Global LPT pass newbalance runs (spec.md §4.3/§4.5 describe "legacy
	// global LPT" and "rate-weighted LPT" as the same algorithm; the two
	// commands differ only in whether the caller may pick the start
	// thread).
	ct.Register("balance", func(ctx context.Context, arg string) error {
		refreshRouterStats(routers)
		rs := routerInfos(routers)
		res, err := balancer.GlobalLPT(rs, 1, master.NThreads(), true)
		recordBalanceAudit(auditLog, "balance", res)
		return err
	})

	ct.Register("newbalance", func(ctx context.Context, arg string) error {
		start, err := parseStartThread(arg)
		if err != nil {
			return control.ErrBadArg("newbalance", arg)
		}
		refreshRouterStats(routers)
		rs := routerInfos(routers)
		res, err := balancer.GlobalLPT(rs, start, master.NThreads(), true)
		recordBalanceAudit(auditLog, "newbalance", res)
		return err
	})

	ct.Register("randombalance", func(ctx context.Context, arg string) error {
		start, err := parseStartThread(arg)
		if err != nil {
			return control.ErrBadArg("randombalance", arg)
		}
		refreshRouterStats(routers)
		rs := routerInfos(routers)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		res, err := balancer.Random(rs, start, master.NThreads(), true, rng)
		recordBalanceAudit(auditLog, "randombalance", res)
		return err
	})

	ct.Register("dividebalance", func(ctx context.Context, arg string) error {
		start, err := parseStartThread(arg)
		if err != nil {
			return control.ErrBadArg("dividebalance", arg)
		}
		refreshRouterStats(routers)
		rs := routerInfos(routers)
		res, err := balancer.DivideProportional(rs, start, master.NThreads(), true)
		recordBalanceAudit(auditLog, "dividebalance", res)
		return err
	})

	ct.Register("global", func(ctx context.Context, arg string) error {
		move, err := strconv.ParseBool(strings.TrimSpace(arg))
		if err != nil {
			return control.ErrBadArg("global", arg)
		}
		refreshRouterStats(routers)
		for name, r := range routers {
			if name == master.ControlRouter() {
				continue
			}
			if err := r.UpdateChain(move); err != nil {
				return err
			}
			appendAuditEntry(auditLog, audit.Entry{
				Kind:   "balance",
				Router: name,
				Detail: fmt.Sprintf("global chain-balance move=%v", move),
			})
		}
		return nil
	})
}

// refreshRouterStats pulls fresh rate/cycle statistics through every
// router's TopologyModel before a balance run, so the balancer sorts and
// partitions on current task_load rather than whatever was last set at
// startup or by the previous balance (spec.md §2: the control path pulls
// rate/cycle statistics through each router's TopologyModel before
// invoking a balancer).
func refreshRouterStats(routers map[string]*topology.Router) {
	for _, r := range routers {
		r.UpdateInfo(r.SrcRate())
	}
}

// recordBalanceAudit appends a durable "balance" Entry summarizing a
// balancer run's before/after metrics (spec.md §3b/§4.5: report old and
// new balance metric σ).
func recordBalanceAudit(auditLog audit.Log, algorithm string, res balancer.Result) {
	appendAuditEntry(auditLog, audit.Entry{
		Kind:    "balance",
		Router:  algorithm,
		Detail:  fmt.Sprintf("sigma %.2f->%.2f load %.2f->%.2f moves=%d", res.SigmaBefore, res.SigmaAfter, res.LoadBefore, res.LoadAfter, len(res.Assignments)),
		Outcome: "ok",
	})
}

func appendAuditEntry(auditLog audit.Log, e audit.Entry) {
	if e.Outcome == "" {
		e.Outcome = "ok"
	}
	e.CreatedAt = time.Now()
	if err := auditLog.Append(context.Background(), e); err != nil {
		log.Printf("taskforged: appending audit entry (kind=%s router=%s): %v", e.Kind, e.Router, err)
	}
}

func routerInfos(routers map[string]*topology.Router) []topology.Info {
	out := make([]topology.Info, 0, len(routers))
	for _, r := range routers {
		out = append(out, r)
	}
	return out
}

// cutSpace splits addnf's argument into the router name and the remaining
// topology configuration text on the first space.
func cutSpace(arg string) (name, rest string, ok bool) {
	return strings.Cut(strings.TrimSpace(arg), " ")
}

// movePair is one `router.element target_thread` pair parsed from a movenf
// or move_reset_nf argument.
type movePair struct {
	router, element string
	target          int
}

// parseMovePairs parses whitespace-separated `router.element target_thread`
// pairs (spec.md §4.3 movenf).
func parseMovePairs(arg string) ([]movePair, error) {
	fields := strings.Fields(arg)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil, fmt.Errorf("taskforged: expected router.element target_thread pairs, got %q", arg)
	}
	pairs := make([]movePair, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		routerName, elementName, ok := strings.Cut(fields[i], ".")
		if !ok {
			return nil, fmt.Errorf("taskforged: expected router.element, got %q", fields[i])
		}
		target, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("taskforged: bad target thread %q: %w", fields[i+1], err)
		}
		pairs = append(pairs, movePair{router: routerName, element: elementName, target: target})
	}
	return pairs, nil
}

func applyMove(routers map[string]*topology.Router, p movePair) error {
	r, ok := routers[p.router]
	if !ok {
		return fmt.Errorf("taskforged: router %q not found", p.router)
	}
	for _, t := range r.Tasks() {
		if t.ElementID == p.element {
			r.MoveTask(t, p.target)
			return nil
		}
	}
	return fmt.Errorf("taskforged: task %q not found in router %q", p.element, p.router)
}

// parseStartThread parses the leading integer argument shared by newbalance,
// randombalance, and dividebalance (spec.md §4.3).
func parseStartThread(arg string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(arg))
}
