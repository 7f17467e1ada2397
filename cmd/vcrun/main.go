// vcrun - host for the VavoomC object runtime
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vavoomc/config"
	"github.com/chazu/vavoomc/server"
	"github.com/chazu/vavoomc/vm"
	"github.com/chazu/vavoomc/vm/persist"
)

func main() {
	configPath := flag.String("config", "", "Path to vavoomc.toml (default: search upward from the working directory)")
	verbose := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	spawn := flag.String("spawn", "", "Comma-separated classes to spawn and root")
	saveSlot := flag.String("save", "", "Save the object graph to this slot before exiting")
	loadSlot := flag.String("load", "", "Restore the object graph from this slot at startup")
	listSlots := flag.Bool("slots", false, "List save slots and exit")
	gcStats := flag.Bool("gcstats", false, "Run a full collection and print statistics")
	serveMode := flag.Bool("serve", false, "Serve diagnostics (Connect HTTP/JSON and gRPC)")
	addr := flag.String("addr", "", "Connect listen address (overrides [server] addr)")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address (disabled when empty)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vcrun [options]\n\n")
		fmt.Fprintf(os.Stderr, "Loads the classes declared in vavoomc.toml into a fresh runtime.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vcrun -spawn Player,Weapon -save slot1   # Build a graph and save it\n")
		fmt.Fprintf(os.Stderr, "  vcrun -load slot1 -gcstats               # Restore and collect\n")
		fmt.Fprintf(os.Stderr, "  vcrun -load slot1 -serve -grpc-addr :7421\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	verbosity := cfg.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(verbosity, logPath)

	if *listSlots {
		if err := printSlots(cfg.DatabasePath()); err != nil {
			fatal(err)
		}
		return
	}

	rt, err := vm.New(cfg.Options()...)
	if err != nil {
		fatal(err)
	}
	specs, err := cfg.ClassSpecs(rt.Names)
	if err != nil {
		fatal(err)
	}
	if err := rt.Load(specs...); err != nil {
		fatal(err)
	}

	if err := run(rt, cfg, *loadSlot, *saveSlot, *spawn, *gcStats); err != nil {
		rt.Shutdown()
		fatal(err)
	}

	if *serveMode {
		serve(rt, cfg, *addr, *grpcAddr)
		return
	}

	rt.Shutdown()
}

// run restores, spawns, collects and saves as requested. The save store
// is closed before run returns, on every path.
func run(rt *vm.Runtime, cfg *config.Config, loadSlot, saveSlot, spawn string, gcStats bool) error {
	var store *persist.Store
	if loadSlot != "" || saveSlot != "" {
		var err error
		store, err = persist.OpenStore(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if loadSlot != "" {
		objs, err := store.Load(rt, loadSlot)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %d objects from %q\n", len(objs), loadSlot)
	}

	if spawn != "" {
		for _, name := range strings.Split(spawn, ",") {
			obj, err := rt.SpawnByName(strings.TrimSpace(name))
			if err != nil {
				return err
			}
			rt.AddRoot(obj)
			fmt.Printf("Spawned %s\n", obj)
		}
	}

	if gcStats {
		printStats(rt.CollectGarbage(true))
	}

	if saveSlot != "" {
		snap, err := store.Save(rt, saveSlot)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %d objects to %q\n", len(snap.Objects), saveSlot)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func serve(rt *vm.Runtime, cfg *config.Config, addr, grpcAddr string) {
	var opts []server.Option
	if cfg.GC.Interval != "" {
		interval, err := time.ParseDuration(cfg.GC.Interval)
		if err != nil {
			fatal(fmt.Errorf("gc.interval: %w", err))
		}
		opts = append(opts, server.WithCollectInterval(interval, true))
	}
	srv := server.New(rt, opts...)

	if addr == "" {
		addr = cfg.Server.Addr
	}
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			fatal(err)
		}
		go func() {
			if err := srv.ServeGRPC(lis); err != nil {
				fmt.Fprintf(os.Stderr, "gRPC server error: %v\n", err)
			}
		}()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		_, _ = srv.Worker().Do(func(rt *vm.Runtime) (any, error) {
			rt.Shutdown()
			return nil, nil
		})
		srv.Stop()
		os.Exit(0)
	}()

	if err := srv.ListenAndServe(addr); err != nil {
		fatal(err)
	}
}

func printSlots(dbPath string) error {
	store, err := persist.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	slots, err := store.Slots()
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Println("No save slots.")
		return nil
	}
	for _, s := range slots {
		fmt.Printf("%-20s %6d objects %8d bytes  %s\n", s.Slot, s.Objects, s.Size, s.SavedAt.Format(time.RFC3339))
	}
	return nil
}

func printStats(s vm.GCStats) {
	fmt.Println(statsLine(s))
}

func statsLine(s vm.GCStats) string {
	return fmt.Sprintf("GC: %d alive, %d collected, %d marked, pool %d slots (%d allocated, first free %d), took %s",
		s.Alive, s.LastCollected, s.LastMarked, s.PoolSize, s.PoolAllocated, s.FirstFree, s.LastCollectDuration)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
