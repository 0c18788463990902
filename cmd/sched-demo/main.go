package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"

	"kcore/pkg/arch"
	"kcore/pkg/config"
	"kcore/pkg/klog"
	"kcore/pkg/process"
	"kcore/pkg/procfs"
)

var defaultProcesses = []config.ProcessSpec{
	{Name: "shell", Cwd: "/home"},
	{Name: "compiler", Pgid: 10, CPU: 0},
	{Name: "linker", Pgid: 10, CPU: 1},
	{Name: "indexer", Pgid: 20, Priority: 120, CPU: 1},
	{Name: "backup", Pgid: 20, Priority: 130, CPU: 0},
}

func main() {
	configPath := flag.String("config", "", "path to a JSON scheduler configuration")
	ticks := flag.Int("ticks", 0, "timer ticks per CPU (overrides the configuration)")
	cpus := flag.Int("cpus", 0, "number of CPUs (overrides the configuration)")
	flag.Parse()

	cfg, err := config.LoadSchedConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *ticks > 0 {
		cfg.Ticks = *ticks
	}
	if *cpus > 0 {
		cfg.NumCPU = *cpus
	}
	if len(cfg.Processes) == 0 {
		cfg.Processes = defaultProcesses
	}

	logger, closer, err := klog.Init(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("demo failed", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.SchedConfig, logger *slog.Logger) error {
	fmt.Println("=== Scheduling Core Demo ===")
	fmt.Println()

	machine, err := arch.NewMachine(cfg.NumCPU)
	if err != nil {
		return err
	}
	machine.OnTrap(func(cpu arch.CPUID) {
		logger.Debug("cpu kicked", "cpu", cpu)
	})

	fs := procfs.NewRegistry()
	m, err := process.NewProcessManager(process.ManagerConfig{
		TimeSliceJiffies: cfg.TimeSliceJiffies,
		Machine:          machine,
		ProcFS:           fs,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	process.SetDefault(m)
	m.Init()
	fmt.Printf("Booted %d CPUs, time slice %d jiffies\n", m.NumCPU(), cfg.TimeSliceJiffies)

	initPCB, err := m.NewProcess(0, &process.CreateConfig{Name: "init"})
	if err != nil {
		return fmt.Errorf("create init: %w", err)
	}
	defer initPCB.Put()
	if err := m.Wakeup(initPCB); err != nil {
		return err
	}

	fmt.Println("\n--- Process Creation ---")
	var procs []*process.ProcessControlBlock
	defer func() {
		for _, p := range procs {
			p.Put()
		}
	}()
	for _, spec := range cfg.Processes {
		p, err := spawn(m, spec)
		if err != nil {
			return err
		}
		procs = append(procs, p)
		cpu, _ := p.OnCPU()
		fmt.Printf("Created %-10s pid=%d pgid=%d cpu=%d priority=%d\n",
			spec.Name, p.Pid(), p.Basic().Pgid(), cpu, p.Priority())
	}

	fmt.Println("\n--- Running ---")
	d := &driver{m: m, init: initPCB, ticks: cfg.Ticks, logger: logger}
	var wg sync.WaitGroup
	for cpu := range m.NumCPU() {
		wg.Add(1)
		go func(cpu arch.CPUID) {
			defer wg.Done()
			d.loop(cpu)
		}(arch.CPUID(cpu))
	}
	wg.Wait()

	// Whoever is still asleep gets woken so the report shows them runnable.
	d.wq.WakeupAll(m, nil)

	report(m, fs, append([]*process.ProcessControlBlock{initPCB}, procs...))
	return nil
}

func spawn(m *process.ProcessManager, spec config.ProcessSpec) (*process.ProcessControlBlock, error) {
	prio := process.SchedPriority(0)
	if spec.Priority != 0 {
		var err error
		if prio, err = process.NewSchedPriority(spec.Priority); err != nil {
			return nil, fmt.Errorf("process %q: %w", spec.Name, err)
		}
	}

	p, err := m.NewProcess(0, &process.CreateConfig{
		Name:     spec.Name,
		Cwd:      spec.Cwd,
		Priority: prio,
		Pinned:   true,
		CPU:      arch.CPUID(spec.CPU % m.NumCPU()),
	})
	if err != nil {
		return nil, fmt.Errorf("process %q: %w", spec.Name, err)
	}

	if spec.Pgid != 0 {
		if err := m.SetPgid(p.Pid(), process.Pid(spec.Pgid)); err != nil {
			p.Put()
			return nil, fmt.Errorf("process %q: %w", spec.Name, err)
		}
	}
	if err := m.Wakeup(p); err != nil {
		p.Put()
		return nil, err
	}
	return p, nil
}

// driver runs the timer loop of every CPU and injects sleep, wakeup,
// migration and exit events along the way.
type driver struct {
	m      *process.ProcessManager
	init   *process.ProcessControlBlock
	ticks  int
	logger *slog.Logger
	wq     process.WaitQueue
}

func (d *driver) loop(cpu arch.CPUID) {
	for tick := 1; tick <= d.ticks; tick++ {
		d.m.TimerTick(cpu)

		if cpu != 0 {
			continue
		}
		switch tick {
		case d.ticks / 4:
			d.sleepCurrent(cpu)
		case d.ticks / 3:
			d.migrateCurrent(cpu)
		case d.ticks / 2:
			d.exitCurrent(cpu)
		case 3 * d.ticks / 4:
			n := d.wq.WakeupAll(d.m, nil)
			d.logger.Info("woke sleepers", "cpu", cpu, "count", n)
		}
	}
}

func (d *driver) current(cpu arch.CPUID) *process.ProcessControlBlock {
	cur := d.m.CurrentPCB(cpu)
	if cur == nil || cur.Pid() <= process.InitPid {
		return nil
	}
	return cur
}

func (d *driver) sleepCurrent(cpu arch.CPUID) {
	cur := d.current(cpu)
	if cur == nil {
		return
	}
	pid := cur.Pid()
	if err := d.m.SleepOn(cpu, &d.wq, true); err != nil {
		d.logger.Warn("sleep failed", "pid", pid, "error", err)
		return
	}
	d.logger.Info("process sleeping", "pid", pid, "cpu", cpu)
}

func (d *driver) migrateCurrent(cpu arch.CPUID) {
	if d.m.NumCPU() < 2 {
		return
	}
	cur := d.current(cpu)
	if cur == nil {
		return
	}
	target := arch.CPUID(d.m.NumCPU() - 1)
	if err := d.m.Migrate(cur, target); err != nil {
		d.logger.Warn("migration failed", "pid", cur.Pid(), "error", err)
		return
	}
	d.m.Kick(cpu, cur)
}

// exitCurrent makes the process running on cpu exit. Exit never returns, so
// it runs on its own goroutine while this CPU's loop waits.
func (d *driver) exitCurrent(cpu arch.CPUID) {
	cur := d.current(cpu)
	if cur == nil {
		return
	}
	pid := cur.Pid()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.m.Exit(cpu, 0)
	}()
	<-done

	code, err := d.m.ReapChild(d.init, pid)
	if err != nil {
		d.logger.Warn("reap failed", "pid", pid, "error", err)
		return
	}
	d.logger.Info("child reaped", "pid", pid, "code", code)
}

func report(m *process.ProcessManager, fs *procfs.Registry, procs []*process.ProcessControlBlock) {
	fmt.Println("\n--- Processes ---")
	fmt.Printf("%-5s %-10s %-5s %-4s %-26s %s\n", "PID", "NAME", "PGID", "CPU", "STATE", "VRUNTIME")
	for _, p := range procs {
		b := p.Basic()
		cpu, _ := p.OnCPU()
		fmt.Printf("%-5d %-10s %-5d %-4d %-26s %d\n",
			p.Pid(), b.Name(), b.Pgid(), cpu, p.State(), p.VirtualRuntime())
	}

	fmt.Println("\n--- CPUs ---")
	for cpu := range m.NumCPU() {
		c := arch.CPUID(cpu)
		cur := m.CurrentPCB(c)
		fmt.Printf("cpu%d: switches=%d kicks=%d running=%d queued=%d\n",
			cpu, m.Machine().Switches(c), m.Machine().Kicks(c), cur.Pid(), m.RootScheduler().RunnableLen(c))
	}

	fmt.Println("\n--- Process Groups ---")
	for _, pgid := range m.ProcessGroups().Groups() {
		members, _ := m.ProcessGroups().GetGroupByPgid(pgid)
		fmt.Printf("pgid %d: %v\n", pgid, members)
	}
	fmt.Printf("\nprocfs entries: %d\n", fs.Len())
}
