package main

import (
	"io"

	"github.com/QuangTung97/metaspace"
	"github.com/QuangTung97/metaspace/allocator"
	"github.com/QuangTung97/metaspace/workload"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var simConf = workload.DefaultConfig()

var (
	simCommitLimit   uint64
	simMmap          bool
	simNoVerify      bool
	simUnloadAll     bool
	simReclaim       bool
	simDump          bool
	simGranuleWords  uint64
	simUncommitFrees bool
)

func init() {
	cmd := newSimulateCmd()
	flags := cmd.Flags()
	flags.Int64Var(&simConf.Seed, "seed", simConf.Seed, "Random seed")
	flags.IntVar(&simConf.Steps, "steps", simConf.Steps, "Number of allocation steps")
	flags.IntVar(&simConf.MaxLoaders, "loaders", simConf.MaxLoaders, "Maximum number of live class loaders")
	flags.Uint64Var(&simConf.MaxBlockWords, "max-block-words", simConf.MaxBlockWords, "Largest block allocated in one step")
	flags.Var(&simConf.ClassRatio, "class-ratio", "Share of allocations in class space, as n/d")
	flags.Var(&simConf.UnloadRatio, "unload-ratio", "Chance per step to unload the least recently used loader, as n/d")
	flags.Var(&simConf.GCRatio, "gc-ratio", "Share of loaders unloaded when an allocation fails, as n/d")
	flags.BoolVar(&simConf.ReclaimAfterGC, "reclaim-after-gc", simConf.ReclaimAfterGC, "Reclaim memory after unloading loaders")
	flags.Uint64Var(&simCommitLimit, "commit-limit-words", 0, "Commit limit shared by both spaces, 0 for unlimited")
	flags.Uint64Var(&simGranuleWords, "granule-words", 0, "Commit granule in words")
	flags.BoolVar(&simUncommitFrees, "uncommit-free-chunks", true, "Uncommit returned chunks of at least one granule")
	flags.BoolVar(&simMmap, "mmap", false, "Back the spaces with reserved address space")
	flags.BoolVar(&simNoVerify, "no-verify", false, "Skip verification after every step")
	flags.BoolVar(&simUnloadAll, "unload-all", false, "Unload all loaders after the run")
	flags.BoolVar(&simReclaim, "reclaim", false, "Run a wholesale reclaim after the run and print the reports")
	flags.BoolVar(&simDump, "dump", false, "Print nodes, commit masks and free lists")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a random class loader workload",
		Long: `The simulate command creates a metaspace, lets class loaders allocate
from their arenas, unloads them now and then, and prints the free chunk
statistics of both spaces.

Example:
  msctl simulate --steps 100000 --commit-limit-words 1048576
  msctl simulate --config metaspace.yaml --unload-all --reclaim
  msctl simulate --json --dump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd)
		},
	}
	return cmd
}

func loadMetaspaceConfig(cmd *cobra.Command) (metaspace.Config, error) {
	conf := metaspace.DefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = metaspace.LoadConfigFile(configPath); err != nil {
			return metaspace.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("commit-limit-words") {
		conf.CommitLimitWords = simCommitLimit
	}
	if flags.Changed("granule-words") {
		conf.Settings.CommitGranuleWords = simGranuleWords
	}
	if flags.Changed("uncommit-free-chunks") {
		conf.Settings.UncommitFreeChunks = simUncommitFrees
	}
	if flags.Changed("mmap") {
		conf.UseMmap = simMmap
	}
	conf.Settings.VerifyOperations = !simNoVerify
	conf.Settings.Logger = newLogger(cmd.ErrOrStderr())

	return conf, conf.Validate()
}

func runSimulate(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	conf, err := loadMetaspaceConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "config")
	}
	ms, err := metaspace.New(conf)
	if err != nil {
		return err
	}

	wconf := simConf
	wconf.Verify = !simNoVerify
	wconf.Logger = conf.Settings.Logger

	runner, err := workload.NewRunner(ms, wconf)
	if err != nil {
		return err
	}
	result, err := runner.Run()
	if err != nil {
		return err
	}
	if simUnloadAll {
		runner.UnloadAll()
		result = runner.Result()
	}

	var reports []allocator.ReclaimReport
	if simReclaim {
		reports = ms.WholesaleReclaim()
	}
	if err := ms.Verify(); err != nil {
		return errors.Wrap(err, "verify after run")
	}

	if jsonOut {
		return writeSimulateJSON(out, ms, result, reports)
	}
	writeSimulateText(out, ms, result, reports)
	return nil
}

func writeSimulateText(w io.Writer, ms *metaspace.Metaspace, result workload.Result, reports []allocator.ReclaimReport) {
	if quiet {
		return
	}
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "steps: %d, allocations: %d (%d words), deallocations: %d, failed: %d\n",
		result.Steps, result.Allocations, result.AllocatedWords, result.Deallocations, result.FailedAllocations)
	p.Fprintf(w, "loaders: %d created, %d unloaded, %d live, %d GCs\n",
		result.LoadersCreated, result.LoadersUnloaded, result.LiveLoaders, result.GCs)
	p.Fprintf(w, "reserved: %d words, committed: %d words\n", ms.ReservedWords(), ms.CommittedWords())

	for _, c := range ms.Contexts() {
		p.Fprintf(w, "\nfree chunks of %s space:\n", c.Name())
		stats := c.Statistics()
		stats.PrintOn(w)
	}

	for i, r := range reports {
		p.Fprintf(w, "\nreclaim %s:\n%s\n", ms.Contexts()[i].Name(), r)
	}

	if simDump {
		p.Fprintf(w, "\n")
		ms.PrintOn(w)
	}
}

func writeSimulateJSON(w io.Writer, ms *metaspace.Metaspace, result workload.Result, reports []allocator.ReclaimReport) error {
	jw := jwriter.NewWriter()
	obj := jw.Object()

	res := obj.Name("result").Object()
	res.Name("steps").Int(result.Steps)
	res.Name("allocations").Int(result.Allocations)
	res.Name("allocatedWords").Int(int(result.AllocatedWords))
	res.Name("deallocations").Int(result.Deallocations)
	res.Name("failedAllocations").Int(result.FailedAllocations)
	res.Name("loadersCreated").Int(result.LoadersCreated)
	res.Name("loadersUnloaded").Int(result.LoadersUnloaded)
	res.Name("liveLoaders").Int(result.LiveLoaders)
	res.Name("gcs").Int(result.GCs)
	res.End()

	if simDump {
		m := obj.Name("metaspace").Object()
		ms.PrintDetailedMap(m)
		m.End()
	}

	if reports != nil {
		arr := obj.Name("reclaim").Array()
		for i, r := range reports {
			ro := arr.Object()
			ro.Name("space").String(ms.Contexts()[i].Name())
			r.WriteJSON(ro)
			ro.End()
		}
		arr.End()
	}
	obj.End()

	if err := jw.Error(); err != nil {
		return errors.Wrap(err, "write json")
	}
	if _, err := w.Write(append(jw.Bytes(), '\n')); err != nil {
		return errors.Wrap(err, "write json")
	}
	return nil
}
